// internal/handlers/analysis.go
package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/i18n"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/services"
	"github.com/javajoker/pha-gateway/internal/utils"
)

const (
	watchBuffer    = 8
	watchKeepalive = 15 * time.Second
)

type AnalysisHandler struct {
	analysis *services.AnalysisService
	payments *services.PaymentService
	storage  *services.StorageService
	config   *config.Config
}

func NewAnalysisHandler(analysis *services.AnalysisService, payments *services.PaymentService, storage *services.StorageService, cfg *config.Config) *AnalysisHandler {
	return &AnalysisHandler{
		analysis: analysis,
		payments: payments,
		storage:  storage,
		config:   cfg,
	}
}

type DownloadTaskRequest struct {
	Format string `json:"format" validate:"omitempty,oneof=csv xlsx pdf docx"`
}

// GET /analyses/:id/status
func (h *AnalysisHandler) GetStatus(c *gin.Context) {
	status, err := h.analysis.PollStatus(requestContext(c), c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, status)
}

// GET /analyses/:id/results
func (h *AnalysisHandler) GetResults(c *gin.Context) {
	q, ok := bindResultsQuery(c)
	if !ok {
		return
	}

	page, err := h.analysis.GetAnalysisResults(requestContext(c), c.Param("id"), q)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, page)
}

// GET /analyses/:id/group-records
func (h *AnalysisHandler) GetGroupRecords(c *gin.Context) {
	var q models.GroupRecordsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}

	records, err := h.analysis.GetGroupRecords(requestContext(c), c.Param("id"), q)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, records)
}

// GET /analyses/:id/filters
func (h *AnalysisHandler) GetFilters(c *gin.Context) {
	filters, err := h.analysis.GetFilters(requestContext(c), c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, filters)
}

// POST /analyses/:id/restart
func (h *AnalysisHandler) Restart(c *gin.Context) {
	if err := h.analysis.RestartAnalysis(requestContext(c), c.Param("id")); err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, utils.APIResponse{Success: true, Data: gin.H{"analysis_id": c.Param("id")}})
}

// GET /analyses/:id/results/watch streams result snapshots as server-sent events
// until the analysis settles or the client goes away.
func (h *AnalysisHandler) WatchResults(c *gin.Context) {
	q, ok := bindResultsQuery(c)
	if !ok {
		return
	}
	analysisID := c.Param("id")

	updates := make(chan services.ResultsSnapshot, watchBuffer)
	view := services.NewResultsView(h.analysis, h.config)
	defer view.Close()
	view.OnUpdate(func(snapshot services.ResultsSnapshot) {
		// Drop the oldest pending snapshot rather than block the poller
		for {
			select {
			case updates <- snapshot:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})

	ctx := requestContext(c)
	first, err := view.Open(ctx, analysisID, q)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if q.Page > 1 {
		if snapshot, err := view.SetPage(q.Page); err == nil && snapshot != nil {
			first = snapshot
		}
	}

	maxDuration := h.config.Polling.ResultsMaxDuration
	if maxDuration <= 0 {
		maxDuration = 30 * time.Minute
	}
	deadline := time.NewTimer(maxDuration + time.Minute)
	defer deadline.Stop()
	keepalive := time.NewTicker(watchKeepalive)
	defer keepalive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	// Open and SetPage also deliver their snapshot through OnUpdate
	var sentVersion uint64
	sentFirst := false
	c.Stream(func(w io.Writer) bool {
		if !sentFirst {
			sentFirst = true
			if first != nil {
				sentVersion = first.Version
				c.SSEvent("results", first)
				return !watchDone(*first)
			}
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			c.SSEvent("timeout", gin.H{"analysis_id": analysisID})
			return false
		case <-keepalive.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case snapshot := <-updates:
			if alreadySent(snapshot, sentVersion) {
				return true
			}
			sentVersion = snapshot.Version
			c.SSEvent("results", snapshot)
			return !watchDone(snapshot)
		}
	})

	logrus.WithField("analysis_id", analysisID).Debug("Results watch ended")
}

// alreadySent reports whether snapshot repeats or predates one the stream has sent.
// Error snapshots keep the version of the last good page, so they always go out.
func alreadySent(snapshot services.ResultsSnapshot, sentVersion uint64) bool {
	return snapshot.Error == "" && snapshot.Version <= sentVersion
}

func watchDone(snapshot services.ResultsSnapshot) bool {
	return snapshot.Final || (snapshot.Error != "" && !snapshot.Polling)
}

// GET /analyses/:id/download re-checks payment before any report leaves the gateway.
func (h *AnalysisHandler) Download(c *gin.Context) {
	ctx := requestContext(c)
	analysisID := c.Param("id")

	if err := h.payments.CheckDownloadAccess(ctx, analysisID); err != nil {
		utils.RespondError(c, err)
		return
	}

	report, err := h.analysis.ExportReport(ctx, analysisID, c.Query("format"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	stored, err := h.storage.StoreReport(context.WithoutCancel(ctx), analysisID, report)
	if err != nil {
		logrus.WithError(err).WithField("analysis_id", analysisID).Error("Failed to store report")
		utils.InternalErrorResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyReportStoreFailed))
		return
	}

	if h.storage.UsesS3() {
		utils.SuccessResponse(c, stored)
		return
	}
	c.FileAttachment(stored.LocalPath, stored.Filename)
}

// GET /analyses/:id/download-tasks
func (h *AnalysisHandler) ListDownloadTasks(c *gin.Context) {
	ctx := requestContext(c)
	analysisID := c.Param("id")

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		timeout := h.config.Polling.ResultsMaxDuration
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		tasks, err := h.analysis.WaitForDownloadTasks(waitCtx, analysisID, nil)
		if err != nil && tasks == nil {
			utils.RespondError(c, err)
			return
		}
		utils.SuccessResponse(c, gin.H{"tasks": tasks, "pending": err != nil})
		return
	}

	tasks, err := h.analysis.ListDownloadTasks(ctx, analysisID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"tasks": tasks})
}

// POST /analyses/:id/download-tasks
func (h *AnalysisHandler) CreateDownloadTask(c *gin.Context) {
	ctx := requestContext(c)
	analysisID := c.Param("id")

	var req DownloadTaskRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	if req.Format == "" {
		req.Format = "xlsx"
	}

	if err := h.payments.CheckDownloadAccess(ctx, analysisID); err != nil {
		utils.RespondError(c, err)
		return
	}

	task, err := h.analysis.CreateDownloadTask(ctx, analysisID, req.Format)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.CreatedResponse(c, task)
}

func bindResultsQuery(c *gin.Context) (models.ResultsQuery, bool) {
	var q models.ResultsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return q, false
	}
	return q.Normalized(), true
}
