// internal/services/analysis_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/utils"
)

// AnalysisBackend is the slice of the backend client the analysis service needs.
type AnalysisBackend interface {
	StartAnalysis(ctx context.Context, req *models.StartAnalysisRequest) (*models.StartAnalysisResponse, error)
	AnalysisStatus(ctx context.Context, analysisID string) (*models.AnalysisStatusResponse, error)
	ListAnalyses(ctx context.Context, status models.AnalysisStatus, limit int) (*models.AnalysisList, error)
	GroupedDetails(ctx context.Context, analysisID string, q models.ResultsQuery) (*models.AnalysisResults, error)
	GroupRecords(ctx context.Context, analysisID string, q models.GroupRecordsQuery) (*models.GroupRecords, error)
	FullFilters(ctx context.Context, analysisID string) (*models.AnalysisFilters, error)
	RestartFullAnalysis(ctx context.Context, analysisID string) error
	Export(ctx context.Context, analysisID, format string) (*models.ExportedReport, error)
	DownloadTasks(ctx context.Context, analysisID string) ([]models.DownloadTask, error)
	CreateDownloadTask(ctx context.Context, analysisID, format string) (*models.DownloadTask, error)
}

type AnalysisService struct {
	backend          AnalysisBackend
	interval         time.Duration
	maxDuration      time.Duration
	downloadInterval time.Duration
}

// AnalysisOutcome is the terminal observation of a generation run.
type AnalysisOutcome struct {
	AnalysisID string                `json:"analysis_id"`
	TaskID     string                `json:"task_id"`
	Status     models.AnalysisStatus `json:"status"`
	Detail     string                `json:"detail,omitempty"`
}

var exportFormats = map[string]bool{"csv": true, "xlsx": true, "pdf": true, "docx": true}

func NewAnalysisService(backend AnalysisBackend, cfg *config.Config) *AnalysisService {
	return &AnalysisService{
		backend:          backend,
		interval:         cfg.Polling.AnalysisInterval,
		maxDuration:      cfg.Polling.AnalysisMaxDuration,
		downloadInterval: cfg.Polling.DownloadInterval,
	}
}

func (s *AnalysisService) StartAnalysis(ctx context.Context, req *models.StartAnalysisRequest) (*models.StartAnalysisResponse, error) {
	if len(req.ProductCodes) == 0 {
		return nil, apperrors.NewValidationError("product_codes", "at least one product code is required")
	}
	for i, code := range req.ProductCodes {
		req.ProductCodes[i] = strings.ToUpper(strings.TrimSpace(code))
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, utils.AsValidationError(err)
	}

	resp, err := s.backend.StartAnalysis(ctx, req)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"analysis_id":   resp.AnalysisID,
		"task_id":       resp.TaskID,
		"product_codes": req.ProductCodes,
		"order_id":      req.OrderID,
	}).Info("Analysis started")

	return resp, nil
}

func (s *AnalysisService) PollStatus(ctx context.Context, analysisID string) (*models.AnalysisStatusResponse, error) {
	if strings.TrimSpace(analysisID) == "" {
		return nil, apperrors.NewValidationError("analysis_id", "analysis id is required")
	}
	return s.backend.AnalysisStatus(ctx, analysisID)
}

// WaitForCompletion polls the analysis status until it leaves Generating. Attempts
// are strictly sequential and the loop gives up once the configured deadline passes.
func (s *AnalysisService) WaitForCompletion(ctx context.Context, analysisID string) (*models.AnalysisStatusResponse, error) {
	if s.maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.maxDuration)
		defer cancel()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("analysis %s still generating after %s: %w", analysisID, s.maxDuration, ctx.Err())
			}
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
		status, err := s.backend.AnalysisStatus(ctx, analysisID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll analysis %s: %w", analysisID, err)
		}

		logrus.WithFields(logrus.Fields{
			"analysis_id": analysisID,
			"attempt":     attempt,
			"status":      status.Status,
		}).Debug("Analysis status polled")

		if status.Status.Terminal() {
			return status, nil
		}
		timer.Reset(s.interval)
	}
}

// StartAndPoll starts an analysis and blocks until the backend reports a terminal status.
func (s *AnalysisService) StartAndPoll(ctx context.Context, req *models.StartAnalysisRequest) (*AnalysisOutcome, error) {
	started, err := s.StartAnalysis(ctx, req)
	if err != nil {
		return nil, err
	}

	status, err := s.WaitForCompletion(ctx, started.AnalysisID)
	if err != nil {
		return &AnalysisOutcome{AnalysisID: started.AnalysisID, TaskID: started.TaskID}, err
	}

	return &AnalysisOutcome{
		AnalysisID: started.AnalysisID,
		TaskID:     started.TaskID,
		Status:     status.Status,
		Detail:     status.Detail,
	}, nil
}

// AnalysisPage is one page of grouped results plus clamped progress.
type AnalysisPage struct {
	*models.AnalysisResults
	Progress models.Progress     `json:"progress"`
	Query    models.ResultsQuery `json:"query"`
}

func (s *AnalysisService) GetAnalysisResults(ctx context.Context, analysisID string, q models.ResultsQuery) (*AnalysisPage, error) {
	q = q.Normalized()
	results, err := s.backend.GroupedDetails(ctx, analysisID, q)
	if err != nil {
		return nil, err
	}
	return &AnalysisPage{
		AnalysisResults: results,
		Progress:        results.Progress(),
		Query:           q,
	}, nil
}

func (s *AnalysisService) GetGroupRecords(ctx context.Context, analysisID string, q models.GroupRecordsQuery) (*models.GroupRecords, error) {
	if err := utils.ValidateStruct(&q); err != nil {
		return nil, utils.AsValidationError(err)
	}
	return s.backend.GroupRecords(ctx, analysisID, q)
}

func (s *AnalysisService) GetFilters(ctx context.Context, analysisID string) (*models.AnalysisFilters, error) {
	return s.backend.FullFilters(ctx, analysisID)
}

// RestartAnalysis resets the backend's progress counters for the same analysis id.
func (s *AnalysisService) RestartAnalysis(ctx context.Context, analysisID string) error {
	if err := s.backend.RestartFullAnalysis(ctx, analysisID); err != nil {
		return err
	}
	logrus.WithField("analysis_id", analysisID).Info("Analysis restarted")
	return nil
}

func (s *AnalysisService) ExportReport(ctx context.Context, analysisID, format string) (*models.ExportedReport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	if !exportFormats[format] {
		return nil, apperrors.NewValidationError("format", fmt.Sprintf("unsupported export format %q", format))
	}
	return s.backend.Export(ctx, analysisID, format)
}

// HasCompletedAnalysis reports whether the caller owns at least one completed analysis.
func (s *AnalysisService) HasCompletedAnalysis(ctx context.Context) (bool, error) {
	list, err := s.backend.ListAnalyses(ctx, models.AnalysisStatusCompleted, 1)
	if err != nil {
		return false, err
	}
	return list.Total > 0 || len(list.Results) > 0, nil
}

func (s *AnalysisService) ListDownloadTasks(ctx context.Context, analysisID string) ([]models.DownloadTask, error) {
	return s.backend.DownloadTasks(ctx, analysisID)
}

func (s *AnalysisService) CreateDownloadTask(ctx context.Context, analysisID, format string) (*models.DownloadTask, error) {
	return s.backend.CreateDownloadTask(ctx, analysisID, format)
}

// WaitForDownloadTasks polls while any download task is non-terminal. onProgress,
// when set, receives every intermediate listing.
func (s *AnalysisService) WaitForDownloadTasks(ctx context.Context, analysisID string, onProgress func([]models.DownloadTask)) ([]models.DownloadTask, error) {
	interval := s.downloadInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}

	for {
		tasks, err := s.backend.DownloadTasks(ctx, analysisID)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(tasks)
		}
		if !anyTaskPending(tasks) {
			return tasks, nil
		}

		select {
		case <-ctx.Done():
			return tasks, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func anyTaskPending(tasks []models.DownloadTask) bool {
	for _, task := range tasks {
		if !task.Status.Terminal() {
			return true
		}
	}
	return false
}
