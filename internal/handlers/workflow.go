// internal/handlers/workflow.go
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/pha-gateway/internal/i18n"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/services"
	"github.com/javajoker/pha-gateway/internal/utils"
)

type WorkflowHandler struct {
	manager *services.WorkflowManager
}

func NewWorkflowHandler(manager *services.WorkflowManager) *WorkflowHandler {
	return &WorkflowHandler{manager: manager}
}

type DeviceNameRequest struct {
	DeviceName string `json:"device_name" validate:"notblank"`
}

type AnswerRequest struct {
	Answer *bool `json:"answer" validate:"required"`
}

type ProductCodeRequest struct {
	ProductCode string `json:"product_code"`
}

type IntendedUseRequest struct {
	IntendedUse string `json:"intended_use"`
}

type SearchRequest struct {
	Query      string            `json:"query" validate:"notblank"`
	SearchType models.SearchType `json:"search_type" validate:"omitempty,oneof=keywords product-code"`
}

// GenerateRequest never carries a payment bypass; first-time status is decided server-side.
type GenerateRequest struct {
	OrderID    string `json:"order_id"`
	CouponCode string `json:"coupon_code"`
}

// POST /workflows
func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	w, err := h.manager.Create(requestContext(c), userID, utils.GetLangFromContext(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.CreatedResponse(c, w.Snapshot())
}

// GET /workflows
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	sessions, total, err := h.manager.List(requestContext(c), userID, params)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(sessions, total, params))
}

// GET /workflows/:id
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, w.Snapshot())
}

// DELETE /workflows/:id
func (h *WorkflowHandler) DeleteWorkflow(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.NotFoundResponse(c, i18n.KeyWorkflowNotFound)
		return
	}

	if err := h.manager.Close(requestContext(c), userID, id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /workflows/:id/device-name
func (h *WorkflowHandler) SubmitDeviceName(c *gin.Context) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	var req DeviceNameRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(w.SubmitDeviceName(requestContext(c), req.DeviceName))
}

// POST /workflows/:id/product-code/answer
func (h *WorkflowHandler) AnswerProductCodeQuestion(c *gin.Context) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	var req AnswerRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(w.AnswerProductCodeQuestion(requestContext(c), *req.Answer))
}

// POST /workflows/:id/product-code
func (h *WorkflowHandler) SubmitProductCode(c *gin.Context) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	var req ProductCodeRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(w.SubmitProductCode(requestContext(c), req.ProductCode))
}

// POST /workflows/:id/intended-use/answer
func (h *WorkflowHandler) AnswerIntendedUseQuestion(c *gin.Context) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	var req AnswerRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(w.AnswerIntendedUseQuestion(requestContext(c), *req.Answer))
}

// POST /workflows/:id/intended-use
func (h *WorkflowHandler) SubmitIntendedUse(c *gin.Context) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	var req IntendedUseRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(w.SubmitIntendedUse(requestContext(c), req.IntendedUse))
}

// POST /workflows/:id/search
func (h *WorkflowHandler) SearchProducts(c *gin.Context) {
	h.search(c, (*services.Workflow).SearchProducts)
}

// POST /workflows/:id/retry-search
func (h *WorkflowHandler) RetrySearch(c *gin.Context) {
	h.search(c, (*services.Workflow).RetrySearch)
}

// POST /workflows/:id/new-search
func (h *WorkflowHandler) NewSearch(c *gin.Context) {
	h.search(c, (*services.Workflow).NewSearch)
}

// POST /workflows/:id/products/:productId/toggle
func (h *WorkflowHandler) ToggleProduct(c *gin.Context) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	h.respond(c)(w.ToggleProductSelection(requestContext(c), c.Param("productId")))
}

// POST /workflows/:id/generate
func (h *WorkflowHandler) GenerateReport(c *gin.Context) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	var req GenerateRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	result, err := w.GenerateReport(requestContext(c), services.GenerateOptions{
		OrderID:    req.OrderID,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	if result.Started {
		c.JSON(http.StatusAccepted, utils.APIResponse{
			Success: true,
			Data:    gin.H{"started": true, "workflow": w.Snapshot()},
		})
		return
	}
	utils.SuccessResponse(c, result)
}

type searchFunc func(w *services.Workflow, ctx context.Context, query string, searchType models.SearchType) (*services.WorkflowSnapshot, error)

func (h *WorkflowHandler) search(c *gin.Context, run searchFunc) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	var req SearchRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.SearchType == "" {
		req.SearchType = models.SearchTypeKeywords
	}
	h.respond(c)(run(w, requestContext(c), req.Query, req.SearchType))
}

func (h *WorkflowHandler) load(c *gin.Context) (*services.Workflow, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.NotFoundResponse(c, i18n.KeyWorkflowNotFound)
		return nil, false
	}

	w, err := h.manager.Get(requestContext(c), userID, id, utils.GetLangFromContext(c))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return w, true
}

func (h *WorkflowHandler) respond(c *gin.Context) func(*services.WorkflowSnapshot, error) {
	return func(snapshot *services.WorkflowSnapshot, err error) {
		if err != nil {
			h.respondError(c, err)
			return
		}
		utils.SuccessResponse(c, snapshot)
	}
}

func (h *WorkflowHandler) respondError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrWorkflowNotFound) {
		utils.NotFoundResponse(c, i18n.KeyWorkflowNotFound)
		return
	}
	utils.RespondError(c, err)
}
