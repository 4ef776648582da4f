// internal/services/workflow_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/i18n"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/utils"
)

// ProductSearcher finds products similar to the user's device.
type ProductSearcher interface {
	Search(ctx context.Context, q ProductSearchQuery) (*models.ProductSearchResult, error)
}

// AnalysisRunner starts an analysis and waits for it to leave Generating.
type AnalysisRunner interface {
	StartAnalysis(ctx context.Context, req *models.StartAnalysisRequest) (*models.StartAnalysisResponse, error)
	WaitForCompletion(ctx context.Context, analysisID string) (*models.AnalysisStatusResponse, error)
}

// PaymentGate decides whether generation needs a payment first.
type PaymentGate interface {
	DetermineIfFirstTimeUser(ctx context.Context, userID string) bool
	InitializePaymentIntent(ctx context.Context, req *PaymentRequest) (*models.PaymentInit, error)
	VerifyOrderPaid(ctx context.Context, orderID, productID string) (bool, error)
	AttachAnalysisToOrder(ctx context.Context, orderID, analysisID string) error
}

type WorkflowDeps struct {
	Search   ProductSearcher
	Analysis AnalysisRunner
	Payments PaymentGate
	Store    SessionStore
}

// CompletionHandler receives the analysis id once generation completes. Hazards
// are fetched on demand, so the slice is always empty.
type CompletionHandler func(userID, analysisID string, hazards []models.HazardGroup)

type GenerateOptions struct {
	// Internal callers only; never set from request input
	SkipPayment bool
	// Order the caller already paid for
	OrderID    string
	CouponCode string
}

type GenerateResult struct {
	Started    bool                `json:"started"`
	Payment    *models.PaymentInit `json:"payment,omitempty"`
	AnalysisID string              `json:"analysis_id,omitempty"`
}

type WorkflowSnapshot struct {
	ID             uuid.UUID               `json:"id"`
	Step           models.WorkflowStep     `json:"step"`
	FlowVariant    models.FlowVariant      `json:"flow_variant"`
	DeviceName     string                  `json:"device_name,omitempty"`
	IntendedUse    string                  `json:"intended_use,omitempty"`
	ProductCode    string                  `json:"product_code,omitempty"`
	SearchType     models.SearchType       `json:"search_type,omitempty"`
	Messages       []models.Message        `json:"messages"`
	FDAProducts    []models.SimilarProduct `json:"fdaProducts"`
	AIProducts     []models.SimilarProduct `json:"aiProducts"`
	SelectedIDs    []string                `json:"selected_ids"`
	AnalysisID     string                  `json:"analysis_id,omitempty"`
	AnalysisStatus models.AnalysisStatus   `json:"analysis_status,omitempty"`
	OrderID        string                  `json:"order_id,omitempty"`
	Error          string                  `json:"error,omitempty"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Workflow is one conversational PHA generation session. All state is guarded by mu;
// network calls run without the lock and commit only if the epoch they started in
// is still current.
type Workflow struct {
	mu      sync.Mutex
	session *models.WorkflowSession
	lang    string
	deps    WorkflowDeps

	epoch      uint64
	cancel     context.CancelFunc
	closed     bool
	lastUsed   time.Time
	onComplete CompletionHandler
}

func NewWorkflow(userID, lang string, variant models.FlowVariant, deps WorkflowDeps) *Workflow {
	if variant == "" {
		variant = models.FlowProductCode
	}
	w := &Workflow{
		session: &models.WorkflowSession{
			UserID:      userID,
			Step:        models.StepDeviceName,
			FlowVariant: variant,
			Products:    models.ProductList{},
			SelectedIDs: pq.StringArray{},
		},
		lang:     lang,
		deps:     deps,
		lastUsed: time.Now(),
	}
	w.session.ID = uuid.New()
	w.appendAI(i18n.KeyWorkflowAskDeviceName, models.StepDeviceName)
	return w
}

func restoreWorkflow(session *models.WorkflowSession, lang string, deps WorkflowDeps) *Workflow {
	if session.SelectedIDs == nil {
		session.SelectedIDs = pq.StringArray{}
	}
	return &Workflow{
		session:  session,
		lang:     lang,
		deps:     deps,
		lastUsed: time.Now(),
	}
}

func (w *Workflow) ID() uuid.UUID {
	return w.session.ID
}

func (w *Workflow) UserID() string {
	return w.session.UserID
}

func (w *Workflow) OnComplete(fn CompletionHandler) {
	w.mu.Lock()
	w.onComplete = fn
	w.mu.Unlock()
}

func (w *Workflow) SetLanguage(lang string) {
	if lang == "" {
		return
	}
	w.mu.Lock()
	w.lang = lang
	w.mu.Unlock()
}

func (w *Workflow) SubmitDeviceName(ctx context.Context, name string) (*WorkflowSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep("submit_device_name", models.StepDeviceName); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("device_name", i18n.T(w.lang, i18n.KeyValidationDeviceName))
	}

	w.session.DeviceName = name
	w.appendUser(name, models.StepDeviceName)

	if w.session.FlowVariant == models.FlowIntendedUse {
		w.transition(models.StepIntendedUseQuestion)
		w.appendAI(i18n.KeyWorkflowAskIntendedUse, models.StepIntendedUseQuestion, name)
	} else {
		w.transition(models.StepProductCodeQuestion)
		w.appendAI(i18n.KeyWorkflowAskProductCode, models.StepProductCodeQuestion, name)
	}

	w.persist(ctx)
	return w.snapshotLocked(), nil
}

func (w *Workflow) AnswerProductCodeQuestion(ctx context.Context, knowsCode bool) (*WorkflowSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep("answer_product_code_question", models.StepProductCodeQuestion); err != nil {
		return nil, err
	}

	w.appendUser(w.yesNo(knowsCode), models.StepProductCodeQuestion)
	if knowsCode {
		w.transition(models.StepProductCodeInput)
		w.appendAI(i18n.KeyWorkflowAskProductCodeInput, models.StepProductCodeInput)
	} else {
		w.transition(models.StepIntendedUseQuestion)
		w.appendAI(i18n.KeyWorkflowAskIntendedUse, models.StepIntendedUseQuestion, w.session.DeviceName)
	}

	w.persist(ctx)
	return w.snapshotLocked(), nil
}

// SubmitProductCode rejects anything but three letters before any state change or network call.
func (w *Workflow) SubmitProductCode(ctx context.Context, code string) (*WorkflowSnapshot, error) {
	w.mu.Lock()
	if err := w.requireStep("submit_product_code", models.StepProductCodeInput); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if !utils.IsProductCode(code) {
		w.mu.Unlock()
		return nil, apperrors.NewValidationError("product_code", i18n.T(w.lang, i18n.KeyValidationProductCode))
	}

	w.session.ProductCode = code
	w.appendUser(code, models.StepProductCodeInput)
	w.mu.Unlock()

	return w.search(ctx, code, models.SearchTypeProductCode, nil)
}

func (w *Workflow) AnswerIntendedUseQuestion(ctx context.Context, describe bool) (*WorkflowSnapshot, error) {
	w.mu.Lock()
	if err := w.requireStep("answer_intended_use_question", models.StepIntendedUseQuestion); err != nil {
		w.mu.Unlock()
		return nil, err
	}

	w.appendUser(w.yesNo(describe), models.StepIntendedUseQuestion)
	if describe {
		w.transition(models.StepIntendedUseInput)
		w.appendAI(i18n.KeyWorkflowAskIntendedUseInput, models.StepIntendedUseInput)
		w.persist(ctx)
		snapshot := w.snapshotLocked()
		w.mu.Unlock()
		return snapshot, nil
	}

	w.session.IntendedUse = ""
	query := w.session.DeviceName
	w.mu.Unlock()

	return w.search(ctx, query, models.SearchTypeKeywords, nil)
}

func (w *Workflow) SubmitIntendedUse(ctx context.Context, text string) (*WorkflowSnapshot, error) {
	w.mu.Lock()
	if err := w.requireStep("submit_intended_use", models.StepIntendedUseInput); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		w.mu.Unlock()
		return nil, apperrors.NewValidationError("intended_use", i18n.T(w.lang, i18n.KeyValidationIntendedUse))
	}

	w.session.IntendedUse = text
	w.appendUser(text, models.StepIntendedUseInput)
	query := w.session.DeviceName
	w.mu.Unlock()

	return w.search(ctx, query, models.SearchTypeKeywords, nil)
}

// SearchProducts runs a search from any step that has gathered enough input.
func (w *Workflow) SearchProducts(ctx context.Context, query string, searchType models.SearchType) (*WorkflowSnapshot, error) {
	return w.search(ctx, query, searchType, []models.WorkflowStep{
		models.StepProductCodeInput,
		models.StepIntendedUseQuestion,
		models.StepIntendedUseInput,
		models.StepSimilarProducts,
		models.StepProductSelection,
		models.StepNoProductsFound,
	})
}

func (w *Workflow) RetrySearch(ctx context.Context, query string, searchType models.SearchType) (*WorkflowSnapshot, error) {
	return w.search(ctx, query, searchType, []models.WorkflowStep{models.StepNoProductsFound})
}

func (w *Workflow) NewSearch(ctx context.Context, query string, searchType models.SearchType) (*WorkflowSnapshot, error) {
	return w.search(ctx, query, searchType, []models.WorkflowStep{models.StepSimilarProducts, models.StepProductSelection})
}

// search validates, enters searching-products, and commits the outcome if no newer
// operation superseded it. allowed == nil means the caller already checked the step
// and recorded the user's input.
func (w *Workflow) search(ctx context.Context, query string, searchType models.SearchType, allowed []models.WorkflowStep) (*WorkflowSnapshot, error) {
	if searchType == "" {
		searchType = models.SearchTypeKeywords
	}
	query = strings.TrimSpace(query)

	w.mu.Lock()
	if allowed != nil {
		if err := w.requireStep("search_products", allowed...); err != nil {
			w.mu.Unlock()
			return nil, err
		}
	}
	if query == "" {
		w.mu.Unlock()
		return nil, apperrors.NewValidationError("query", i18n.T(w.lang, i18n.KeyValidationQuery))
	}
	if searchType == models.SearchTypeProductCode {
		query = strings.ToUpper(query)
		if !utils.IsProductCode(query) {
			w.mu.Unlock()
			return nil, apperrors.NewValidationError("product_code", i18n.T(w.lang, i18n.KeyValidationProductCode))
		}
	}

	if allowed != nil {
		w.appendUser(query, w.session.Step)
	}
	w.session.SearchType = searchType
	w.session.SelectedIDs = pq.StringArray{}
	w.removeSelectionMessage()
	w.transition(models.StepSearchingProducts)
	w.appendAI(i18n.KeyWorkflowSearching, models.StepSearchingProducts, query)
	w.epoch++
	epoch := w.epoch
	searchQuery := ProductSearchQuery{
		Query:       query,
		SearchType:  searchType,
		DeviceName:  w.session.DeviceName,
		IntendedUse: w.session.IntendedUse,
	}
	w.persist(ctx)
	w.mu.Unlock()

	result, err := w.deps.Search.Search(ctx, searchQuery)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || epoch != w.epoch {
		return nil, apperrors.NewStateError("search_products", string(w.session.Step))
	}
	if err != nil {
		logrus.WithError(err).WithField("workflow_id", w.session.ID).Warn("Product search failed")
		result = &models.ProductSearchResult{}
	}

	products := result.All()
	w.session.Products = models.ProductList(products)
	if len(products) == 0 {
		w.transition(models.StepNoProductsFound)
		w.appendAI(i18n.KeyWorkflowNoProducts, models.StepNoProductsFound, query)
	} else {
		w.transition(models.StepSimilarProducts)
		if result.Degraded {
			w.appendAI(i18n.KeyWorkflowProductsDegraded, models.StepSimilarProducts)
		}
		w.appendAI(i18n.KeyWorkflowProductsFound, models.StepSimilarProducts, len(products))
	}

	w.persist(ctx)
	return w.snapshotLocked(), nil
}

// ToggleProductSelection flips one product in or out of the selection and keeps a
// single confirmation message describing the current selection.
func (w *Workflow) ToggleProductSelection(ctx context.Context, productID string) (*WorkflowSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep("toggle_product_selection", models.StepSimilarProducts, models.StepProductSelection); err != nil {
		return nil, err
	}
	if w.findProduct(productID) == nil {
		return nil, apperrors.NewValidationError("product_id", i18n.T(w.lang, i18n.KeyValidationInvalid, "product"))
	}

	selected := make(pq.StringArray, 0, len(w.session.SelectedIDs)+1)
	removed := false
	for _, id := range w.session.SelectedIDs {
		if id == productID {
			removed = true
			continue
		}
		selected = append(selected, id)
	}
	if !removed {
		selected = append(selected, productID)
	}
	w.session.SelectedIDs = selected

	w.removeSelectionMessage()
	if len(selected) == 0 {
		w.transition(models.StepSimilarProducts)
	} else {
		w.transition(models.StepProductSelection)
		w.appendAI(i18n.KeyWorkflowSelectionSummary, models.StepProductSelection, strings.Join(w.selectedCodes(), ", "))
	}

	w.persist(ctx)
	return w.snapshotLocked(), nil
}

// GenerateReport starts generation for the selected products, or returns the
// payment the user must complete first.
func (w *Workflow) GenerateReport(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	w.mu.Lock()
	if err := w.requireGenerateStep(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	if len(w.session.SelectedIDs) == 0 {
		w.mu.Unlock()
		return nil, apperrors.NewValidationError("selected_products", i18n.T(w.lang, i18n.KeyValidationSelectProducts))
	}
	userID := w.session.UserID
	workflowID := w.session.ID.String()
	epoch := w.epoch
	if opts.OrderID == "" {
		// A retry after a failed generation reuses the order this workflow paid with
		opts.OrderID = w.session.OrderID
	}
	w.mu.Unlock()

	orderID, payment, err := w.resolvePayment(ctx, userID, workflowID, opts)
	if err != nil {
		return nil, err
	}
	if payment != nil {
		return &GenerateResult{Payment: payment}, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || epoch != w.epoch {
		return nil, apperrors.NewStateError("generate_report", string(w.session.Step))
	}
	if err := w.requireGenerateStep(); err != nil {
		return nil, err
	}
	if len(w.session.SelectedIDs) == 0 {
		return nil, apperrors.NewValidationError("selected_products", i18n.T(w.lang, i18n.KeyValidationSelectProducts))
	}

	req := &models.StartAnalysisRequest{
		ProductCodes:        w.selectedCodes(),
		SimilarProducts:     w.selectedProducts(),
		ProductName:         w.session.DeviceName,
		IntendedUseSnapshot: w.session.IntendedUse,
		OrderID:             orderID,
	}

	w.epoch++
	epoch = w.epoch
	w.session.OrderID = orderID
	w.session.AnalysisID = ""
	w.session.TaskID = ""
	w.session.AnalysisState = ""
	w.session.LastError = ""
	w.session.CompletedAt = nil
	w.transition(models.StepGenerating)
	w.appendAI(i18n.KeyWorkflowGenerating, models.StepGenerating)
	w.persist(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	go w.runGeneration(runCtx, epoch, req)

	return &GenerateResult{Started: true}, nil
}

func (w *Workflow) resolvePayment(ctx context.Context, userID, workflowID string, opts GenerateOptions) (string, *models.PaymentInit, error) {
	if opts.SkipPayment || w.deps.Payments == nil {
		return opts.OrderID, nil, nil
	}

	if opts.OrderID != "" {
		if err := w.checkOrderOwner(ctx, opts.OrderID, workflowID); err != nil {
			return "", nil, err
		}
		paid, err := w.deps.Payments.VerifyOrderPaid(ctx, opts.OrderID, workflowID)
		if err != nil {
			return "", nil, err
		}
		if !paid {
			return "", nil, &apperrors.PaymentRequiredError{}
		}
		return opts.OrderID, nil, nil
	}

	if w.deps.Payments.DetermineIfFirstTimeUser(ctx, userID) {
		logrus.WithField("user_id", userID).Info("First-time user, generation is free")
		return "", nil, nil
	}

	init, err := w.deps.Payments.InitializePaymentIntent(ctx, &PaymentRequest{
		UserID:     userID,
		ProductID:  workflowID,
		CouponCode: opts.CouponCode,
	})
	if err != nil {
		return "", nil, err
	}
	if init.CompletedByCoupon {
		return init.OrderID, nil, nil
	}
	return "", init, nil
}

// checkOrderOwner refuses an order another workflow has already generated with.
func (w *Workflow) checkOrderOwner(ctx context.Context, orderID, workflowID string) error {
	if w.deps.Store == nil {
		return nil
	}
	owner, err := w.deps.Store.FindByOrderID(ctx, orderID)
	if errors.Is(err, ErrWorkflowNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner.ID.String() != workflowID {
		w.mu.Lock()
		lang := w.lang
		w.mu.Unlock()
		return apperrors.NewValidationError("order_id", i18n.T(lang, i18n.KeyPaymentOrderUsed))
	}
	return nil
}

func (w *Workflow) runGeneration(ctx context.Context, epoch uint64, req *models.StartAnalysisRequest) {
	started, err := w.deps.Analysis.StartAnalysis(ctx, req)
	if err != nil {
		w.finishGeneration(ctx, epoch, nil, err)
		return
	}

	w.mu.Lock()
	if w.closed || epoch != w.epoch {
		w.mu.Unlock()
		return
	}
	w.session.AnalysisID = started.AnalysisID
	w.session.TaskID = started.TaskID
	w.session.AnalysisState = models.AnalysisStatusGenerating
	w.persist(ctx)
	w.mu.Unlock()

	if req.OrderID != "" && w.deps.Payments != nil {
		if err := w.deps.Payments.AttachAnalysisToOrder(ctx, req.OrderID, started.AnalysisID); err != nil {
			logrus.WithError(err).WithField("analysis_id", started.AnalysisID).Error("Order metadata backfill failed")
		}
	}

	w.await(ctx, epoch, started.AnalysisID)
}

func (w *Workflow) await(ctx context.Context, epoch uint64, analysisID string) {
	status, err := w.deps.Analysis.WaitForCompletion(ctx, analysisID)
	w.finishGeneration(ctx, epoch, status, err)
}

func (w *Workflow) finishGeneration(ctx context.Context, epoch uint64, status *models.AnalysisStatusResponse, err error) {
	w.mu.Lock()
	if w.closed || epoch != w.epoch {
		w.mu.Unlock()
		logrus.WithField("workflow_id", w.session.ID).Debug("Dropping result of superseded generation")
		return
	}

	now := time.Now().UTC()
	w.cancel = nil
	w.session.CompletedAt = &now
	w.transition(models.StepCompleted)

	var notify CompletionHandler
	analysisID := w.session.AnalysisID
	userID := w.session.UserID

	switch {
	case err != nil:
		w.session.LastError = err.Error()
		w.appendAI(i18n.KeyWorkflowFailed, models.StepCompleted, generationFailureDetail(err))
		logrus.WithError(err).WithFields(logrus.Fields{
			"workflow_id": w.session.ID,
			"analysis_id": analysisID,
		}).Error("Analysis generation failed")
	case status.Status == models.AnalysisStatusCompleted:
		w.session.AnalysisState = status.Status
		w.appendAI(i18n.KeyWorkflowCompleted, models.StepCompleted)
		notify = w.onComplete
	default:
		w.session.AnalysisState = status.Status
		detail := status.Detail
		if detail == "" {
			detail = string(status.Status)
		}
		w.session.LastError = detail
		w.appendAI(i18n.KeyWorkflowFailed, models.StepCompleted, detail)
	}

	w.persist(context.WithoutCancel(ctx))
	w.mu.Unlock()

	if notify != nil {
		notify(userID, analysisID, []models.HazardGroup{})
	}
}

func generationFailureDetail(err error) string {
	var backendErr *apperrors.BackendError
	if errors.As(err, &backendErr) && backendErr.Detail != "" {
		return backendErr.Detail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the analysis took too long"
	}
	return "a network error occurred"
}

// Resume reattaches to a generation that was running when the workflow was last
// persisted. A generation interrupted before the backend assigned an id is failed.
func (w *Workflow) Resume(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.session.Step != models.StepGenerating || w.cancel != nil {
		return
	}

	w.epoch++
	epoch := w.epoch
	if w.session.AnalysisID == "" {
		now := time.Now().UTC()
		w.session.CompletedAt = &now
		w.session.LastError = "generation was interrupted"
		w.transition(models.StepCompleted)
		w.appendAI(i18n.KeyWorkflowFailed, models.StepCompleted, "generation was interrupted")
		w.persist(ctx)
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	go w.await(runCtx, epoch, w.session.AnalysisID)
}

// Close stops background generation; results arriving afterwards are discarded.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.epoch++
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *Workflow) Snapshot() *WorkflowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Workflow) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsed
}

func (w *Workflow) busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *Workflow) snapshotLocked() *WorkflowSnapshot {
	w.lastUsed = time.Now()

	s := w.session
	snapshot := &WorkflowSnapshot{
		ID:             s.ID,
		Step:           s.Step,
		FlowVariant:    s.FlowVariant,
		DeviceName:     s.DeviceName,
		IntendedUse:    s.IntendedUse,
		ProductCode:    s.ProductCode,
		SearchType:     s.SearchType,
		Messages:       append([]models.Message{}, s.Messages...),
		FDAProducts:    []models.SimilarProduct{},
		AIProducts:     []models.SimilarProduct{},
		SelectedIDs:    append([]string{}, s.SelectedIDs...),
		AnalysisID:     s.AnalysisID,
		AnalysisStatus: s.AnalysisState,
		OrderID:        s.OrderID,
		Error:          s.LastError,
		UpdatedAt:      s.UpdatedAt,
	}
	for _, p := range s.Products {
		if p.Source == models.ProductSourceAI {
			snapshot.AIProducts = append(snapshot.AIProducts, p)
		} else {
			snapshot.FDAProducts = append(snapshot.FDAProducts, p)
		}
	}
	return snapshot
}

func (w *Workflow) requireStep(op string, allowed ...models.WorkflowStep) error {
	if w.closed {
		return apperrors.NewStateError(op, "closed")
	}
	for _, step := range allowed {
		if w.session.Step == step {
			return nil
		}
	}
	return apperrors.NewStateError(op, string(w.session.Step))
}

// Generation may be retried by hand after a failed attempt.
func (w *Workflow) requireGenerateStep() error {
	if w.session.Step == models.StepCompleted && w.session.LastError != "" && !w.closed {
		return nil
	}
	return w.requireStep("generate_report", models.StepSimilarProducts, models.StepProductSelection)
}

func (w *Workflow) transition(next models.WorkflowStep) {
	if w.session.Step == next {
		return
	}
	logrus.WithFields(logrus.Fields{
		"workflow_id": w.session.ID,
		"from":        w.session.Step,
		"to":          next,
	}).Debug("Workflow transition")
	w.session.Step = next
}

func (w *Workflow) appendUser(content string, step models.WorkflowStep) {
	w.session.Messages = append(w.session.Messages, models.NewMessage(models.MessageTypeUser, content, step))
}

func (w *Workflow) appendAI(key string, step models.WorkflowStep, args ...interface{}) {
	content := i18n.T(w.lang, key, args...)
	w.session.Messages = append(w.session.Messages, models.NewMessage(models.MessageTypeAI, content, step))
}

func (w *Workflow) removeSelectionMessage() {
	kept := w.session.Messages[:0]
	for _, m := range w.session.Messages {
		if m.Type == models.MessageTypeAI && m.Step == models.StepProductSelection {
			continue
		}
		kept = append(kept, m)
	}
	w.session.Messages = kept
}

func (w *Workflow) yesNo(answer bool) string {
	if answer {
		return i18n.T(w.lang, i18n.KeyWorkflowAnswerYes)
	}
	return i18n.T(w.lang, i18n.KeyWorkflowAnswerNo)
}

func (w *Workflow) findProduct(id string) *models.SimilarProduct {
	for i := range w.session.Products {
		if w.session.Products[i].ID == id {
			return &w.session.Products[i]
		}
	}
	return nil
}

func (w *Workflow) selectedProducts() []models.SimilarProduct {
	products := make([]models.SimilarProduct, 0, len(w.session.SelectedIDs))
	for _, id := range w.session.SelectedIDs {
		if p := w.findProduct(id); p != nil {
			products = append(products, *p)
		}
	}
	return products
}

// selectedCodes lists the product codes of the selection in selection order, without duplicates.
func (w *Workflow) selectedCodes() []string {
	seen := make(map[string]bool)
	codes := make([]string, 0, len(w.session.SelectedIDs))
	for _, p := range w.selectedProducts() {
		code := strings.ToUpper(p.ProductCode)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

func (w *Workflow) persist(ctx context.Context) {
	if w.deps.Store == nil {
		return
	}
	if err := w.deps.Store.Save(ctx, w.session); err != nil {
		logrus.WithError(err).WithField("workflow_id", w.session.ID).Error("Failed to persist workflow")
	}
}
