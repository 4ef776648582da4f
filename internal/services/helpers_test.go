package services

import (
	"context"
	"sync"
	"time"

	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Payment: config.PaymentConfig{
			StripePublishableKey: "pk_test",
			ProductType:          "pha_analysis",
			ConfirmInterval:      time.Millisecond,
			ConfirmMaxAttempts:   30,
			BackfillAttempts:     3,
			BackfillInitialDelay: time.Millisecond,
			RegateAttempts:       3,
			RegateInitialDelay:   time.Millisecond,
		},
		Polling: config.PollingConfig{
			AnalysisInterval:    time.Millisecond,
			AnalysisMaxDuration: 5 * time.Second,
			ResultsFirstDelay:   20 * time.Millisecond,
			ResultsInterval:     20 * time.Millisecond,
			ResultsMaxDuration:  5 * time.Second,
			SearchDebounce:      20 * time.Millisecond,
			DownloadInterval:    time.Millisecond,
		},
		Workflow: config.WorkflowConfig{FlowVariant: string(models.FlowProductCode)},
		Search: config.SearchConfig{
			ResultLimit: 20,
			Timeout:     time.Second,
		},
		Redis: config.RedisConfig{SearchTTL: time.Hour},
	}
}

// fakeAnalysisBackend serves scripted statuses and records calls.
type fakeAnalysisBackend struct {
	mu          sync.Mutex
	startErr    error
	statuses    []models.AnalysisStatus
	statusErr   error
	startCalls  int
	statusCalls int
	lastStart   *models.StartAnalysisRequest
	results     map[string]*models.AnalysisResults
	completed   int
	listErr     error
	tasks       [][]models.DownloadTask
	taskCalls   int
}

func (f *fakeAnalysisBackend) StartAnalysis(_ context.Context, req *models.StartAnalysisRequest) (*models.StartAnalysisResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.lastStart = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &models.StartAnalysisResponse{AnalysisID: "analysis-1", TaskID: "task-1"}, nil
}

func (f *fakeAnalysisBackend) AnalysisStatus(_ context.Context, _ string) (*models.AnalysisStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.statuses) == 0 {
		return &models.AnalysisStatusResponse{Status: models.AnalysisStatusGenerating}, nil
	}
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return &models.AnalysisStatusResponse{Status: status}, nil
}

func (f *fakeAnalysisBackend) ListAnalyses(_ context.Context, _ models.AnalysisStatus, _ int) (*models.AnalysisList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &models.AnalysisList{Total: f.completed}, nil
}

func (f *fakeAnalysisBackend) GroupedDetails(_ context.Context, analysisID string, _ models.ResultsQuery) (*models.AnalysisResults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[analysisID]; ok {
		copied := *r
		return &copied, nil
	}
	return &models.AnalysisResults{Status: models.AnalysisStatusCompleted}, nil
}

func (f *fakeAnalysisBackend) GroupRecords(_ context.Context, _ string, q models.GroupRecordsQuery) (*models.GroupRecords, error) {
	return &models.GroupRecords{Records: []models.JSONB{{"hazard": q.Hazard}}, Count: 1}, nil
}

func (f *fakeAnalysisBackend) FullFilters(_ context.Context, _ string) (*models.AnalysisFilters, error) {
	return &models.AnalysisFilters{SeverityLevels: []string{"High", "Low"}}, nil
}

func (f *fakeAnalysisBackend) RestartFullAnalysis(_ context.Context, _ string) error {
	return nil
}

func (f *fakeAnalysisBackend) Export(_ context.Context, analysisID, format string) (*models.ExportedReport, error) {
	return &models.ExportedReport{Format: format, Filename: analysisID + "." + format, Body: []byte("data")}, nil
}

func (f *fakeAnalysisBackend) DownloadTasks(_ context.Context, _ string) ([]models.DownloadTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskCalls++
	if len(f.tasks) == 0 {
		return nil, nil
	}
	tasks := f.tasks[0]
	if len(f.tasks) > 1 {
		f.tasks = f.tasks[1:]
	}
	return tasks, nil
}

func (f *fakeAnalysisBackend) CreateDownloadTask(_ context.Context, analysisID, _ string) (*models.DownloadTask, error) {
	return &models.DownloadTask{ID: "dl-1", AnalysisID: analysisID, Status: models.DownloadTaskPending}, nil
}

func (f *fakeAnalysisBackend) counts() (start, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.statusCalls
}

// fakeOrders is an in-memory orders backend.
type fakeOrders struct {
	mu             sync.Mutex
	createResp     *models.CreateOrderResponse
	createErr      error
	lastCreate     *models.CreateOrderRequest
	lastKey        string
	keys           []string
	// createResps, when set, are returned in order before createResp
	createResps    []*models.CreateOrderResponse
	paidAfter      int
	orderProduct   string
	statusCalls    int
	transactions   []models.Transaction
	txErr          error
	txCalls        int
	// lateTx appends a transaction on the given lookup call
	lateTx         map[int]models.Transaction
	metadataErrs   []error
	metadataCalls  int
	lastMetadataID string
}

func (f *fakeOrders) CreateOrder(_ context.Context, req *models.CreateOrderRequest, key string) (*models.CreateOrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCreate = req
	f.lastKey = key
	f.keys = append(f.keys, key)
	if f.createErr != nil {
		return nil, f.createErr
	}
	if len(f.createResps) > 0 {
		resp := f.createResps[0]
		f.createResps = f.createResps[1:]
		return resp, nil
	}
	return f.createResp, nil
}

func (f *fakeOrders) ValidateCoupon(_ context.Context, req *models.ValidateCouponRequest) (*models.CouponValidation, error) {
	return &models.CouponValidation{Valid: req.CouponCode == "FREE100", DiscountPercent: 100}, nil
}

func (f *fakeOrders) OrderStatus(_ context.Context, _, _ string) (*models.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return &models.OrderStatus{
		Paid:      f.paidAfter > 0 && f.statusCalls >= f.paidAfter,
		ProductID: f.orderProduct,
	}, nil
}

func (f *fakeOrders) Transactions(_ context.Context, _, _ int) (*models.TransactionList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if f.txErr != nil {
		return nil, f.txErr
	}
	if tx, ok := f.lateTx[f.txCalls]; ok {
		f.transactions = append(f.transactions, tx)
	}
	list := append([]models.Transaction{}, f.transactions...)
	return &models.TransactionList{Transactions: list, Total: len(list)}, nil
}

func (f *fakeOrders) UpdateOrderMetadata(_ context.Context, _ string, update *models.OrderMetadataUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadataCalls++
	if len(f.metadataErrs) > 0 {
		err := f.metadataErrs[0]
		f.metadataErrs = f.metadataErrs[1:]
		if err != nil {
			return err
		}
	}
	f.lastMetadataID = update.AnalysisID
	return nil
}

// fakeProvider returns intents with fixed statuses.
type fakeProvider struct {
	mu          sync.Mutex
	status      models.PaymentIntentStatus
	confirmErr  error
	cancelCalls int
	confirmed   int
}

func (f *fakeProvider) GetIntent(_ context.Context, id string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.PaymentIntent{ID: id, Status: f.status, ClientSecret: "secret"}, nil
}

func (f *fakeProvider) ConfirmIntent(_ context.Context, id, _ string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &models.PaymentIntent{ID: id, Status: f.status, ClientSecret: "secret"}, nil
}

func (f *fakeProvider) CancelIntent(_ context.Context, id string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return &models.PaymentIntent{ID: id, Status: models.PaymentIntentCanceled}, nil
}
