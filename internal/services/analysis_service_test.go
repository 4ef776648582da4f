package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/models"
)

func TestStartAnalysisRejectsEmptyProductCodes(t *testing.T) {
	backend := &fakeAnalysisBackend{}
	svc := NewAnalysisService(backend, testConfig())

	_, err := svc.StartAnalysis(context.Background(), &models.StartAnalysisRequest{ProductName: "Syringe"})

	assert.True(t, apperrors.IsValidation(err))
	start, _ := backend.counts()
	assert.Zero(t, start)
}

func TestStartAnalysisNormalizesCodes(t *testing.T) {
	backend := &fakeAnalysisBackend{}
	svc := NewAnalysisService(backend, testConfig())

	resp, err := svc.StartAnalysis(context.Background(), &models.StartAnalysisRequest{
		ProductCodes: []string{" fmf "},
		ProductName:  "Syringe",
	})
	require.NoError(t, err)
	assert.Equal(t, "analysis-1", resp.AnalysisID)
	assert.Equal(t, []string{"FMF"}, backend.lastStart.ProductCodes)
}

func TestStartAnalysisSurfacesBackendDetail(t *testing.T) {
	backend := &fakeAnalysisBackend{startErr: &apperrors.BackendError{Status: 400, Detail: "unknown product code"}}
	svc := NewAnalysisService(backend, testConfig())

	_, err := svc.StartAnalysis(context.Background(), &models.StartAnalysisRequest{
		ProductCodes: []string{"FMF"},
		ProductName:  "Syringe",
	})

	var backendErr *apperrors.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "unknown product code", backendErr.Detail)
}

func TestStartAndPollStopsAtTerminalStatus(t *testing.T) {
	backend := &fakeAnalysisBackend{statuses: []models.AnalysisStatus{
		models.AnalysisStatusGenerating,
		models.AnalysisStatusGenerating,
		models.AnalysisStatusCompleted,
	}}
	svc := NewAnalysisService(backend, testConfig())

	outcome, err := svc.StartAndPoll(context.Background(), &models.StartAnalysisRequest{
		ProductCodes: []string{"FMF"},
		ProductName:  "Syringe",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusCompleted, outcome.Status)
	assert.Equal(t, "analysis-1", outcome.AnalysisID)

	start, status := backend.counts()
	assert.Equal(t, 1, start)
	assert.Equal(t, 3, status)
}

func TestWaitForCompletionStopsOnNetworkError(t *testing.T) {
	backend := &fakeAnalysisBackend{statusErr: errors.New("connection reset")}
	svc := NewAnalysisService(backend, testConfig())

	_, err := svc.WaitForCompletion(context.Background(), "analysis-1")

	assert.ErrorContains(t, err, "connection reset")
	_, status := backend.counts()
	assert.Equal(t, 1, status)
}

func TestWaitForCompletionHonorsDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Polling.AnalysisInterval = 5 * time.Millisecond
	cfg.Polling.AnalysisMaxDuration = 30 * time.Millisecond
	svc := NewAnalysisService(&fakeAnalysisBackend{}, cfg)

	_, err := svc.WaitForCompletion(context.Background(), "analysis-1")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForCompletionCanBeCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Polling.AnalysisInterval = time.Hour
	svc := NewAnalysisService(&fakeAnalysisBackend{}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := svc.WaitForCompletion(ctx, "analysis-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetAnalysisResultsClampsProgress(t *testing.T) {
	backend := &fakeAnalysisBackend{results: map[string]*models.AnalysisResults{
		"analysis-1": {
			Status:             models.AnalysisStatusGenerating,
			TotalDetailRecords: 250,
			PlanTotalRecords:   200,
			AICurrentCount:     10,
			AITotalRecords:     40,
		},
	}}
	svc := NewAnalysisService(backend, testConfig())

	page, err := svc.GetAnalysisResults(context.Background(), "analysis-1", models.ResultsQuery{Page: 0, PageSize: 0})
	require.NoError(t, err)
	assert.Equal(t, 100.0, page.Progress.DetailPercent)
	assert.Equal(t, 25.0, page.Progress.AIPercent)
	assert.Equal(t, 1, page.Query.Page)
	assert.Equal(t, 20, page.Query.PageSize)
}

func TestExportReportRejectsUnknownFormat(t *testing.T) {
	svc := NewAnalysisService(&fakeAnalysisBackend{}, testConfig())

	_, err := svc.ExportReport(context.Background(), "analysis-1", "exe")
	assert.True(t, apperrors.IsValidation(err))

	report, err := svc.ExportReport(context.Background(), "analysis-1", "")
	require.NoError(t, err)
	assert.Equal(t, "csv", report.Format)
}

func TestWaitForDownloadTasksPollsUntilTerminal(t *testing.T) {
	backend := &fakeAnalysisBackend{tasks: [][]models.DownloadTask{
		{{ID: "d1", Status: models.DownloadTaskPending}},
		{{ID: "d1", Status: models.DownloadTaskGenerating, CurrentDetailsCount: 5, TotalDetailsCount: 10}},
		{{ID: "d1", Status: models.DownloadTaskCompleted, CurrentDetailsCount: 10, TotalDetailsCount: 10}},
	}}
	svc := NewAnalysisService(backend, testConfig())

	var seen []float64
	tasks, err := svc.WaitForDownloadTasks(context.Background(), "analysis-1", func(tasks []models.DownloadTask) {
		seen = append(seen, tasks[0].Percent())
	})
	require.NoError(t, err)
	assert.Equal(t, models.DownloadTaskCompleted, tasks[0].Status)
	assert.Equal(t, []float64{0, 50, 100}, seen)
	assert.Equal(t, 3, backend.taskCalls)
}

func TestHasCompletedAnalysis(t *testing.T) {
	svc := NewAnalysisService(&fakeAnalysisBackend{completed: 2}, testConfig())
	ok, err := svc.HasCompletedAnalysis(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	svc = NewAnalysisService(&fakeAnalysisBackend{}, testConfig())
	ok, err = svc.HasCompletedAnalysis(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
