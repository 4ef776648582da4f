package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentClamps(t *testing.T) {
	assert.Equal(t, 0.0, Percent(5, 0))
	assert.Equal(t, 0.0, Percent(-1, 10))
	assert.Equal(t, 50.0, Percent(5, 10))
	assert.Equal(t, 100.0, Percent(15, 10))
}

func TestResultsProgress(t *testing.T) {
	r := &AnalysisResults{
		TotalDetailRecords: 30,
		PlanTotalRecords:   20,
		AICurrentCount:     1,
		AITotalRecords:     4,
	}

	p := r.Progress()
	assert.Equal(t, 100.0, p.DetailPercent)
	assert.Equal(t, 25.0, p.AIPercent)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, AnalysisStatusGenerating.Terminal())
	assert.True(t, AnalysisStatusCompleted.Terminal())
	assert.True(t, AnalysisStatusFailed.Terminal())

	assert.False(t, DownloadTaskPending.Terminal())
	assert.False(t, DownloadTaskGenerating.Terminal())
	assert.True(t, DownloadTaskCompleted.Terminal())
}

func TestCancelableStatuses(t *testing.T) {
	cancelable := []PaymentIntentStatus{PaymentIntentRequiresPaymentMethod, PaymentIntentRequiresConfirmation}
	kept := []PaymentIntentStatus{
		PaymentIntentProcessing, PaymentIntentRequiresAction, PaymentIntentRequiresCapture,
		PaymentIntentSucceeded, PaymentIntentFailed, PaymentIntentCanceled,
	}

	for _, s := range cancelable {
		assert.True(t, s.Cancelable(), s)
	}
	for _, s := range kept {
		assert.False(t, s.Cancelable(), s)
	}
}

func TestResultsQueryNormalized(t *testing.T) {
	q := ResultsQuery{Page: 0, PageSize: 500}.Normalized()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 20, q.PageSize)
}
