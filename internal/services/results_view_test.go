package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/pha-gateway/internal/models"
)

type fakeResultsFetcher struct {
	mu       sync.Mutex
	statuses map[string][]models.AnalysisStatus
	calls    map[string]int
	keywords []string
	filters  int
	block    map[int]chan struct{}
}

func newFakeResultsFetcher() *fakeResultsFetcher {
	return &fakeResultsFetcher{
		statuses: make(map[string][]models.AnalysisStatus),
		calls:    make(map[string]int),
		block:    make(map[int]chan struct{}),
	}
}

func (f *fakeResultsFetcher) GetAnalysisResults(_ context.Context, analysisID string, q models.ResultsQuery) (*AnalysisPage, error) {
	f.mu.Lock()
	f.calls[analysisID]++
	f.keywords = append(f.keywords, q.SearchKeyword)
	status := models.AnalysisStatusCompleted
	if seq := f.statuses[analysisID]; len(seq) > 0 {
		status = seq[0]
		if len(seq) > 1 {
			f.statuses[analysisID] = seq[1:]
		}
	}
	wait := f.block[q.Page]
	f.mu.Unlock()

	if wait != nil {
		<-wait
	}
	results := &models.AnalysisResults{
		Status:  status,
		Results: []models.HazardGroup{{Hazard: analysisID}},
		Total:   1,
	}
	return &AnalysisPage{AnalysisResults: results, Progress: results.Progress(), Query: q}, nil
}

func (f *fakeResultsFetcher) GetFilters(_ context.Context, _ string) (*models.AnalysisFilters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters++
	return &models.AnalysisFilters{SeverityLevels: []string{"High"}}, nil
}

func (f *fakeResultsFetcher) callCount(analysisID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[analysisID]
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []ResultsSnapshot
}

func (r *updateRecorder) record(s ResultsSnapshot) {
	r.mu.Lock()
	r.updates = append(r.updates, s)
	r.mu.Unlock()
}

func (r *updateRecorder) all() []ResultsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ResultsSnapshot{}, r.updates...)
}

func newTestResultsView(fetcher ResultsFetcher) (*ResultsView, *updateRecorder) {
	view := NewResultsView(fetcher, testConfig())
	recorder := &updateRecorder{}
	view.OnUpdate(recorder.record)
	return view, recorder
}

func TestResultsViewSwitchingAnalysisDropsOldUpdates(t *testing.T) {
	fetcher := newFakeResultsFetcher()
	fetcher.statuses["A"] = []models.AnalysisStatus{models.AnalysisStatusGenerating}
	view, recorder := newTestResultsView(fetcher)
	defer view.Close()

	snapshot, err := view.Open(context.Background(), "A", models.ResultsQuery{})
	require.NoError(t, err)
	assert.True(t, snapshot.Polling)

	require.Eventually(t, func() bool { return fetcher.callCount("A") >= 3 }, 2*time.Second, 5*time.Millisecond)

	_, err = view.Open(context.Background(), "B", models.ResultsQuery{})
	require.NoError(t, err)
	callsAfterSwitch := fetcher.callCount("A")

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, fetcher.callCount("A"), callsAfterSwitch+1, "at most the in-flight poll completes")

	switched := false
	for _, u := range recorder.all() {
		if u.AnalysisID == "B" {
			switched = true
			continue
		}
		assert.False(t, switched, "update for A delivered after switching to B")
	}
	assert.True(t, switched)
	assert.Equal(t, "B", view.Snapshot().AnalysisID)
}

func TestResultsViewStopsPollingAndReloadsWhenGenerationEnds(t *testing.T) {
	fetcher := newFakeResultsFetcher()
	fetcher.statuses["A"] = []models.AnalysisStatus{
		models.AnalysisStatusGenerating,
		models.AnalysisStatusGenerating,
		models.AnalysisStatusCompleted,
	}
	view, _ := newTestResultsView(fetcher)
	defer view.Close()

	_, err := view.Open(context.Background(), "A", models.ResultsQuery{PageSize: 10})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := view.Snapshot()
		return s.Final && s.Filters != nil
	}, 2*time.Second, 5*time.Millisecond)

	settled := fetcher.callCount("A")
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, settled, fetcher.callCount("A"), "no polls after generation ended")

	s := view.Snapshot()
	assert.False(t, s.Polling)
	assert.Equal(t, 10, s.Query.PageSize)
	assert.Equal(t, models.AnalysisStatusCompleted, s.Page.Status)
}

func TestResultsViewDebouncesSearch(t *testing.T) {
	fetcher := newFakeResultsFetcher()
	view, _ := newTestResultsView(fetcher)
	defer view.Close()

	_, err := view.Open(context.Background(), "A", models.ResultsQuery{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return view.Snapshot().Filters != nil }, 2*time.Second, 5*time.Millisecond)

	view.SetSearch("c")
	view.SetSearch("ca")
	view.SetSearch("cath")

	require.Eventually(t, func() bool {
		return view.Snapshot().Query.SearchKeyword == "cath"
	}, 2*time.Second, 5*time.Millisecond)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	var searched []string
	for _, k := range fetcher.keywords {
		if k != "" {
			searched = append(searched, k)
		}
	}
	assert.Equal(t, []string{"cath"}, searched)
}

func TestResultsViewDropsStaleResponses(t *testing.T) {
	fetcher := newFakeResultsFetcher()
	view, _ := newTestResultsView(fetcher)
	defer view.Close()

	_, err := view.Open(context.Background(), "A", models.ResultsQuery{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return view.Snapshot().Filters != nil }, 2*time.Second, 5*time.Millisecond)

	release := make(chan struct{})
	fetcher.mu.Lock()
	fetcher.block[2] = release
	fetcher.mu.Unlock()

	stale := make(chan *ResultsSnapshot, 1)
	go func() {
		s, _ := view.SetPage(2)
		stale <- s
	}()
	require.Eventually(t, func() bool { return fetcher.callCount("A") >= 3 }, 2*time.Second, time.Millisecond)

	current, err := view.SetPage(3)
	require.NoError(t, err)
	assert.Equal(t, 3, current.Query.Page)

	close(release)
	assert.Nil(t, <-stale)
	assert.Equal(t, 3, view.Snapshot().Query.Page)
}

func TestResultsViewFilterChangesResetPage(t *testing.T) {
	fetcher := newFakeResultsFetcher()
	view, _ := newTestResultsView(fetcher)
	defer view.Close()

	_, err := view.Open(context.Background(), "A", models.ResultsQuery{Page: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, view.Snapshot().Query.Page)

	s, err := view.SetPage(3)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Query.Page)

	s, err = view.SetPageSize(50)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Query.Page)
	assert.Equal(t, 50, s.Query.PageSize)

	_, err = view.SetPage(2)
	require.NoError(t, err)
	s, err = view.SetSeverity("High")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Query.Page)
	assert.Equal(t, "High", s.Query.SeverityLevel)
}

func TestResultsViewClosed(t *testing.T) {
	view, recorder := newTestResultsView(newFakeResultsFetcher())
	view.Close()

	_, err := view.Open(context.Background(), "A", models.ResultsQuery{})
	assert.Error(t, err)
	_, err = view.SetPage(2)
	assert.Error(t, err)
	assert.Empty(t, recorder.all())
}
