// internal/services/results_view.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
)

// ResultsFetcher loads result pages and filter values for one analysis.
type ResultsFetcher interface {
	GetAnalysisResults(ctx context.Context, analysisID string, q models.ResultsQuery) (*AnalysisPage, error)
	GetFilters(ctx context.Context, analysisID string) (*models.AnalysisFilters, error)
}

type ResultsSnapshot struct {
	AnalysisID string                  `json:"analysis_id"`
	Page       *AnalysisPage           `json:"page,omitempty"`
	Filters    *models.AnalysisFilters `json:"filters,omitempty"`
	Query      models.ResultsQuery     `json:"query"`
	Polling    bool                    `json:"polling"`
	Final      bool                    `json:"final"`
	Error      string                  `json:"error,omitempty"`
	Version    uint64                  `json:"version"`
}

// ResultsView keeps one paginated hazard table in sync with a generating analysis.
// At most one poll timer exists per view. Switching analysis or closing the view
// invalidates every in-flight response, and within one analysis a response older
// than one already applied is dropped.
type ResultsView struct {
	fetcher     ResultsFetcher
	firstDelay  time.Duration
	interval    time.Duration
	debounce    time.Duration
	maxDuration time.Duration

	// emitMu orders callbacks against Open and Close
	emitMu sync.Mutex
	mu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	analysisID    string
	query         models.ResultsQuery
	epoch         uint64
	seq           uint64
	applied       uint64
	timer         *time.Timer
	debounceTimer *time.Timer
	pollInFlight  bool
	polls         int
	generating    bool
	deadline      time.Time
	closed        bool
	last          ResultsSnapshot
	onUpdate      func(ResultsSnapshot)
}

func NewResultsView(fetcher ResultsFetcher, cfg *config.Config) *ResultsView {
	return &ResultsView{
		fetcher:     fetcher,
		firstDelay:  cfg.Polling.ResultsFirstDelay,
		interval:    cfg.Polling.ResultsInterval,
		debounce:    cfg.Polling.SearchDebounce,
		maxDuration: cfg.Polling.ResultsMaxDuration,
	}
}

// OnUpdate registers the snapshot callback. The callback must not call Open or Close.
func (v *ResultsView) OnUpdate(fn func(ResultsSnapshot)) {
	v.mu.Lock()
	v.onUpdate = fn
	v.mu.Unlock()
}

// Open starts showing analysisID from page 1, cancelling anything scheduled for the
// previous analysis.
func (v *ResultsView) Open(ctx context.Context, analysisID string, q models.ResultsQuery) (*ResultsSnapshot, error) {
	analysisID = strings.TrimSpace(analysisID)
	if analysisID == "" {
		return nil, fmt.Errorf("analysis id is required")
	}

	v.emitMu.Lock()
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		v.emitMu.Unlock()
		return nil, fmt.Errorf("results view is closed")
	}
	v.stopTimersLocked()
	if v.cancel != nil {
		v.cancel()
	}
	v.ctx, v.cancel = context.WithCancel(context.WithoutCancel(ctx))

	v.epoch++
	v.analysisID = analysisID
	q.Page = 1
	v.query = q.Normalized()
	v.applied = v.seq
	v.seq++
	v.polls = 0
	v.pollInFlight = false
	v.generating = false
	if v.maxDuration > 0 {
		v.deadline = time.Now().Add(v.maxDuration)
	} else {
		v.deadline = time.Time{}
	}
	v.last = ResultsSnapshot{AnalysisID: analysisID, Query: v.query}
	epoch, seq, query, runCtx := v.epoch, v.seq, v.query, v.ctx
	v.mu.Unlock()
	v.emitMu.Unlock()

	logrus.WithField("analysis_id", analysisID).Debug("Results view opened")
	return v.fetch(runCtx, epoch, seq, query, false)
}

func (v *ResultsView) SetPage(page int) (*ResultsSnapshot, error) {
	return v.update(func(q *models.ResultsQuery) { q.Page = page })
}

func (v *ResultsView) SetPageSize(size int) (*ResultsSnapshot, error) {
	return v.update(func(q *models.ResultsQuery) {
		q.PageSize = size
		q.Page = 1
	})
}

func (v *ResultsView) SetSeverity(level string) (*ResultsSnapshot, error) {
	return v.update(func(q *models.ResultsQuery) {
		q.SeverityLevel = strings.TrimSpace(level)
		q.Page = 1
	})
}

// SetSearch applies the keyword after the debounce window; only the last keyword
// typed within the window is fetched.
func (v *ResultsView) SetSearch(keyword string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.analysisID == "" {
		return
	}
	if v.debounceTimer != nil {
		v.debounceTimer.Stop()
	}

	epoch := v.epoch
	keyword = strings.TrimSpace(keyword)
	v.debounceTimer = time.AfterFunc(v.debounce, func() {
		v.mu.Lock()
		if v.closed || epoch != v.epoch {
			v.mu.Unlock()
			return
		}
		v.debounceTimer = nil
		v.mu.Unlock()

		if _, err := v.update(func(q *models.ResultsQuery) {
			q.SearchKeyword = keyword
			q.Page = 1
		}); err != nil {
			logrus.WithError(err).Debug("Debounced results search failed")
		}
	})
}

// Close stops polling; responses still in flight are discarded.
func (v *ResultsView) Close() {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closed = true
	v.epoch++
	v.stopTimersLocked()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

func (v *ResultsView) Snapshot() ResultsSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

func (v *ResultsView) update(mutate func(q *models.ResultsQuery)) (*ResultsSnapshot, error) {
	v.mu.Lock()
	if v.closed || v.analysisID == "" {
		v.mu.Unlock()
		return nil, fmt.Errorf("results view is not open")
	}
	q := v.query
	mutate(&q)
	v.query = q.Normalized()
	v.seq++
	epoch, seq, query, runCtx := v.epoch, v.seq, v.query, v.ctx
	v.mu.Unlock()

	return v.fetch(runCtx, epoch, seq, query, false)
}

func (v *ResultsView) poll(epoch uint64) {
	v.mu.Lock()
	if v.closed || epoch != v.epoch {
		v.mu.Unlock()
		return
	}
	v.timer = nil
	v.pollInFlight = true
	v.polls++
	v.seq++
	seq, query, runCtx := v.seq, v.query, v.ctx
	v.mu.Unlock()

	if _, err := v.fetch(runCtx, epoch, seq, query, true); err != nil {
		logrus.WithError(err).Debug("Results poll failed")
	}
}

func (v *ResultsView) fetch(ctx context.Context, epoch, seq uint64, q models.ResultsQuery, fromPoll bool) (*ResultsSnapshot, error) {
	analysisID := v.currentAnalysis(epoch)
	if analysisID == "" {
		return nil, nil
	}

	page, err := v.fetcher.GetAnalysisResults(ctx, analysisID, q)

	v.mu.Lock()
	if v.closed || epoch != v.epoch {
		v.mu.Unlock()
		return nil, nil
	}
	if fromPoll {
		v.pollInFlight = false
	}
	if err != nil {
		// A failed poll ends polling instead of retrying forever
		if fromPoll {
			v.generating = false
		}
		v.last.Error = err.Error()
		v.last.Polling = v.timer != nil
		snapshot := v.last
		v.mu.Unlock()
		v.emit(epoch, snapshot)
		return nil, err
	}
	if seq < v.applied {
		// A newer response already landed; keep the poll loop alive
		if fromPoll && v.generating {
			v.schedulePollLocked()
		}
		v.mu.Unlock()
		return nil, nil
	}
	v.applied = seq

	wasGenerating := v.generating
	v.generating = page.Status == models.AnalysisStatusGenerating
	v.last.Page = page
	v.last.Query = q
	v.last.Error = ""
	v.last.Version = seq

	reload := false
	switch {
	case v.generating:
		v.schedulePollLocked()
	case wasGenerating:
		// Generation just ended
		v.stopPollLocked()
		reload = true
	case v.last.Filters == nil:
		reload = true
	}
	v.last.Polling = v.timer != nil || v.pollInFlight
	snapshot := v.last
	v.mu.Unlock()

	v.emit(epoch, snapshot)

	if reload {
		go v.reload(ctx, epoch)
	}
	return &snapshot, nil
}

// reload fetches the current page and the filter values together once the
// analysis is no longer generating.
func (v *ResultsView) reload(ctx context.Context, epoch uint64) {
	analysisID := v.currentAnalysis(epoch)
	if analysisID == "" {
		return
	}

	v.mu.Lock()
	v.seq++
	seq, q := v.seq, v.query
	v.mu.Unlock()

	page, err := v.fetcher.GetAnalysisResults(ctx, analysisID, q)
	if err != nil {
		logrus.WithError(err).WithField("analysis_id", analysisID).Warn("Results reload failed")
		return
	}
	filters, err := v.fetcher.GetFilters(ctx, analysisID)
	if err != nil {
		logrus.WithError(err).WithField("analysis_id", analysisID).Warn("Filter reload failed")
	}

	v.mu.Lock()
	if v.closed || epoch != v.epoch || seq < v.applied {
		v.mu.Unlock()
		return
	}
	v.applied = seq
	v.last.Page = page
	v.last.Query = q
	if filters != nil {
		v.last.Filters = filters
	}
	v.last.Final = page.Status != models.AnalysisStatusGenerating
	v.last.Polling = false
	v.last.Version = seq
	if page.Status == models.AnalysisStatusGenerating {
		// A restart put the analysis back into generation
		v.generating = true
		v.schedulePollLocked()
		v.last.Polling = v.timer != nil
	}
	snapshot := v.last
	v.mu.Unlock()

	v.emit(epoch, snapshot)
}

func (v *ResultsView) currentAnalysis(epoch uint64) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || epoch != v.epoch {
		return ""
	}
	return v.analysisID
}

func (v *ResultsView) schedulePollLocked() {
	if v.timer != nil || v.pollInFlight {
		return
	}
	if !v.deadline.IsZero() && time.Now().After(v.deadline) {
		v.generating = false
		v.last.Error = "results polling stopped after reaching its time limit"
		return
	}

	delay := v.interval
	if v.polls == 0 {
		delay = v.firstDelay
	}
	epoch := v.epoch
	v.timer = time.AfterFunc(delay, func() { v.poll(epoch) })
}

func (v *ResultsView) stopPollLocked() {
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

func (v *ResultsView) stopTimersLocked() {
	v.stopPollLocked()
	if v.debounceTimer != nil {
		v.debounceTimer.Stop()
		v.debounceTimer = nil
	}
}

func (v *ResultsView) emit(epoch uint64, snapshot ResultsSnapshot) {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	current := !v.closed && epoch == v.epoch
	fn := v.onUpdate
	v.mu.Unlock()

	if current && fn != nil {
		fn(snapshot)
	}
}
