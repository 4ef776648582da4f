// internal/services/workflow_manager.go
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/utils"
)

// WorkflowManager owns the live workflows and loads persisted ones on demand.
type WorkflowManager struct {
	mu         sync.Mutex
	workflows  map[uuid.UUID]*Workflow
	deps       WorkflowDeps
	variant    models.FlowVariant
	onComplete CompletionHandler
}

func NewWorkflowManager(deps WorkflowDeps, cfg *config.Config) *WorkflowManager {
	return &WorkflowManager{
		workflows: make(map[uuid.UUID]*Workflow),
		deps:      deps,
		variant:   models.FlowVariant(cfg.Workflow.FlowVariant),
	}
}

// OnComplete registers a handler for every workflow the manager creates or loads.
func (m *WorkflowManager) OnComplete(fn CompletionHandler) {
	m.mu.Lock()
	m.onComplete = fn
	m.mu.Unlock()
}

func (m *WorkflowManager) Create(ctx context.Context, userID, lang string) (*Workflow, error) {
	w := NewWorkflow(userID, lang, m.variant, m.deps)

	m.mu.Lock()
	w.onComplete = m.onComplete
	m.workflows[w.ID()] = w
	m.mu.Unlock()

	if m.deps.Store != nil {
		if err := m.deps.Store.Save(ctx, w.session); err != nil {
			m.mu.Lock()
			delete(m.workflows, w.ID())
			m.mu.Unlock()
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"workflow_id": w.ID(),
		"user_id":     userID,
		"variant":     w.session.FlowVariant,
	}).Info("Workflow created")
	return w, nil
}

// Get returns the caller's workflow. Workflows owned by someone else are reported
// as not found.
func (m *WorkflowManager) Get(ctx context.Context, userID string, id uuid.UUID, lang string) (*Workflow, error) {
	m.mu.Lock()
	w, ok := m.workflows[id]
	m.mu.Unlock()

	if ok {
		if w.UserID() != userID {
			return nil, ErrWorkflowNotFound
		}
		w.SetLanguage(lang)
		return w, nil
	}

	if m.deps.Store == nil {
		return nil, ErrWorkflowNotFound
	}
	session, err := m.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrWorkflowNotFound
	}

	m.mu.Lock()
	if existing, ok := m.workflows[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	w = restoreWorkflow(session, lang, m.deps)
	w.onComplete = m.onComplete
	m.workflows[id] = w
	m.mu.Unlock()

	// The caller's token is on ctx, so polling can pick up where it stopped
	w.Resume(ctx)
	return w, nil
}

func (m *WorkflowManager) List(ctx context.Context, userID string, params utils.PaginationParams) ([]models.WorkflowSession, int64, error) {
	if m.deps.Store == nil {
		return []models.WorkflowSession{}, 0, nil
	}
	return m.deps.Store.ListByUser(ctx, userID, params)
}

// Close stops the workflow and removes it from storage.
func (m *WorkflowManager) Close(ctx context.Context, userID string, id uuid.UUID) error {
	w, err := m.Get(ctx, userID, id, "")
	if err != nil {
		return err
	}
	w.Close()

	m.mu.Lock()
	delete(m.workflows, id)
	m.mu.Unlock()

	if m.deps.Store != nil {
		if err := m.deps.Store.Delete(ctx, id); err != nil && !errors.Is(err, ErrWorkflowNotFound) {
			return err
		}
	}

	logrus.WithField("workflow_id", id).Info("Workflow closed")
	return nil
}

// Sweep unloads idle workflows that have no generation in flight. Their state
// stays in the store.
func (m *WorkflowManager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, w := range m.workflows {
		if w.busy() || w.idleSince().After(cutoff) {
			continue
		}
		w.Close()
		delete(m.workflows, id)
		evicted++
	}
	return evicted
}

// RunSweeper unloads idle workflows until ctx is done.
func (m *WorkflowManager) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(maxIdle); n > 0 {
				logrus.WithField("evicted", n).Debug("Unloaded idle workflows")
			}
		}
	}
}

// Shutdown stops every live workflow.
func (m *WorkflowManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range m.workflows {
		w.Close()
		delete(m.workflows, id)
	}
}
