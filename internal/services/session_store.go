// internal/services/session_store.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/javajoker/pha-gateway/internal/database"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/utils"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

// SessionStore persists workflow snapshots so a conversation survives restarts.
type SessionStore interface {
	Save(ctx context.Context, session *models.WorkflowSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.WorkflowSession, error)
	ListByUser(ctx context.Context, userID string, params utils.PaginationParams) ([]models.WorkflowSession, int64, error)
	// FindByOrderID returns the session that redeemed orderID, or ErrWorkflowNotFound.
	FindByOrderID(ctx context.Context, orderID string) (*models.WorkflowSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type GormSessionStore struct {
	db *gorm.DB
}

func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

func (s *GormSessionStore) Save(ctx context.Context, session *models.WorkflowSession) error {
	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("failed to save workflow session: %w", err)
	}
	return nil
}

func (s *GormSessionStore) Get(ctx context.Context, id uuid.UUID) (*models.WorkflowSession, error) {
	var session models.WorkflowSession
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to load workflow session: %w", err)
	}
	return &session, nil
}

func (s *GormSessionStore) ListByUser(ctx context.Context, userID string, params utils.PaginationParams) ([]models.WorkflowSession, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.WorkflowSession{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count workflow sessions: %w", err)
	}

	var sessions []models.WorkflowSession
	query = utils.ApplySort(query, params, []string{"created_at", "updated_at", "step"})
	if err := utils.ApplyPagination(query, params).Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list workflow sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *GormSessionStore) FindByOrderID(ctx context.Context, orderID string) (*models.WorkflowSession, error) {
	var session models.WorkflowSession
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to look up workflow by order: %w", err)
	}
	return &session, nil
}

func (s *GormSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		result := tx.Delete(&models.WorkflowSession{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete workflow session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrWorkflowNotFound
		}
		return nil
	})
}

// MemorySessionStore keeps sessions in process; used when no database is configured and in tests.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]models.WorkflowSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[uuid.UUID]models.WorkflowSession)}
}

func (s *MemorySessionStore) Save(_ context.Context, session *models.WorkflowSession) error {
	now := time.Now().UTC()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	s.mu.Lock()
	s.sessions[session.ID] = cloneSession(*session)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id uuid.UUID) (*models.WorkflowSession, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	session = cloneSession(session)
	return &session, nil
}

func (s *MemorySessionStore) ListByUser(_ context.Context, userID string, params utils.PaginationParams) ([]models.WorkflowSession, int64, error) {
	s.mu.RLock()
	matched := make([]models.WorkflowSession, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			matched = append(matched, cloneSession(session))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if params.Order == "asc" {
			return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := int64(len(matched))
	start := params.Offset()
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}
	return matched[start:end], total, nil
}

func (s *MemorySessionStore) FindByOrderID(_ context.Context, orderID string) (*models.WorkflowSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if orderID != "" && session.OrderID == orderID {
			found := cloneSession(session)
			return &found, nil
		}
	}
	return nil, ErrWorkflowNotFound
}

func (s *MemorySessionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.sessions, id)
	return nil
}

func cloneSession(in models.WorkflowSession) models.WorkflowSession {
	out := in
	out.Products = append(models.ProductList(nil), in.Products...)
	out.SelectedIDs = append(pq.StringArray(nil), in.SelectedIDs...)
	out.Messages = append(models.MessageLog(nil), in.Messages...)
	if in.CompletedAt != nil {
		completedAt := *in.CompletedAt
		out.CompletedAt = &completedAt
	}
	return out
}
