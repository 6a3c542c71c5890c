package store

import (
	"context"
	"sync"

	"github.com/corpacademy/coursegen/pkg/models"
)

const defaultRetention = 100

// MemoryStore keeps workflow records in process memory: an active map
// plus a bounded completed list with the oldest records evicted first.
type MemoryStore struct {
	mu        sync.RWMutex
	active    map[string]*models.WorkflowResult
	completed []*models.WorkflowResult
	processed int
	retention int
}

// NewMemoryStore creates a store retaining up to retention completed
// records.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = defaultRetention
	}

	return &MemoryStore{
		active:    make(map[string]*models.WorkflowResult),
		retention: retention,
	}
}

func (s *MemoryStore) Create(_ context.Context, result *models.WorkflowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[result.WorkflowID]; exists {
		return NewWorkflowError("Create", result.WorkflowID, ErrWorkflowAlreadyExists)
	}

	if s.findCompletedLocked(result.WorkflowID) != nil {
		return NewWorkflowError("Create", result.WorkflowID, ErrWorkflowAlreadyExists)
	}

	s.active[result.WorkflowID] = result.Clone()

	return nil
}

func (s *MemoryStore) Update(_ context.Context, workflowID string, mutate func(*models.WorkflowResult) error) (*models.WorkflowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.active[workflowID]
	if !exists {
		if s.findCompletedLocked(workflowID) != nil {
			return nil, NewWorkflowError("Update", workflowID, ErrWorkflowAlreadyTerminal)
		}

		return nil, NewWorkflowError("Update", workflowID, ErrWorkflowNotFound)
	}

	if err := mutate(record); err != nil {
		return nil, err
	}

	if record.Status.Terminal() {
		delete(s.active, workflowID)
		s.completed = append([]*models.WorkflowResult{record}, s.completed...)
		s.processed++
		s.evictLocked()
	}

	return record.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, workflowID string) (*models.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if record, exists := s.active[workflowID]; exists {
		return record.Clone(), nil
	}

	if record := s.findCompletedLocked(workflowID); record != nil {
		return record.Clone(), nil
	}

	return nil, NewWorkflowError("Get", workflowID, ErrWorkflowNotFound)
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*models.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*models.WorkflowResult, 0, len(s.active))
	for _, record := range s.active {
		results = append(results, record.Clone())
	}

	return results, nil
}

func (s *MemoryStore) ListCompleted(_ context.Context, limit int) ([]*models.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.completed) {
		limit = len(s.completed)
	}

	results := make([]*models.WorkflowResult, 0, limit)
	for _, record := range s.completed[:limit] {
		results = append(results, record.Clone())
	}

	return results, nil
}

func (s *MemoryStore) Counts(_ context.Context) (int, int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.active), len(s.completed), s.processed, nil
}

func (s *MemoryStore) Evict(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()

	return nil
}

func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}

func (s *MemoryStore) findCompletedLocked(workflowID string) *models.WorkflowResult {
	for _, record := range s.completed {
		if record.WorkflowID == workflowID {
			return record
		}
	}

	return nil
}

func (s *MemoryStore) evictLocked() {
	if len(s.completed) > s.retention {
		s.completed = s.completed[:s.retention]
	}
}
