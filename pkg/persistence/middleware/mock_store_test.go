package middleware_test

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// MockStore is a simple map-based store for testing middleware.
// It keeps pointers as given so tests can inspect exactly what was written.
type MockStore struct {
	data map[string]*domain.Checkpoint
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]*domain.Checkpoint),
	}
}

func (s *MockStore) Save(ctx context.Context, workflowID string, cp *domain.Checkpoint) error {
	s.data[workflowID] = cp
	return nil
}

func (s *MockStore) Load(ctx context.Context, workflowID string) (*domain.Checkpoint, error) {
	cp, ok := s.data[workflowID]
	if !ok {
		return nil, domain.ErrCheckpointNotFound
	}
	return cp, nil
}

func (s *MockStore) Delete(ctx context.Context, workflowID string) error {
	delete(s.data, workflowID)
	return nil
}

func (s *MockStore) List(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

var _ ports.CheckpointStore = (*MockStore)(nil)
