package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// CheckpointStore defines the interface for persisting workflow checkpoints.
// The protocol only needs get/put at whole-checkpoint granularity.
type CheckpointStore interface {
	// Save persists the checkpoint for a given workflow instance.
	Save(ctx context.Context, workflowID string, cp *domain.Checkpoint) error

	// Load retrieves the checkpoint for a given workflow instance.
	// Returns domain.ErrCheckpointNotFound if it does not exist.
	Load(ctx context.Context, workflowID string) (*domain.Checkpoint, error)

	// Delete removes the checkpoint for a given workflow instance.
	Delete(ctx context.Context, workflowID string) error

	// List returns the ids of all stored workflow instances.
	List(ctx context.Context) ([]string, error)
}
