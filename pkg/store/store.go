package store

import (
	"context"

	"github.com/corpacademy/coursegen/pkg/models"
)

// Store is the single source of truth for workflow records. All mutations
// to a given record go through Update so concurrent workflow tasks and
// cancellation requests never race on shared state.
type Store interface {
	// Create registers a new record. The workflow ID must be unused.
	Create(ctx context.Context, result *models.WorkflowResult) error

	// Update applies mutate to the record under the store's lock and
	// returns a copy of the updated record. Records that have already
	// reached a terminal status are immutable; updating one returns
	// ErrWorkflowAlreadyTerminal. A record the mutator drives into a
	// terminal status moves from the active set to the bounded
	// completed history.
	Update(ctx context.Context, workflowID string, mutate func(*models.WorkflowResult) error) (*models.WorkflowResult, error)

	// Get returns a copy of the record, active or completed.
	Get(ctx context.Context, workflowID string) (*models.WorkflowResult, error)

	// ListActive returns copies of all non-terminal records.
	ListActive(ctx context.Context) ([]*models.WorkflowResult, error)

	// ListCompleted returns up to limit terminal records, newest first.
	ListCompleted(ctx context.Context, limit int) ([]*models.WorkflowResult, error)

	// Counts reports the number of active records, retained completed
	// records, and the cumulative count of workflows that have reached a
	// terminal status since the store was created. processed keeps
	// growing after eviction trims the retained history.
	Counts(ctx context.Context) (active int, completed int, processed int, err error)

	// Evict trims the completed history down to the retention limit.
	Evict(ctx context.Context) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
