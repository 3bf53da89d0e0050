package driving

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// Scheduler runs background tasks such as proactive token refresh.
type Scheduler interface {
	// Start blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error
	Stop() error

	// RunTask runs a task immediately, outside its schedule.
	RunTask(ctx context.Context, taskID string) (*domain.TaskResult, error)
	// Tasks lists persisted task state with each task's latest result.
	Tasks(ctx context.Context) ([]TaskStatus, error)
}

// TaskStatus pairs a task with its most recent run, if any.
type TaskStatus struct {
	Task       domain.ScheduledTask
	LastResult *domain.TaskResult
}
