package store

import (
	"context"
	"time"

	"github.com/me/cotask/pkg/model"
)

// Store defines the run journal.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	PruneRuns(ctx context.Context, before time.Time) (int64, error)

	// Task records
	RecordTask(ctx context.Context, rec model.TaskRecord) error
	ListTaskRecords(ctx context.Context, runID string) ([]model.TaskRecord, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
