// Package scheduler drives cooperative tasks to completion.
//
// The Executor admits task graphs, promotes tasks whose prerequisites
// succeeded, and gives every active task exactly one cycle per tick while
// keeping the number of active tasks within a configurable floor and
// ceiling.
package scheduler

import "context"

// Scheduler advances admitted work one tick at a time.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) error
}
