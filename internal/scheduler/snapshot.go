package scheduler

import (
	"time"

	"github.com/me/cotask/internal/task"
	"github.com/me/cotask/pkg/model"
)

// TaskStatus is the observable state of one admitted task.
type TaskStatus struct {
	Name      string          `json:"name"`
	ExecState model.ExecState `json:"exec_state"`
	State     string          `json:"state"`
	Progress  float64         `json:"progress"`
	Cycles    int             `json:"cycles"`
	CPUTime   time.Duration   `json:"cpu_time_ns"`
	Blocked   bool            `json:"blocked,omitempty"`
}

// Snapshot is a point-in-time view of the executor, published at the end
// of every tick. Observers on other goroutines read it through
// Executor.Snapshot.
type Snapshot struct {
	RunID     string        `json:"run_id"`
	Tick      int           `json:"tick"`
	Limit     int           `json:"limit"`
	Pending   int           `json:"pending"`
	Runnable  int           `json:"runnable"`
	Active    int           `json:"active"`
	Retired   int           `json:"retired"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Blocked   int           `json:"blocked"`
	Progress  float64       `json:"progress"`
	CPUTime   time.Duration `json:"cpu_time_ns"`
	Tasks     []TaskStatus  `json:"tasks"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Done reports whether every admitted task has been retired.
func (s Snapshot) Done() bool {
	return s.Pending+s.Runnable+s.Active == 0
}

// Snapshot returns the view published by the most recent tick.
func (e *Executor) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

func (e *Executor) publish() {
	c := e.count()
	snap := Snapshot{
		RunID:     e.runID,
		Tick:      e.ticks,
		Limit:     e.limit,
		Pending:   c.pending,
		Runnable:  c.runnable,
		Active:    c.active,
		Retired:   c.retired,
		Tasks:     make([]TaskStatus, 0, len(e.order)),
		UpdatedAt: e.now(),
	}

	items := make([]task.Schedulable, 0, len(e.order))
	for _, en := range e.order {
		t := en.task
		items = append(items, t)
		st := TaskStatus{
			Name:      t.Name(),
			ExecState: en.state,
			State:     t.State().String(),
			Progress:  t.ComputeProgress(),
			Cycles:    t.ExecutedCycleCount(),
			CPUTime:   t.ExecutedCPUTime(),
			Blocked:   en.blocked,
		}
		switch t.State() {
		case model.TaskStateSucceeded:
			snap.Succeeded++
		case model.TaskStateFailed:
			snap.Failed++
		}
		if en.blocked {
			snap.Blocked++
		}
		snap.CPUTime += st.CPUTime
		snap.Tasks = append(snap.Tasks, st)
	}
	snap.Progress = task.WeightedProgress(e.runID, items)

	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
}
