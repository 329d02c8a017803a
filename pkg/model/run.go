package model

import "time"

// Run is the journal entry for one drain of a task graph.
type Run struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	State       RunState      `json:"state"`
	Policy      string        `json:"failure_policy,omitempty"`
	TaskCount   int           `json:"task_count"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Blocked     int           `json:"blocked"`
	Ticks       int           `json:"ticks"`
	CPUTime     time.Duration `json:"cpu_time_ns"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Tasks       []TaskRecord  `json:"tasks,omitempty"`
}

// TaskRecord is the retired bookkeeping of a single task within a run.
type TaskRecord struct {
	RunID     string        `json:"run_id"`
	Name      string        `json:"name"`
	State     string        `json:"state"`
	Cycles    int           `json:"cycles"`
	CPUTime   time.Duration `json:"cpu_time_ns"`
	Progress  float64       `json:"progress"`
	Error     string        `json:"error,omitempty"`
	RetiredAt time.Time     `json:"retired_at"`
}

// Duration returns the wall-clock span of the run, or zero while it is
// still running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
