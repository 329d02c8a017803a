package model

// Signal is what a task reports after one cycle of execution.
type Signal int

const (
	// SignalContinue means more work remains; cycle again next tick.
	SignalContinue Signal = iota
	// SignalYield gives up the current tick without finishing, typically
	// while an external result is outstanding.
	SignalYield
	// SignalEndSuccess is the terminal success signal.
	SignalEndSuccess
	// SignalEndFailure is the terminal failure signal.
	SignalEndFailure
)

// String returns the string representation of the signal.
func (s Signal) String() string {
	switch s {
	case SignalContinue:
		return "CONTINUE"
	case SignalYield:
		return "YIELD"
	case SignalEndSuccess:
		return "END_SUCCESS"
	case SignalEndFailure:
		return "END_FAILURE"
	}
	return "UNKNOWN"
}

// IsTerminal returns true if the signal retires the task.
func (s Signal) IsTerminal() bool {
	return s == SignalEndSuccess || s == SignalEndFailure
}

// Valid reports whether s is one of the four defined signals.
func (s Signal) Valid() bool {
	return s >= SignalContinue && s <= SignalEndFailure
}

// TaskState is the observable lifecycle stage of a Task or Group.
type TaskState int

const (
	TaskStateInitial TaskState = iota
	TaskStateRunning
	TaskStateSucceeded
	TaskStateFailed
)

// String returns the string representation of the task state.
func (s TaskState) String() string {
	switch s {
	case TaskStateInitial:
		return "INITIAL"
	case TaskStateRunning:
		return "RUNNING"
	case TaskStateSucceeded:
		return "SUCCEEDED"
	case TaskStateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// IsTerminal returns true if the task is in a final state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed:
		return true
	}
	return false
}

// ValidTaskTransitions defines the allowed state transitions for tasks.
// Initial may go straight to a terminal state when a task ends on its
// first cycle or is retired by the executor without running.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStateInitial: {TaskStateRunning, TaskStateSucceeded, TaskStateFailed},
	TaskStateRunning: {TaskStateSucceeded, TaskStateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ExecState is the executor's private view of an admitted task.
type ExecState string

const (
	ExecStatePending  ExecState = "PENDING"
	ExecStateRunnable ExecState = "RUNNABLE"
	ExecStateActive   ExecState = "ACTIVE"
	ExecStateRetired  ExecState = "RETIRED"
)

// String returns the string representation of the executor state.
func (s ExecState) String() string {
	return string(s)
}

// IsTerminal returns true if the executor no longer tracks the task.
func (s ExecState) IsTerminal() bool {
	return s == ExecStateRetired
}

// RunState represents the lifecycle state of a recorded run.
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
	RunStateStalled   RunState = "STALLED"
	RunStateCancelled RunState = "CANCELLED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateStalled, RunStateCancelled:
		return true
	}
	return false
}
