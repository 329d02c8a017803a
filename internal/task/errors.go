package task

import (
	"errors"
	"fmt"
)

var (
	// ErrRetired is returned when a task that already reported a terminal
	// signal is cycled again.
	ErrRetired = errors.New("task already retired")
	// ErrGroupSealed is returned when a child is added to a group that has
	// already been used as a dependency.
	ErrGroupSealed = errors.New("group is sealed")
	// ErrDependencyCycle is returned when an edge would make the graph cyclic.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrDeadlineExceeded is the failure cause reported by Wait.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	// ErrFailed matches every FailureError.
	ErrFailed = errors.New("task failed")
)

// FailureError is passed to failed listeners when a task or group fails.
// Cause is nil when the cycle function simply returned SignalEndFailure.
type FailureError struct {
	Name  string
	Cause error
}

func (e *FailureError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("task %q failed", e.Name)
	}
	return fmt.Sprintf("task %q failed: %v", e.Name, e.Cause)
}

func (e *FailureError) Unwrap() error { return e.Cause }

// Is reports ErrFailed as a match so callers need not type-assert.
func (e *FailureError) Is(target error) bool { return target == ErrFailed }

func failure(name string, cause error) error {
	var fe *FailureError
	if errors.As(cause, &fe) && fe.Name == name {
		return fe
	}
	return &FailureError{Name: name, Cause: cause}
}
