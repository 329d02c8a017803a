package scheduler

import (
	"github.com/me/cotask/internal/task"
	"github.com/me/cotask/pkg/model"
)

// dependencyStatus checks whether all prerequisites of t have succeeded.
//
// Returns:
//   - satisfied=true,  blocked=false: all deps SUCCEEDED (or no deps).
//   - satisfied=false, blocked=true: at least one dep FAILED.
//   - satisfied=false, blocked=false: deps exist but are not yet finished.
func dependencyStatus(t *task.Task) (satisfied bool, blocked bool) {
	satisfied = true
	for _, dep := range t.Dependencies() {
		switch dep.State() {
		case model.TaskStateSucceeded:
			continue
		case model.TaskStateFailed:
			return false, true
		default:
			satisfied = false
		}
	}
	return satisfied, false
}

// failedDependencies returns the names of t's failed prerequisites.
func failedDependencies(t *task.Task) []string {
	var names []string
	for _, dep := range t.Dependencies() {
		if dep.State() == model.TaskStateFailed {
			names = append(names, dep.Name())
		}
	}
	return names
}
