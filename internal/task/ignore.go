package task

import (
	"log/slog"

	"github.com/me/cotask/pkg/model"
)

// IgnoreFailure wraps inner so that its failure never reaches dependents.
// An initializer error is logged and turns the wrapper into a no-op that
// succeeds on its first cycle. Cycle errors and SignalEndFailure from inner
// become SignalEndSuccess; Continue and Yield pass through. The wrapper
// shares inner's Counters, so its CPU time and cycle count are inner's.
//
// The wrapper takes over inner's prerequisites as they are at the time of
// the call. Declare every dependency of inner before wrapping it; edges
// added to inner afterwards are not seen by the wrapper.
func IgnoreFailure(inner *Task, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task", "task", inner.Name())

	var initFailed bool
	w := New(inner.Name(),
		func() (model.Signal, error) {
			if initFailed {
				return model.SignalEndSuccess, nil
			}
			sig, err := inner.Cycle()
			if err != nil {
				logger.Warn("task failure ignored", "error", err)
				return model.SignalEndSuccess, nil
			}
			if sig == model.SignalEndFailure {
				logger.Warn("task failure ignored", "signal", sig)
				return model.SignalEndSuccess, nil
			}
			return sig, nil
		},
		WithInitializer(func() error {
			if err := inner.Initialize(); err != nil {
				logger.Warn("task initialization failure ignored", "error", err)
				initFailed = true
			}
			return nil
		}),
		WithEstimatedDuration(inner.EstimatedDuration()),
		WithCounters(inner.Counters()),
	)
	w.progress = func() float64 {
		if w.State() == model.TaskStateSucceeded || initFailed {
			return 1
		}
		return inner.ComputeProgress()
	}
	for _, dep := range inner.Dependencies() {
		if err := w.addDependency(dep); err != nil {
			panic(&model.ContractError{Name: inner.Name(), Message: err.Error()})
		}
	}
	return w
}
