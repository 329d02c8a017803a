package task

import (
	"sync"

	"github.com/me/cotask/pkg/model"
)

// Event is a one-shot notification. Listeners subscribed after the event
// fired are invoked immediately with the recorded error.
type Event struct {
	mu        sync.Mutex
	fired     bool
	err       error
	listeners []func(error)
}

// Once registers fn to run when the event fires.
func (e *Event) Once(fn func(error)) {
	e.mu.Lock()
	if e.fired {
		err := e.err
		e.mu.Unlock()
		fn(err)
		return
	}
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Fired reports whether Dispatch has been called.
func (e *Event) Fired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

// Dispatch fires the event. Only the first call has any effect; it
// returns false for every later call.
func (e *Event) Dispatch(err error) bool {
	e.mu.Lock()
	if e.fired {
		e.mu.Unlock()
		return false
	}
	e.fired = true
	e.err = err
	listeners := e.listeners
	e.listeners = nil
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
	return true
}

// StateValue is an observable model.TaskState.
type StateValue struct {
	mu        sync.Mutex
	name      string
	value     model.TaskState
	listeners []func(from, to model.TaskState)
}

// Get returns the current state.
func (s *StateValue) Get() model.TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// OnChange registers fn to run on every transition.
func (s *StateValue) OnChange(fn func(from, to model.TaskState)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Set moves to next, rejecting transitions the state machine forbids.
func (s *StateValue) Set(next model.TaskState) error {
	s.mu.Lock()
	from := s.value
	if !from.CanTransitionTo(next) {
		s.mu.Unlock()
		return &model.InvalidTransitionError{
			Entity: "task",
			Name:   s.name,
			From:   from.String(),
			To:     next.String(),
		}
	}
	s.value = next
	listeners := make([]func(from, to model.TaskState), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(from, next)
	}
	return nil
}

// completion is the lifecycle shared by Task and Group: observable state
// plus the started, completed and failed events.
type completion struct {
	state     StateValue
	started   Event
	completed Event
	failed    Event
}

func (c *completion) setName(name string) {
	c.state.name = name
}

// State returns the current lifecycle state.
func (c *completion) State() model.TaskState { return c.state.Get() }

// StateValue exposes the observable state for polling or change listeners.
func (c *completion) StateValue() *StateValue { return &c.state }

// OnStarted registers fn to run once when the first cycle begins.
func (c *completion) OnStarted(fn func()) {
	c.started.Once(func(error) { fn() })
}

// OnCompleted registers fn to run once on success.
func (c *completion) OnCompleted(fn func()) {
	c.completed.Once(func(error) { fn() })
}

// OnFailed registers fn to run once on failure.
func (c *completion) OnFailed(fn func(error)) {
	c.failed.Once(fn)
}

// Join bridges the terminal state to callbacks. If the state is already
// terminal the matching callback runs synchronously. reject may be nil.
func (c *completion) Join(resolve func(), reject func(error)) {
	if resolve != nil {
		c.completed.Once(func(error) { resolve() })
	}
	if reject != nil {
		c.failed.Once(reject)
	}
}

func (c *completion) markRunning() {
	if c.state.Get() != model.TaskStateInitial {
		return
	}
	if err := c.state.Set(model.TaskStateRunning); err != nil {
		panic(err)
	}
	c.started.Dispatch(nil)
}

func (c *completion) finish(succeeded bool, err error) {
	next := model.TaskStateFailed
	if succeeded {
		next = model.TaskStateSucceeded
	}
	if setErr := c.state.Set(next); setErr != nil {
		// A second terminal transition is a programmer error.
		panic(setErr)
	}
	if succeeded {
		c.completed.Dispatch(nil)
	} else {
		c.failed.Dispatch(err)
	}
}
