package task

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/me/cotask/pkg/model"
)

// CycleFunc performs one slice of work. A non-nil error is a cycle
// exception: Task never converts it to SignalEndFailure and hands it back to
// whoever called Cycle.
type CycleFunc func() (model.Signal, error)

// Option configures a Task at construction.
type Option func(*Task)

// WithInitializer sets the setup function run exactly once before the
// first cycle.
func WithInitializer(fn func() error) Option {
	return func(t *Task) { t.init = fn }
}

// WithProgress sets the progress estimator. It must return a value in [0,1].
func WithProgress(fn func() float64) Option {
	return func(t *Task) { t.progress = fn }
}

// WithEstimatedDuration sets the weight used for progress aggregation.
func WithEstimatedDuration(d float64) Option {
	return func(t *Task) { t.estimate = d }
}

// WithCounters makes the task report c instead of recording its own cycles.
func WithCounters(c *Counters) Option {
	return func(t *Task) {
		t.counters = c
		t.borrowed = true
	}
}

// Spec is the construction contract for producers that describe a task as
// data rather than options.
type Spec struct {
	Name              string
	Initializer       func() error
	Cycle             CycleFunc
	Progress          func() float64
	Dependencies      []Schedulable
	EstimatedDuration *float64
}

// Task is the atomic unit of cooperative work.
type Task struct {
	completion

	name     string
	init     func() error
	cycle    CycleFunc
	progress func() float64
	estimate float64
	deps     []*Task

	counters *Counters
	borrowed bool

	initialized bool
	initErr     error
	cause       error
}

// New creates a task. cycle is mandatory.
func New(name string, cycle CycleFunc, opts ...Option) *Task {
	if cycle == nil {
		panic(&model.ContractError{Name: name, Message: "nil cycle function"})
	}
	t := &Task{
		name:     name,
		cycle:    cycle,
		estimate: 1,
		counters: &Counters{},
	}
	t.completion.setName(name)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Build creates a task from a Spec and declares its dependencies.
func Build(spec Spec) (*Task, error) {
	if spec.Cycle == nil {
		return nil, fmt.Errorf("build task %q: cycle function is required", spec.Name)
	}
	opts := []Option{}
	if spec.Initializer != nil {
		opts = append(opts, WithInitializer(spec.Initializer))
	}
	if spec.Progress != nil {
		opts = append(opts, WithProgress(spec.Progress))
	}
	if spec.EstimatedDuration != nil {
		opts = append(opts, WithEstimatedDuration(*spec.EstimatedDuration))
	}
	t := New(spec.Name, spec.Cycle, opts...)
	if err := t.AddDependencies(spec.Dependencies...); err != nil {
		return nil, fmt.Errorf("build task %q: %w", spec.Name, err)
	}
	return t, nil
}

// Name returns the diagnostic name. Names need not be unique.
func (t *Task) Name() string { return t.name }

func (t *Task) String() string { return t.name }

// Dependencies returns the prerequisite tasks in declaration order.
func (t *Task) Dependencies() []*Task {
	return slices.Clone(t.deps)
}

// Leaves returns the task itself.
func (t *Task) Leaves() []*Task { return []*Task{t} }

// EstimatedDuration returns the progress weight.
func (t *Task) EstimatedDuration() float64 { return t.estimate }

// ExecutedCPUTime returns the time spent in cycle functions so far.
func (t *Task) ExecutedCPUTime() time.Duration { return t.counters.CPUTime() }

// ExecutedCycleCount returns the number of cycles run so far.
func (t *Task) ExecutedCycleCount() int { return t.counters.Cycles() }

// Counters returns the bookkeeping handle.
func (t *Task) Counters() *Counters { return t.counters }

// Initialized reports whether the initializer has run.
func (t *Task) Initialized() bool { return t.initialized }

// ComputeProgress returns the progress estimate in [0,1]. Without an
// estimator a task reports 0 until it succeeds and 1 afterwards.
func (t *Task) ComputeProgress() float64 {
	if t.progress == nil {
		if t.State() == model.TaskStateSucceeded {
			return 1
		}
		return 0
	}
	p := t.progress()
	checkProgress(t.name, p)
	return p
}

// AddDependency declares that t may not start before x succeeds. A group
// expands to its current leaves and is sealed against further children.
func (t *Task) AddDependency(x Schedulable) error {
	switch v := x.(type) {
	case *Task:
		if v == nil {
			return fmt.Errorf("add dependency to %q: nil task", t.name)
		}
		return t.addDependency(v)
	case *Group:
		if v == nil {
			return fmt.Errorf("add dependency to %q: nil group", t.name)
		}
		v.seal()
		for _, leaf := range v.Leaves() {
			if err := t.addDependency(leaf); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("add dependency to %q: nil dependency", t.name)
	}
}

// AddDependencies declares each of xs in order, stopping at the first error.
func (t *Task) AddDependencies(xs ...Schedulable) error {
	for _, x := range xs {
		if err := t.AddDependency(x); err != nil {
			return err
		}
	}
	return nil
}

func (t *Task) addDependency(d *Task) error {
	if d == t || d.dependsOn(t) {
		return fmt.Errorf("%w: %q -> %q", ErrDependencyCycle, t.name, d.name)
	}
	if slices.Contains(t.deps, d) {
		return nil
	}
	t.deps = append(t.deps, d)
	return nil
}

// dependsOn reports whether target is reachable from t through dependency edges.
func (t *Task) dependsOn(target *Task) bool {
	visited := map[*Task]bool{t: true}
	stack := slices.Clone(t.deps)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, n.deps...)
	}
	return false
}

// Initialize runs the initializer once. Later calls return the first
// call's error.
func (t *Task) Initialize() error {
	if t.initialized {
		return t.initErr
	}
	t.initialized = true
	if t.init != nil {
		t.initErr = t.init()
	}
	return t.initErr
}

// Cycle runs one slice of work. The initializer runs first if it has not
// yet. A terminal signal moves the task to its final state and dispatches
// completed or failed; cycling a retired task returns ErrRetired.
func (t *Task) Cycle() (model.Signal, error) {
	if t.State().IsTerminal() {
		return model.SignalEndFailure, fmt.Errorf("cycle %q: %w", t.name, ErrRetired)
	}
	if err := t.Initialize(); err != nil {
		return model.SignalEndFailure, err
	}
	t.markRunning()

	start := time.Now()
	sig, err := t.cycle()
	if !t.borrowed {
		t.counters.record(time.Since(start))
	}
	if err != nil {
		return sig, err
	}

	switch sig {
	case model.SignalContinue, model.SignalYield:
	case model.SignalEndSuccess:
		t.finish(true, nil)
	case model.SignalEndFailure:
		t.finish(false, failure(t.name, t.cause))
	default:
		panic(&model.ContractError{Name: t.name, Message: "unknown signal " + sig.String()})
	}
	return sig, nil
}

// Fail retires a task that has not reached a terminal state, dispatching
// failed with cause. It is how a scheduler retires tasks whose cycle
// raised an error or whose prerequisites failed.
func (t *Task) Fail(cause error) error {
	if t.State().IsTerminal() {
		return fmt.Errorf("fail %q: %w", t.name, ErrRetired)
	}
	t.finish(false, failure(t.name, cause))
	return nil
}

// ExecuteSync drains the task on the calling goroutine and returns its
// terminal signal. Errors from the initializer or a cycle are returned as
// is and leave the task unfinished.
func (t *Task) ExecuteSync() (model.Signal, error) {
	if err := t.Initialize(); err != nil {
		return model.SignalEndFailure, err
	}
	for {
		sig, err := t.Cycle()
		if err != nil {
			if errors.Is(err, ErrRetired) {
				return t.terminalSignal(), nil
			}
			return sig, err
		}
		if sig.IsTerminal() {
			return sig, nil
		}
		if sig == model.SignalYield {
			runtime.Gosched()
		}
	}
}

func (t *Task) terminalSignal() model.Signal {
	if t.State() == model.TaskStateSucceeded {
		return model.SignalEndSuccess
	}
	return model.SignalEndFailure
}
