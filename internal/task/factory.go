package task

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/me/cotask/pkg/model"
)

// Bound is a count limit resolved once when the task initializes.
type Bound func() int

// Fixed returns a constant Bound.
func Fixed(n int) Bound { return func() int { return n } }

// Supplier adapts fn into a Bound evaluated at initialization time.
func Supplier(fn func() int) Bound { return Bound(fn) }

// Action runs fn in a single cycle and then succeeds.
func Action(name string, fn func() error, opts ...Option) *Task {
	return New(name, func() (model.Signal, error) {
		if err := fn(); err != nil {
			return model.SignalEndFailure, err
		}
		return model.SignalEndSuccess, nil
	}, opts...)
}

// Empty succeeds on its first cycle and always reports full progress.
func Empty(name string, opts ...Option) *Task {
	opts = append([]Option{WithProgress(func() float64 { return 1 })}, opts...)
	return New(name,
		func() (model.Signal, error) { return model.SignalEndSuccess, nil },
		opts...,
	)
}

// Failing returns err from every cycle.
func Failing(name string, err error, opts ...Option) *Task {
	if err == nil {
		err = fmt.Errorf("task %q: failing task", name)
	}
	return New(name, func() (model.Signal, error) {
		return model.SignalEndFailure, err
	}, opts...)
}

// Count calls fn(i) for every i in [initial, limit), one index per cycle.
func Count(name string, initial, limit Bound, fn func(i int) error, opts ...Option) *Task {
	return counting(name, initial, limit, nil, fn, opts)
}

// RandomCount is Count visiting the range in a permutation derived from
// seed. The same seed always yields the same order.
func RandomCount(name string, seed int64, initial, limit Bound, fn func(i int) error, opts ...Option) *Task {
	return counting(name, initial, limit, &seed, fn, opts)
}

func counting(name string, initial, limit Bound, seed *int64, fn func(i int) error, opts []Option) *Task {
	var (
		start, span, done int
		order             []int
	)
	initialize := func() error {
		start = initial()
		span = limit() - start
		if span < 0 {
			span = 0
		}
		if seed != nil {
			order = rand.New(rand.NewSource(*seed)).Perm(span)
		}
		return nil
	}
	cycle := func() (model.Signal, error) {
		if done >= span {
			return model.SignalEndSuccess, nil
		}
		i := start + done
		if order != nil {
			i = start + order[done]
		}
		if err := fn(i); err != nil {
			return model.SignalEndFailure, err
		}
		done++
		return model.SignalContinue, nil
	}
	progress := func() float64 {
		if span == 0 {
			return 0
		}
		return float64(done) / float64(span)
	}
	opts = append([]Option{WithInitializer(initialize), WithProgress(progress)}, opts...)
	return New(name, cycle, opts...)
}

// Delay yields until d has elapsed since initialization, then succeeds.
func Delay(name string, d time.Duration, opts ...Option) *Task {
	return delay(name, d, time.Now, opts...)
}

func delay(name string, d time.Duration, now func() time.Time, opts ...Option) *Task {
	var start time.Time
	elapsed := func() time.Duration {
		if start.IsZero() {
			return 0
		}
		return now().Sub(start)
	}
	opts = append([]Option{
		WithInitializer(func() error {
			start = now()
			return nil
		}),
		WithProgress(func() float64 {
			if start.IsZero() {
				return 0
			}
			if d <= 0 {
				return 1
			}
			return clamp01(float64(elapsed()) / float64(d))
		}),
	}, opts...)
	return New(name,
		func() (model.Signal, error) {
			if elapsed() >= d {
				return model.SignalEndSuccess, nil
			}
			return model.SignalYield, nil
		},
		opts...,
	)
}

// Wait yields until ready reports true. When timeout is positive and
// elapses first, the task ends with SignalEndFailure and a cause wrapping
// ErrDeadlineExceeded.
func Wait(name string, ready func() bool, timeout time.Duration, opts ...Option) *Task {
	return wait(name, ready, timeout, time.Now, opts...)
}

func wait(name string, ready func() bool, timeout time.Duration, now func() time.Time, opts ...Option) *Task {
	var (
		t     *Task
		start time.Time
	)
	t = New(name,
		func() (model.Signal, error) {
			if ready() {
				return model.SignalEndSuccess, nil
			}
			if timeout > 0 && now().Sub(start) >= timeout {
				t.cause = fmt.Errorf("%w after %s", ErrDeadlineExceeded, timeout)
				return model.SignalEndFailure, nil
			}
			return model.SignalYield, nil
		},
		append([]Option{WithInitializer(func() error {
			start = now()
			return nil
		})}, opts...)...,
	)
	return t
}

// Future is an externally settled result.
type Future interface {
	// Done is closed once the result is available.
	Done() <-chan struct{}
	// Err returns the outcome after Done is closed.
	Err() error
}

// FutureTask yields until f settles, then succeeds or returns f's error
// from its cycle.
func FutureTask(name string, f Future) *Task {
	return New(name, pollFuture(func() Future { return f }))
}

// PromiseTask starts fn on its own goroutine when the task initializes and
// then behaves like FutureTask.
func PromiseTask(ctx context.Context, name string, fn func(ctx context.Context) error, opts ...Option) *Task {
	var p *Promise
	opts = append([]Option{WithInitializer(func() error {
		p = Go(ctx, fn)
		return nil
	})}, opts...)
	return New(name, pollFuture(func() Future { return p }), opts...)
}

func pollFuture(get func() Future) CycleFunc {
	return func() (model.Signal, error) {
		f := get()
		select {
		case <-f.Done():
			if err := f.Err(); err != nil {
				return model.SignalEndFailure, err
			}
			return model.SignalEndSuccess, nil
		default:
			return model.SignalYield, nil
		}
	}
}

// Promise is a Future settled by a goroutine.
type Promise struct {
	done chan struct{}
	err  error
}

// Go runs fn on a new goroutine and returns its Promise.
func Go(ctx context.Context, fn func(ctx context.Context) error) *Promise {
	p := &Promise{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = fn(ctx)
	}()
	return p
}

// Done is closed when fn has returned.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Err returns fn's error once Done is closed, and nil before.
func (p *Promise) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
