package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/cotask/internal/task"
	"github.com/me/cotask/pkg/model"
)

var (
	// ErrDependencyFailed is the failure cause given to tasks retired by the
	// cascade policy.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrStalled is returned by Drain when the remaining tasks can never run.
	ErrStalled = errors.New("executor stalled")
)

// Recorder receives a record for every task the executor retires.
type Recorder interface {
	RecordTask(ctx context.Context, rec model.TaskRecord) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithRecorder journals every retired task to r.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(e *Executor) { e.runID = id }
}

// entry is the executor's bookkeeping for one admitted task.
type entry struct {
	task       *task.Task
	state      model.ExecState
	cause      error
	blocked    bool
	admittedAt time.Time
	retiredAt  time.Time
}

// Executor cycles admitted tasks cooperatively on a single goroutine.
type Executor struct {
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	runID    string
	now      func() time.Time

	mu    sync.Mutex // guards queue
	queue []task.Schedulable

	entries map[*task.Task]*entry
	order   []*entry
	slots   *Slots
	limit   int
	ticks   int
	metrics *metricsCollector

	snapMu sync.RWMutex
	snap   Snapshot

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates an executor. An invalid configuration is reported rather
// than corrected.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Executor, error) {
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicySuspend
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("executor config: %w", err)
	}
	e := &Executor{
		cfg:     cfg,
		runID:   "run_" + uuid.New().String(),
		now:     time.Now,
		entries: make(map[*task.Task]*entry),
		limit:   cfg.MaxConcurrency,
		slots:   NewSlots(cfg.MaxConcurrency),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.With("component", "scheduler", "run_id", e.runID)
	e.metrics = newMetricsCollector(e.runID, e.now())
	e.snap = Snapshot{RunID: e.runID, Limit: e.limit}
	return e, nil
}

var _ Scheduler = (*Executor)(nil)

// RunID returns the identifier this executor journals under.
func (e *Executor) RunID() string { return e.runID }

// Limit returns the current effective concurrency limit, 0 meaning none.
func (e *Executor) Limit() int { return e.limit }

// Run admits item, its leaves and everything reachable through their
// dependency edges. Admission takes effect at the start of the next tick
// and is idempotent. Run is safe to call from any goroutine.
func (e *Executor) Run(item task.Schedulable) error {
	switch v := item.(type) {
	case *task.Task:
		if v == nil {
			return fmt.Errorf("run: nil task")
		}
	case *task.Group:
		if v == nil {
			return fmt.Errorf("run: nil group")
		}
	default:
		return fmt.Errorf("run: nil item")
	}
	e.mu.Lock()
	e.queue = append(e.queue, item)
	e.mu.Unlock()
	return nil
}

// RunMany admits each of items in order.
func (e *Executor) RunMany(items ...task.Schedulable) error {
	for _, item := range items {
		if err := e.Run(item); err != nil {
			return err
		}
	}
	return nil
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
func (e *Executor) Start(ctx context.Context) error {
	interval := e.cfg.TickInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	e.logger.Info("executor started", "tick_interval", interval, "max_concurrency", e.cfg.MaxConcurrency)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("executor stopping (context cancelled)")
			close(e.doneCh)
			return ctx.Err()
		case <-e.stopCh:
			e.logger.Info("executor stopping (stop called)")
			close(e.doneCh)
			return nil
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop shuts down a loop started with Start and waits for the current tick
// to finish.
func (e *Executor) Stop() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
	return nil
}

// Tick runs a single scheduling iteration.
func (e *Executor) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.tick(ctx)
	return nil
}

// tick runs every phase once and reports whether anything moved: a task
// was admitted, promoted or retired, or returned SignalContinue.
func (e *Executor) tick(ctx context.Context) bool {
	start := e.now()
	e.ticks++

	// Phase 1: Admit queued items.
	progressed := e.admitQueued() > 0

	// Phase 2: Promote PENDING tasks whose dependencies all succeeded.
	if e.promotePending() {
		progressed = true
	}

	// Phase 3: Activate RUNNABLE tasks while slots are free.
	if e.activateRunnable(ctx) {
		progressed = true
	}

	// Phase 4: Cycle every ACTIVE task exactly once.
	if e.cycleActive(ctx) {
		progressed = true
	}

	// Phase 5: Apply the failure policy to tasks behind failed dependencies.
	if e.applyFailurePolicy(ctx) {
		progressed = true
	}

	// Phase 6: Adapt the concurrency limit to the tick budget.
	e.adaptLimit(e.now().Sub(start))

	// Phase 7: Publish a snapshot for observers.
	e.publish()
	return progressed
}

func (e *Executor) admitQueued() int {
	e.mu.Lock()
	queued := e.queue
	e.queue = nil
	e.mu.Unlock()

	n := 0
	for _, item := range queued {
		n += e.admit(item)
	}
	return n
}

// admit walks item's leaves and their transitive dependencies breadth
// first and registers every task not seen before.
func (e *Executor) admit(item task.Schedulable) int {
	if g, ok := item.(*task.Group); ok {
		task.Track(g)
	}
	n := 0
	frontier := item.Leaves()
	for len(frontier) > 0 {
		t := frontier[0]
		frontier = frontier[1:]
		if _, seen := e.entries[t]; seen {
			continue
		}
		en := &entry{task: t, state: model.ExecStatePending, admittedAt: e.now()}
		if t.State().IsTerminal() {
			// Finished before admission; it only serves as a prerequisite.
			en.state = model.ExecStateRetired
			en.retiredAt = en.admittedAt
		} else {
			t.OnFailed(func(err error) { en.cause = err })
		}
		e.entries[t] = en
		e.order = append(e.order, en)
		n++
		frontier = append(frontier, t.Dependencies()...)
	}
	if n > 0 {
		e.logger.Debug("admitted", "item", item.Name(), "tasks", n)
	}
	return n
}

func (e *Executor) promotePending() bool {
	promoted := false
	for _, en := range e.order {
		if en.state != model.ExecStatePending {
			continue
		}
		if satisfied, _ := dependencyStatus(en.task); satisfied {
			en.state = model.ExecStateRunnable
			promoted = true
		}
	}
	return promoted
}

func (e *Executor) activateRunnable(ctx context.Context) bool {
	activated := false
	for _, en := range e.order {
		if en.state != model.ExecStateRunnable {
			continue
		}
		if !e.slots.TryAcquire() {
			break
		}
		en.state = model.ExecStateActive
		activated = true
		if err := en.task.Initialize(); err != nil {
			e.logger.Error("initialize failed", "task", en.task.Name(), "error", err)
			e.fail(ctx, en, err)
		}
	}
	return activated
}

func (e *Executor) cycleActive(ctx context.Context) bool {
	var active []*entry
	for _, en := range e.order {
		if en.state == model.ExecStateActive {
			active = append(active, en)
		}
	}

	progressed := false
	for _, en := range active {
		sig, err := en.task.Cycle()
		if err != nil {
			if errors.Is(err, task.ErrRetired) {
				// Retired outside the executor.
				e.retire(ctx, en)
			} else {
				e.logger.Error("cycle failed", "task", en.task.Name(), "error", err)
				e.fail(ctx, en, err)
			}
			progressed = true
			continue
		}
		switch sig {
		case model.SignalContinue:
			progressed = true
		case model.SignalYield:
		case model.SignalEndSuccess, model.SignalEndFailure:
			e.retire(ctx, en)
			progressed = true
		}
	}
	return progressed
}

// applyFailurePolicy handles PENDING tasks with a failed prerequisite.
// Under cascade it repeats until no further dependent can be failed.
func (e *Executor) applyFailurePolicy(ctx context.Context) bool {
	changed := false
	for {
		round := false
		for _, en := range e.order {
			if en.state != model.ExecStatePending {
				continue
			}
			if _, blocked := dependencyStatus(en.task); !blocked {
				continue
			}
			failed := failedDependencies(en.task)
			if e.cfg.FailurePolicy == PolicyCascade {
				cause := fmt.Errorf("%w: %s", ErrDependencyFailed, strings.Join(failed, ", "))
				e.fail(ctx, en, cause)
				round = true
				continue
			}
			if !en.blocked {
				en.blocked = true
				e.logger.Warn("task blocked by failed dependency", "task", en.task.Name(), "failed", failed)
			}
		}
		if !round {
			return changed
		}
		changed = true
	}
}

// fail retires en as failed with cause.
func (e *Executor) fail(ctx context.Context, en *entry, cause error) {
	if err := en.task.Fail(cause); err != nil {
		e.logger.Debug("fail on retired task", "task", en.task.Name(), "error", err)
	}
	e.retire(ctx, en)
}

func (e *Executor) retire(ctx context.Context, en *entry) {
	if en.state == model.ExecStateActive {
		e.slots.Release()
	}
	en.state = model.ExecStateRetired
	en.retiredAt = e.now()

	t := en.task
	progress := t.ComputeProgress()
	rec := model.TaskRecord{
		RunID:     e.runID,
		Name:      t.Name(),
		State:     t.State().String(),
		Cycles:    t.ExecutedCycleCount(),
		CPUTime:   t.ExecutedCPUTime(),
		Progress:  progress,
		RetiredAt: en.retiredAt,
	}
	if en.cause != nil {
		rec.Error = en.cause.Error()
	}

	if t.State() == model.TaskStateFailed {
		e.logger.Warn("task failed", "task", rec.Name, "cycles", rec.Cycles, "error", rec.Error)
	} else {
		e.logger.Debug("task succeeded", "task", rec.Name, "cycles", rec.Cycles, "cpu_time", rec.CPUTime)
	}

	e.metrics.recordTask(TaskMetrics{
		Name:       rec.Name,
		State:      rec.State,
		Cycles:     rec.Cycles,
		CPUTime:    rec.CPUTime,
		Progress:   progress,
		AdmittedAt: en.admittedAt,
		RetiredAt:  en.retiredAt,
		Error:      rec.Error,
	})
	if e.recorder != nil {
		if err := e.recorder.RecordTask(ctx, rec); err != nil {
			e.logger.Warn("record task", "task", rec.Name, "error", err)
		}
	}
}

// adaptLimit halves the limit, not below MinConcurrency, after a tick that
// ran over budget and raises it by one, not above MaxConcurrency, after a
// tick that used less than half of it.
func (e *Executor) adaptLimit(elapsed time.Duration) {
	budget := e.cfg.TickBudget
	if budget <= 0 {
		return
	}
	next := e.limit
	switch {
	case elapsed > budget:
		base := e.limit
		if base == 0 {
			base = e.slots.InUse()
		}
		next = max(base/2, e.cfg.MinConcurrency)
	case elapsed < budget/2 && e.limit > 0:
		next = e.limit + 1
		if e.cfg.MaxConcurrency > 0 {
			next = min(next, e.cfg.MaxConcurrency)
		}
	}
	if next != e.limit {
		e.logger.Debug("concurrency limit adjusted", "from", e.limit, "to", next, "tick_time", elapsed)
		e.limit = next
		e.slots.Resize(next)
	}
}

type counts struct {
	pending, runnable, active, retired int
}

func (c counts) unfinished() int { return c.pending + c.runnable + c.active }

func (e *Executor) count() counts {
	var c counts
	for _, en := range e.order {
		switch en.state {
		case model.ExecStatePending:
			c.pending++
		case model.ExecStateRunnable:
			c.runnable++
		case model.ExecStateActive:
			c.active++
		case model.ExecStateRetired:
			c.retired++
		}
	}
	return c
}

func (e *Executor) queued() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) > 0
}

// stalled reports the pending task names when none of them can ever be
// promoted. A pending entry whose prerequisites all succeeded during the
// last cycle phase is promoted on the next tick, so it keeps the drain alive.
func (e *Executor) stalled() ([]string, bool) {
	var names []string
	for _, en := range e.order {
		if en.state != model.ExecStatePending {
			continue
		}
		if satisfied, _ := dependencyStatus(en.task); satisfied {
			return nil, false
		}
		names = append(names, en.task.Name())
	}
	return names, len(names) > 0
}

// Drain ticks until every admitted task is retired. When the remaining
// tasks wait on failed prerequisites it returns the metrics together with
// ErrStalled. Failed tasks alone are not an error; inspect the metrics.
// Ticks in which every active task yielded are followed by a pause of
// TickInterval.
func (e *Executor) Drain(ctx context.Context) (*RunMetrics, error) {
	e.logger.Info("drain started", "min_concurrency", e.cfg.MinConcurrency, "max_concurrency", e.cfg.MaxConcurrency)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return e.finalize(nil), err
		}
		progressed := e.tick(ctx)

		c := e.count()
		if e.queued() {
			continue
		}
		if c.unfinished() == 0 {
			m := e.finalize(nil)
			e.logger.Info("drain finished", "ticks", m.Ticks, "succeeded", m.Succeeded, "failed", m.Failed, "duration", m.DurationStr)
			return m, nil
		}
		if c.active == 0 && c.runnable == 0 {
			blocked, ok := e.stalled()
			if !ok {
				continue
			}
			m := e.finalize(blocked)
			e.logger.Warn("drain stalled", "blocked", len(blocked))
			return m, fmt.Errorf("%w: %d task(s) wait on failed dependencies: %s",
				ErrStalled, len(blocked), strings.Join(blocked, ", "))
		}
		if progressed || e.cfg.TickInterval <= 0 {
			continue
		}

		if timer == nil {
			timer = time.NewTimer(e.cfg.TickInterval)
		} else {
			timer.Reset(e.cfg.TickInterval)
		}
		select {
		case <-ctx.Done():
			return e.finalize(nil), ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *Executor) finalize(blocked []string) *RunMetrics {
	return e.metrics.finalize(e.now(), e.ticks, len(e.order), blocked)
}
