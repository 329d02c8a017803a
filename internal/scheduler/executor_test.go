package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/cotask/internal/task"
	"github.com/me/cotask/pkg/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T, cfg Config, opts ...Option) *Executor {
	t.Helper()
	e, err := New(cfg, discardLogger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// steps returns a task that continues n-1 times and then succeeds.
func steps(name string, n int) (*task.Task, *int) {
	cycles := 0
	tk := task.New(name, func() (model.Signal, error) {
		cycles++
		if cycles >= n {
			return model.SignalEndSuccess, nil
		}
		return model.SignalContinue, nil
	})
	return tk, &cycles
}

type memRecorder struct {
	mu   sync.Mutex
	recs []model.TaskRecord
}

func (r *memRecorder) RecordTask(_ context.Context, rec model.TaskRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConcurrency = 4
	cfg.MaxConcurrency = 2
	if _, err := New(cfg, discardLogger()); err == nil {
		t.Fatal("expected error for max below min")
	}
}

func TestRun_RejectsNil(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	var tk *task.Task
	if err := e.Run(tk); err == nil {
		t.Error("expected error for nil task")
	}
	if err := e.Run(nil); err == nil {
		t.Error("expected error for nil item")
	}
}

func TestDrain_RunsSingleTask(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	tk, cycles := steps("a", 3)
	if err := e.Run(tk); err != nil {
		t.Fatalf("Run: %v", err)
	}

	m, err := e.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if *cycles != 3 {
		t.Errorf("cycles = %d, want 3", *cycles)
	}
	if tk.State() != model.TaskStateSucceeded {
		t.Errorf("state = %s, want SUCCEEDED", tk.State())
	}
	if m.Succeeded != 1 || m.Failed != 0 || m.TotalTasks != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if m.State() != model.RunStateCompleted {
		t.Errorf("run state = %s, want COMPLETED", m.State())
	}
}

func TestDrain_EmptyReturnsImmediately(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	m, err := e.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if m.TotalTasks != 0 || m.Ticks != 1 {
		t.Errorf("TotalTasks=%d Ticks=%d, want 0 and 1", m.TotalTasks, m.Ticks)
	}
}

func TestDrain_AdmitsTransitiveDependencies(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())

	var order []string
	mk := func(name string) *task.Task {
		return task.Action(name, func() error {
			order = append(order, name)
			return nil
		})
	}
	a, b, c := mk("a"), mk("b"), mk("c")
	if err := b.AddDependency(a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := c.AddDependency(b); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	// Only the root is handed over.
	if err := e.Run(c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := strings.Join(order, ","); got != "a,b,c" {
		t.Errorf("order = %s, want a,b,c", got)
	}
}

func TestTick_DependentNeverCycledBeforePrerequisiteSucceeds(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	a, _ := steps("a", 3)
	startedEarly := false
	b := task.New("b", func() (model.Signal, error) {
		if a.State() != model.TaskStateSucceeded {
			startedEarly = true
		}
		return model.SignalEndSuccess, nil
	})
	if err := b.AddDependency(a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := e.RunMany(a, b); err != nil {
		t.Fatalf("RunMany: %v", err)
	}
	if _, err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if startedEarly {
		t.Error("dependent cycled before its prerequisite succeeded")
	}
}

func TestDrain_PrerequisiteFinishingOnFirstCycle(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	a := task.Empty("a")
	b := task.Empty("b")
	if err := b.AddDependency(a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := e.Run(b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	m, err := e.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if a.State() != model.TaskStateSucceeded || b.State() != model.TaskStateSucceeded {
		t.Errorf("states = %s/%s, want SUCCEEDED/SUCCEEDED", a.State(), b.State())
	}
	if m.Succeeded != 2 || len(m.Blocked) != 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.State() != model.RunStateCompleted {
		t.Errorf("run state = %s, want COMPLETED", m.State())
	}
}

func TestDrain_MultiCycleDependentAfterInstantPrerequisite(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	a := task.Empty("a")
	b, cycles := steps("b", 3)
	c := task.Empty("c")
	if err := b.AddDependency(a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := c.AddDependency(b); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := e.Run(c); err != nil {
		t.Fatalf("Run: %v", err)
	}

	m, err := e.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if *cycles != 3 {
		t.Errorf("b cycles = %d, want 3", *cycles)
	}
	if c.State() != model.TaskStateSucceeded {
		t.Errorf("c state = %s, want SUCCEEDED", c.State())
	}
	if m.Succeeded != 3 || m.Failed != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestDrain_SuspendPolicyStallsTransitiveDependents(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	a := task.Failing("a", errors.New("broken"))
	b := task.Empty("b")
	c := task.Empty("c")
	if err := b.AddDependency(a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := c.AddDependency(b); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := e.Run(c); err != nil {
		t.Fatalf("Run: %v", err)
	}

	m, err := e.Drain(context.Background())
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("Drain error = %v, want ErrStalled", err)
	}
	// Admission order: the root first, then its prerequisites.
	if got := strings.Join(m.Blocked, ","); got != "c,b" {
		t.Errorf("Blocked = %s, want c,b", got)
	}
}

func TestTick_EveryActiveTaskCycledOncePerTick(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	a, ca := steps("a", 10)
	b, cb := steps("b", 10)
	c, cc := steps("c", 10)
	if err := e.RunMany(a, b, c); err != nil {
		t.Fatalf("RunMany: %v", err)
	}

	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		if err := e.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if *ca != i || *cb != i || *cc != i {
			t.Fatalf("after tick %d cycles = %d,%d,%d", i, *ca, *cb, *cc)
		}
	}
}

func TestTick_RespectsConcurrencyCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 2
	e := newTestExecutor(t, cfg)

	var tasks []*task.Task
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		tk, _ := steps(name, 3)
		tasks = append(tasks, tk)
		if err := e.Run(tk); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := e.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		snap := e.Snapshot()
		if snap.Active > 2 {
			t.Fatalf("tick %d: %d active, want at most 2", snap.Tick, snap.Active)
		}
		if snap.Done() {
			break
		}
	}
	for _, tk := range tasks {
		if tk.State() != model.TaskStateSucceeded {
			t.Errorf("%s state = %s, want SUCCEEDED", tk.Name(), tk.State())
		}
	}
}

func TestTick_TerminalSignalRetiresTask(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	cycles := 0
	tk := task.New("once", func() (model.Signal, error) {
		cycles++
		return model.SignalEndFailure, nil
	})
	if err := e.Run(tk); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := e.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if cycles != 1 {
		t.Errorf("cycles = %d, want 1", cycles)
	}
	if tk.State() != model.TaskStateFailed {
		t.Errorf("state = %s, want FAILED", tk.State())
	}
	if snap := e.Snapshot(); snap.Retired != 1 || snap.Failed != 1 {
		t.Errorf("snapshot retired=%d failed=%d, want 1 and 1", snap.Retired, snap.Failed)
	}
}

func TestDrain_CycleErrorRetiresAsFailed(t *testing.T) {
	rec := &memRecorder{}
	e := newTestExecutor(t, DefaultConfig(), WithRecorder(rec), WithRunID("run_test"))
	boom := errors.New("boom")
	tk := task.Failing("bad", boom)

	var got error
	tk.OnFailed(func(err error) { got = err })
	if err := e.Run(tk); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, err := e.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !errors.Is(got, boom) {
		t.Errorf("failed event error = %v, want wrapping boom", got)
	}
	if m.Failed != 1 || m.State() != model.RunStateFailed {
		t.Errorf("Failed=%d state=%s", m.Failed, m.State())
	}
	if len(rec.recs) != 1 {
		t.Fatalf("recorded %d tasks, want 1", len(rec.recs))
	}
	r := rec.recs[0]
	if r.RunID != "run_test" || r.State != "FAILED" || !strings.Contains(r.Error, "boom") {
		t.Errorf("record = %+v", r)
	}
}

func TestDrain_InitializerErrorRetiresWithoutCycling(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	cycled := false
	tk := task.New("init", func() (model.Signal, error) {
		cycled = true
		return model.SignalEndSuccess, nil
	}, task.WithInitializer(func() error { return errors.New("no setup") }))
	if err := e.Run(tk); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if cycled {
		t.Error("cycle ran after initializer failed")
	}
	if tk.State() != model.TaskStateFailed {
		t.Errorf("state = %s, want FAILED", tk.State())
	}
}

func TestDrain_SuspendPolicyStallsOnFailedDependency(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	a := task.Failing("a", errors.New("broken"))
	cycled := false
	b := task.New("b", func() (model.Signal, error) {
		cycled = true
		return model.SignalEndSuccess, nil
	})
	if err := b.AddDependency(a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := e.Run(b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	m, err := e.Drain(context.Background())
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("Drain error = %v, want ErrStalled", err)
	}
	if cycled {
		t.Error("dependent of failed task was cycled")
	}
	if b.State() != model.TaskStateInitial {
		t.Errorf("b state = %s, want INITIAL", b.State())
	}
	if len(m.Blocked) != 1 || m.Blocked[0] != "b" {
		t.Errorf("Blocked = %v, want [b]", m.Blocked)
	}
	if m.State() != model.RunStateStalled {
		t.Errorf("run state = %s, want STALLED", m.State())
	}
	if snap := e.Snapshot(); snap.Blocked != 1 {
		t.Errorf("snapshot blocked = %d, want 1", snap.Blocked)
	}
}

func TestDrain_CascadePolicyFailsDependents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailurePolicy = PolicyCascade
	e := newTestExecutor(t, cfg)

	a := task.Failing("a", errors.New("broken"))
	initialized := false
	b := task.New("b", func() (model.Signal, error) {
		return model.SignalEndSuccess, nil
	}, task.WithInitializer(func() error {
		initialized = true
		return nil
	}))
	c := task.Empty("c")
	if err := b.AddDependency(a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := c.AddDependency(b); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	var cause error
	c.OnFailed(func(err error) { cause = err })
	if err := e.Run(c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, err := e.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if initialized {
		t.Error("cascaded dependent was initialized")
	}
	for _, tk := range []*task.Task{a, b, c} {
		if tk.State() != model.TaskStateFailed {
			t.Errorf("%s state = %s, want FAILED", tk.Name(), tk.State())
		}
	}
	if !errors.Is(cause, ErrDependencyFailed) || !errors.Is(cause, task.ErrFailed) {
		t.Errorf("cause = %v, want ErrDependencyFailed wrapped in a task failure", cause)
	}
	if m.Failed != 3 {
		t.Errorf("Failed = %d, want 3", m.Failed)
	}
}

func TestDrain_GroupIsTrackedAndResolved(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	a, _ := steps("a", 2)
	b, _ := steps("b", 3)
	g, err := task.NewGroup("g", a, b)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	resolved := false
	g.Join(func() { resolved = true }, nil)

	if err := e.Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !resolved || g.State() != model.TaskStateSucceeded {
		t.Errorf("resolved=%v state=%s", resolved, g.State())
	}
	if g.ComputeProgress() != 1 {
		t.Errorf("group progress = %v, want 1", g.ComputeProgress())
	}
}

func TestDrain_IgnoreFailureContainsFailure(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	inner := task.Failing("flaky", errors.New("nope"))
	wrapped := task.IgnoreFailure(inner, discardLogger())
	after := task.Empty("after")
	if err := after.AddDependency(wrapped); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := e.Run(after); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, err := e.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if after.State() != model.TaskStateSucceeded {
		t.Errorf("after state = %s, want SUCCEEDED", after.State())
	}
	if m.Failed != 0 {
		t.Errorf("Failed = %d, want 0", m.Failed)
	}
}

func TestDrain_YieldingTaskWaitsBetweenTicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 2 * time.Millisecond
	e := newTestExecutor(t, cfg)

	n := 0
	tk := task.New("poll", func() (model.Signal, error) {
		n++
		if n == 3 {
			return model.SignalEndSuccess, nil
		}
		return model.SignalYield, nil
	})
	if err := e.Run(tk); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, err := e.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if m.Ticks != 3 {
		t.Errorf("Ticks = %d, want 3", m.Ticks)
	}
}

func TestDrain_ContextCancelled(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	tk := task.New("forever", func() (model.Signal, error) { return model.SignalYield, nil })
	if err := e.Run(tk); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain error = %v, want context.DeadlineExceeded", err)
	}
}

func TestAdmit_IsIdempotent(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	a, cycles := steps("a", 2)
	if err := e.RunMany(a, a); err != nil {
		t.Fatalf("RunMany: %v", err)
	}
	if err := e.Run(a); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, err := e.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if m.TotalTasks != 1 || *cycles != 2 {
		t.Errorf("TotalTasks=%d cycles=%d, want 1 and 2", m.TotalTasks, *cycles)
	}
}

func TestAdaptLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConcurrency = 2
	cfg.MaxConcurrency = 8
	cfg.TickBudget = 10 * time.Millisecond
	e := newTestExecutor(t, cfg)

	if e.Limit() != 8 {
		t.Fatalf("initial limit = %d, want 8", e.Limit())
	}
	e.adaptLimit(20 * time.Millisecond)
	if e.Limit() != 4 {
		t.Errorf("after slow tick limit = %d, want 4", e.Limit())
	}
	e.adaptLimit(20 * time.Millisecond)
	e.adaptLimit(20 * time.Millisecond)
	if e.Limit() != 2 {
		t.Errorf("limit = %d, want floor 2", e.Limit())
	}
	e.adaptLimit(7 * time.Millisecond)
	if e.Limit() != 2 {
		t.Errorf("tick between half and full budget changed limit to %d", e.Limit())
	}
	for i := 0; i < 10; i++ {
		e.adaptLimit(time.Millisecond)
	}
	if e.Limit() != 8 {
		t.Errorf("limit = %d, want ceiling 8", e.Limit())
	}
	if e.slots.Capacity() != 8 {
		t.Errorf("slots capacity = %d, want 8", e.slots.Capacity())
	}
}

func TestAdaptLimit_DisabledWithoutBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 3
	e := newTestExecutor(t, cfg)
	e.adaptLimit(time.Hour)
	if e.Limit() != 3 {
		t.Errorf("limit = %d, want 3", e.Limit())
	}
}

func TestSnapshot_ReportsProgress(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	a := task.Count("a", task.Fixed(0), task.Fixed(4), func(int) error { return nil })
	if err := e.Run(a); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ctx := context.Background()
	if err := e.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := e.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	snap := e.Snapshot()
	if snap.Progress != 0.5 {
		t.Errorf("Progress = %v, want 0.5", snap.Progress)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].ExecState != model.ExecStateActive {
		t.Errorf("Tasks = %+v", snap.Tasks)
	}
	if snap.RunID != e.RunID() || !strings.HasPrefix(snap.RunID, "run_") {
		t.Errorf("RunID = %q", snap.RunID)
	}
}

func TestStartStop(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())
	tk, _ := steps("a", 3)
	if err := e.Run(tk); err != nil {
		t.Fatalf("Run: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background()) }()

	if err := task.Await(context.Background(), tk); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Start returned %v, want nil", err)
	}
}
