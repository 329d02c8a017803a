package task

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/me/cotask/pkg/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIgnoreFailure_ContainsCycleError(t *testing.T) {
	boom := errors.New("boom")
	inner := Failing("fragile", boom)
	w := IgnoreFailure(inner, discardLogger())

	sig, err := w.ExecuteSync()
	if err != nil {
		t.Fatalf("ExecuteSync error = %v, want nil", err)
	}
	if sig != model.SignalEndSuccess {
		t.Errorf("signal = %s, want END_SUCCESS", sig)
	}
	if w.State() != model.TaskStateSucceeded {
		t.Errorf("State() = %s, want SUCCEEDED", w.State())
	}
	if w.ExecutedCycleCount() != inner.ExecutedCycleCount() || w.ExecutedCycleCount() != 1 {
		t.Errorf("cycles wrapper=%d inner=%d, want 1 and 1", w.ExecutedCycleCount(), inner.ExecutedCycleCount())
	}
	if w.ExecutedCPUTime() != inner.ExecutedCPUTime() {
		t.Errorf("cpu wrapper=%v inner=%v, want equal", w.ExecutedCPUTime(), inner.ExecutedCPUTime())
	}
}

func TestIgnoreFailure_ConvertsEndFailure(t *testing.T) {
	inner, _, _ := scripted("soft", model.SignalContinue, model.SignalYield, model.SignalEndFailure)
	w := IgnoreFailure(inner, discardLogger())

	var signals []model.Signal
	for {
		sig, err := w.Cycle()
		if err != nil {
			t.Fatalf("Cycle: %v", err)
		}
		signals = append(signals, sig)
		if sig.IsTerminal() {
			break
		}
	}
	want := []model.Signal{model.SignalContinue, model.SignalYield, model.SignalEndSuccess}
	if len(signals) != len(want) {
		t.Fatalf("signals = %v, want %v", signals, want)
	}
	for i := range want {
		if signals[i] != want[i] {
			t.Errorf("signals[%d] = %s, want %s", i, signals[i], want[i])
		}
	}
	if inner.State() != model.TaskStateFailed {
		t.Errorf("inner state = %s, want FAILED", inner.State())
	}
	if w.ExecutedCycleCount() != 3 {
		t.Errorf("wrapper cycles = %d, want 3", w.ExecutedCycleCount())
	}
}

func TestIgnoreFailure_InitializerErrorShortCircuits(t *testing.T) {
	cycled := false
	inner := New("broken",
		func() (model.Signal, error) {
			cycled = true
			return model.SignalEndSuccess, nil
		},
		WithInitializer(func() error { return errors.New("no config") }),
	)
	w := IgnoreFailure(inner, discardLogger())

	sig, err := w.ExecuteSync()
	if err != nil || sig != model.SignalEndSuccess {
		t.Fatalf("ExecuteSync = %s, %v; want END_SUCCESS", sig, err)
	}
	if cycled {
		t.Error("inner cycle must not run after its initializer failed")
	}
	if p := w.ComputeProgress(); p != 1 {
		t.Errorf("progress = %v, want 1", p)
	}
}

func TestIgnoreFailure_KeepsDependencies(t *testing.T) {
	pre := Empty("pre")
	inner := Empty("inner")
	if err := inner.AddDependency(pre); err != nil {
		t.Fatal(err)
	}
	w := IgnoreFailure(inner, nil)
	if deps := w.Dependencies(); len(deps) != 1 || deps[0] != pre {
		t.Errorf("Dependencies() = %v, want [pre]", deps)
	}
}

func TestIgnoreFailure_DependenciesAreCycleChecked(t *testing.T) {
	pre := Empty("pre")
	inner := Empty("inner")
	if err := inner.AddDependency(pre); err != nil {
		t.Fatal(err)
	}
	w := IgnoreFailure(inner, nil)

	if err := pre.AddDependency(w); !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("pre -> wrapper: err = %v, want ErrDependencyCycle", err)
	}
	if err := w.AddDependency(pre); err != nil {
		t.Errorf("re-adding pre: %v", err)
	}
	if deps := w.Dependencies(); len(deps) != 1 {
		t.Errorf("Dependencies() = %v, want [pre]", deps)
	}
}

func TestIgnoreFailure_SnapshotsDependencies(t *testing.T) {
	inner := Empty("inner")
	w := IgnoreFailure(inner, nil)
	if err := inner.AddDependency(Empty("late")); err != nil {
		t.Fatal(err)
	}
	if deps := w.Dependencies(); len(deps) != 0 {
		t.Errorf("Dependencies() = %v, want none", deps)
	}
}
