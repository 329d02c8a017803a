package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/me/cotask/internal/logging"
	"github.com/me/cotask/internal/plan"
	"github.com/me/cotask/internal/scheduler"
	"github.com/me/cotask/internal/server"
	"github.com/me/cotask/internal/store"
	"github.com/me/cotask/internal/ui"
	"github.com/me/cotask/pkg/model"
	"github.com/spf13/cobra"
)

// errRunUnsuccessful is returned when a run ends in any state other than
// COMPLETED so the process exits non-zero.
var errRunUnsuccessful = errors.New("run did not complete")

type runFlags struct {
	min       int
	max       int
	policy    string
	budget    time.Duration
	interval  time.Duration
	timeout   time.Duration
	tui       bool
	noJournal bool
	serve     string
	jsonOut   bool
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Drain a plan on the cooperative executor",
		Long: `Loads a plan, builds its tasks and groups, and drains them tick by tick.
Every retired task is journalled; the run summary is printed when the
executor has nothing left to do.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execCfg, err := executorConfig(cmd, f)
			if err != nil {
				return err
			}
			return runPlan(cmd.Context(), cmd.OutOrStdout(), args[0], execCfg, f)
		},
	}

	cmd.Flags().IntVar(&f.min, "min", 0, "Minimum concurrency limit")
	cmd.Flags().IntVar(&f.max, "max", 0, "Maximum concurrency limit (0 = unlimited)")
	cmd.Flags().StringVar(&f.policy, "policy", "", "Failure policy: suspend or cascade")
	cmd.Flags().DurationVar(&f.budget, "budget", 0, "Tick budget that drives the adaptive limit (0 = fixed)")
	cmd.Flags().DurationVar(&f.interval, "tick", 0, "Pause after ticks in which every task yielded")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Cancel the run after this long (0 = no limit)")
	cmd.Flags().BoolVar(&f.tui, "tui", false, "Show the live progress view")
	cmd.Flags().BoolVar(&f.noJournal, "no-journal", false, "Keep the journal in memory only")
	cmd.Flags().StringVar(&f.serve, "serve", "", "Serve the status API on this address while running")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print run metrics as JSON instead of the summary table")

	return cmd
}

// executorConfig layers the run flags over the loaded config.
func executorConfig(cmd *cobra.Command, f runFlags) (scheduler.Config, error) {
	c := cfg.Executor
	flags := cmd.Flags()
	if flags.Changed("min") {
		c.MinConcurrency = f.min
	}
	if flags.Changed("max") {
		c.MaxConcurrency = f.max
	}
	if flags.Changed("policy") {
		p, err := scheduler.ParseFailurePolicy(f.policy)
		if err != nil {
			return c, err
		}
		c.FailurePolicy = p
	}
	if flags.Changed("budget") {
		c.TickBudget = f.budget
	}
	if flags.Changed("tick") {
		c.TickInterval = f.interval
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

type drainResult struct {
	metrics *scheduler.RunMetrics
	err     error
}

func runPlan(ctx context.Context, out io.Writer, path string, execCfg scheduler.Config, f runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	runLogger := logger
	if f.tui {
		// The progress view owns the terminal; logs go to the file copy only.
		l, closer, err := logging.Open(logging.Options{
			Level:   logging.ParseLevel(cfg.LogLevel),
			Format:  cfg.LogFormat,
			File:    cfg.LogFile,
			Console: io.Discard,
		})
		if err != nil {
			return fmt.Errorf("logging: %w", err)
		}
		defer closer.Close()
		runLogger = l
	}

	p, err := plan.Load(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	graph, err := plan.Build(p, plan.BuildOptions{Context: ctx, Logger: runLogger})
	if err != nil {
		return err
	}

	dbPath := cfg.DBPath
	if f.noJournal {
		dbPath = ":memory:"
	}
	st, err := openJournal(ctx, dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	exec, err := scheduler.New(execCfg, runLogger, scheduler.WithRecorder(st))
	if err != nil {
		return err
	}

	run := &model.Run{
		ID:        exec.RunID(),
		Name:      p.Name,
		Policy:    string(execCfg.FailurePolicy),
		TaskCount: len(graph.Tasks),
		StartedAt: time.Now().UTC(),
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("journal run: %w", err)
	}
	if err := exec.RunMany(graph.Roots...); err != nil {
		return err
	}

	if f.serve != "" {
		srv := server.New(st, runLogger, server.WithProgress(exec), server.WithVersion(version))
		go func() {
			if err := srv.ListenAndServe(ctx, f.serve); err != nil {
				runLogger.Error("status API stopped", "error", err)
			}
		}()
	}

	results := make(chan drainResult, 1)
	go func() {
		m, err := exec.Drain(ctx)
		results <- drainResult{metrics: m, err: err}
	}()

	if f.tui {
		if err := ui.Run(ctx, exec, ui.WithTitle(p.Name)); err != nil {
			cancel()
			if !errors.Is(err, ui.ErrInterrupted) && !errors.Is(err, context.Canceled) {
				runLogger.Warn("progress view failed", "error", err)
			}
		}
	}
	res := <-results

	if err := finishRun(st, run, res); err != nil {
		runLogger.Error("journal run", "run_id", run.ID, "error", err)
	}

	if f.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.metrics); err != nil {
			return err
		}
	} else {
		scheduler.PrintSummary(out, res.metrics)
	}

	if run.State != model.RunStateCompleted {
		if res.err != nil {
			return fmt.Errorf("%w: %s: %w", errRunUnsuccessful, run.State, res.err)
		}
		return fmt.Errorf("%w: %s", errRunUnsuccessful, run.State)
	}
	return nil
}

// finishRun copies the drain outcome onto run and journals it. It uses a
// fresh context so a cancelled run is still recorded.
func finishRun(st store.Store, run *model.Run, res drainResult) error {
	m := res.metrics
	run.State = m.State()
	if res.err != nil && !errors.Is(res.err, scheduler.ErrStalled) {
		run.State = model.RunStateCancelled
	}
	run.TaskCount = m.TotalTasks
	run.Succeeded = m.Succeeded
	run.Failed = m.Failed
	run.Blocked = len(m.Blocked)
	run.Ticks = m.Ticks
	run.CPUTime = m.CPUTime
	done := m.StartTime.Add(m.Duration).UTC()
	run.CompletedAt = &done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return st.FinishRun(ctx, run)
}
