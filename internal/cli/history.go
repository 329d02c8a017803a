package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/cotask/pkg/model"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var state string
	var prune time.Duration

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List journalled runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st, err := openJournal(ctx, cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if cmd.Flags().Changed("prune") {
				n, err := st.PruneRuns(ctx, time.Now().Add(-prune))
				if err != nil {
					return fmt.Errorf("prune runs: %w", err)
				}
				fmt.Fprintf(out, "Pruned %s run(s) older than %s.\n", humanize.Comma(n), prune)
				return nil
			}

			if len(args) == 1 {
				run, err := st.GetRun(ctx, args[0])
				if err != nil {
					return fmt.Errorf("get run: %w", err)
				}
				if run == nil {
					return fmt.Errorf("run %q not found", args[0])
				}
				printRun(out, run)
				return nil
			}

			opts := model.ListOptions{Limit: limit, State: model.RunState(state)}
			runs, total, err := st.ListRuns(ctx, opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			printRuns(out, runs, total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&state, "state", "", "Only list runs in this state (COMPLETED, FAILED, STALLED, CANCELLED, RUNNING)")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete runs started more than this long ago")

	return cmd
}

func printRuns(w io.Writer, runs []*model.Run, total int) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}

	fmt.Fprintf(w, "%-40s  %-20s  %-10s  %6s  %-16s  %s\n", "ID", "NAME", "STATE", "TASKS", "STARTED", "DURATION")
	fmt.Fprintf(w, "%-40s  %-20s  %-10s  %6s  %-16s  %s\n", "--", "----", "-----", "-----", "-------", "--------")
	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%-40s  %-20s  %-10s  %6d  %-16s  %s\n",
			r.ID, r.Name, r.State, r.TaskCount, humanize.Time(r.StartedAt), dur)
	}

	if total > len(runs) {
		fmt.Fprintf(w, "\n(%d of %s shown)\n", len(runs), humanize.Comma(int64(total)))
	}
}

func printRun(w io.Writer, r *model.Run) {
	fmt.Fprintf(w, "Run: %s\n", r.ID)
	fmt.Fprintf(w, "  Plan:     %s\n", r.Name)
	fmt.Fprintf(w, "  State:    %s\n", r.State)
	if r.Policy != "" {
		fmt.Fprintf(w, "  Policy:   %s\n", r.Policy)
	}
	fmt.Fprintf(w, "  Tasks:    %d total", r.TaskCount)
	if r.Succeeded > 0 {
		fmt.Fprintf(w, ", %d succeeded", r.Succeeded)
	}
	if r.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", r.Failed)
	}
	if r.Blocked > 0 {
		fmt.Fprintf(w, ", %d blocked", r.Blocked)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Ticks:    %s\n", humanize.Comma(int64(r.Ticks)))
	fmt.Fprintf(w, "  CPU:      %s\n", r.CPUTime)
	fmt.Fprintf(w, "  Started:  %s (%s)\n", r.StartedAt.Local().Format(time.DateTime), humanize.Time(r.StartedAt))
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "  Duration: %s\n", r.Duration().Round(time.Millisecond))
	}

	if len(r.Tasks) > 0 {
		fmt.Fprintln(w, "  Retired:")
		for _, t := range r.Tasks {
			line := fmt.Sprintf("    - %s: %s (%s cycles, %s)", t.Name, t.State, humanize.Comma(int64(t.Cycles)), t.CPUTime)
			if t.Error != "" {
				line += ": " + t.Error
			}
			fmt.Fprintln(w, line)
		}
	}
}
