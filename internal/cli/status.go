package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/cotask/internal/scheduler"
	"github.com/me/cotask/pkg/model"
	"github.com/spf13/cobra"
)

// defaultServer returns the default status API URL, checking COTASK_SERVER first.
func defaultServer() string {
	if s := os.Getenv("COTASK_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func newStatusCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the progress of a run served with 'cotask run --serve'",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewClient(serverURL, logger)
			resp, err := client.Get(cmd.Context(), "/api/v1/progress")
			if err != nil {
				return fmt.Errorf("get progress: %w", err)
			}

			var snap scheduler.Snapshot
			if err := json.Unmarshal(resp.Data, &snap); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServer(), "Status API URL (or COTASK_SERVER env)")
	return cmd
}

func printSnapshot(w io.Writer, s scheduler.Snapshot) {
	fmt.Fprintf(w, "Run: %s\n", s.RunID)
	state := "draining"
	if s.Done() {
		state = "finished"
	}
	fmt.Fprintf(w, "  State:    %s (tick %s, limit %d)\n", state, humanize.Comma(int64(s.Tick)), s.Limit)
	fmt.Fprintf(w, "  Progress: %.1f%%\n", s.Progress*100)
	fmt.Fprintf(w, "  Tasks:    %d pending, %d runnable, %d active, %d retired\n",
		s.Pending, s.Runnable, s.Active, s.Retired)
	fmt.Fprintf(w, "  Outcome:  %d succeeded, %d failed, %d blocked\n", s.Succeeded, s.Failed, s.Blocked)
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "  Updated:  %s\n", humanize.Time(s.UpdatedAt))
	}

	var active []string
	for _, t := range s.Tasks {
		if t.ExecState == model.ExecStateActive {
			active = append(active, fmt.Sprintf("    - %s: %.1f%% after %d cycles (%s)",
				t.Name, t.Progress*100, t.Cycles, t.CPUTime.Round(time.Microsecond)))
		}
	}
	if len(active) > 0 {
		fmt.Fprintln(w, "  Active:")
		for _, line := range active {
			fmt.Fprintln(w, line)
		}
	}
}
