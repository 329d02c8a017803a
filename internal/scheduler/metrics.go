package scheduler

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/me/cotask/pkg/model"
)

// TaskMetrics holds the bookkeeping of one retired task.
type TaskMetrics struct {
	Name       string        `json:"name"`
	State      string        `json:"state"`
	Cycles     int           `json:"cycles"`
	CPUTime    time.Duration `json:"cpu_time_ns"`
	CPUTimeStr string        `json:"cpu_time"`
	Progress   float64       `json:"progress"`
	AdmittedAt time.Time     `json:"admitted_at"`
	RetiredAt  time.Time     `json:"retired_at"`
	Error      string        `json:"error,omitempty"`
}

// RunMetrics holds aggregate metrics for one drained run.
type RunMetrics struct {
	RunID       string        `json:"run_id"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"duration_ns"`
	DurationStr string        `json:"duration"`
	Ticks       int           `json:"ticks"`
	TotalTasks  int           `json:"total_tasks"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Blocked     []string      `json:"blocked,omitempty"`
	CPUTime     time.Duration `json:"cpu_time_ns"`
	Tasks       []TaskMetrics `json:"tasks"`
}

// State summarizes the run outcome.
func (m *RunMetrics) State() model.RunState {
	switch {
	case len(m.Blocked) > 0:
		return model.RunStateStalled
	case m.Failed > 0:
		return model.RunStateFailed
	}
	return model.RunStateCompleted
}

// metricsCollector accumulates task metrics as tasks retire.
type metricsCollector struct {
	run *RunMetrics
}

func newMetricsCollector(runID string, start time.Time) *metricsCollector {
	return &metricsCollector{run: &RunMetrics{
		RunID:     runID,
		StartTime: start,
		Tasks:     make([]TaskMetrics, 0),
	}}
}

func (mc *metricsCollector) recordTask(m TaskMetrics) {
	m.CPUTimeStr = formatDuration(m.CPUTime)
	mc.run.Tasks = append(mc.run.Tasks, m)
	mc.run.CPUTime += m.CPUTime
	switch m.State {
	case model.TaskStateSucceeded.String():
		mc.run.Succeeded++
	case model.TaskStateFailed.String():
		mc.run.Failed++
	}
}

// finalize returns a copy of the run metrics as of now.
func (mc *metricsCollector) finalize(now time.Time, ticks, total int, blocked []string) *RunMetrics {
	out := *mc.run
	out.Duration = now.Sub(out.StartTime)
	out.DurationStr = formatDuration(out.Duration)
	out.Ticks = ticks
	out.TotalTasks = total
	out.Blocked = blocked
	out.Tasks = make([]TaskMetrics, len(mc.run.Tasks))
	copy(out.Tasks, mc.run.Tasks)

	// Sort by retirement for consistent output.
	sort.SliceStable(out.Tasks, func(i, j int) bool {
		return out.Tasks[i].RetiredAt.Before(out.Tasks[j].RetiredAt)
	})
	return &out
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// PrintSummary prints a formatted summary of run metrics.
func PrintSummary(w io.Writer, m *RunMetrics) {
	if m == nil {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Run Summary ===")
	if m.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", m.RunID)
	}
	fmt.Fprintf(w, "Total Duration: %s (%d ticks)\n", m.DurationStr, m.Ticks)
	fmt.Fprintln(w)

	if len(m.Tasks) > 0 {
		maxNameLen := 4 // "Task"
		for _, t := range m.Tasks {
			if len(t.Name) > maxNameLen {
				maxNameLen = len(t.Name)
			}
		}
		if maxNameLen > 40 {
			maxNameLen = 40
		}

		fmt.Fprintf(w, "%-*s  %8s  %12s  %s\n", maxNameLen, "Task", "Cycles", "CPU", "Status")
		fmt.Fprintln(w, strings.Repeat("-", maxNameLen+40))

		for _, t := range m.Tasks {
			name := t.Name
			if len(name) > maxNameLen {
				name = name[:maxNameLen-3] + "..."
			}
			icon := "✓"
			if t.State == model.TaskStateFailed.String() {
				icon = "✗"
			}
			fmt.Fprintf(w, "%-*s  %8d  %12s  %s %s\n", maxNameLen, name, t.Cycles, t.CPUTimeStr, icon, strings.ToLower(t.State))
		}
		fmt.Fprintln(w, strings.Repeat("-", maxNameLen+40))
	}

	fmt.Fprintf(w, "Tasks: %d succeeded", m.Succeeded)
	if m.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", m.Failed)
	}
	if len(m.Blocked) > 0 {
		fmt.Fprintf(w, ", %d blocked", len(m.Blocked))
	}
	fmt.Fprintln(w)
	if len(m.Blocked) > 0 {
		fmt.Fprintf(w, "Blocked: %s\n", strings.Join(m.Blocked, ", "))
	}
	fmt.Fprintln(w)
}
