// Package ui renders the live state of an executor in the terminal.
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/me/cotask/internal/scheduler"
	"github.com/me/cotask/pkg/model"
)

// ErrInterrupted is returned by Run when the user quits before the run
// has drained.
var ErrInterrupted = errors.New("progress view closed before the run finished")

// Source is anything that publishes executor snapshots.
type Source interface {
	Snapshot() scheduler.Snapshot
}

// Option configures the progress view.
type Option func(*progressModel)

// WithInterval sets how often the view samples the source.
func WithInterval(d time.Duration) Option {
	return func(m *progressModel) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTitle sets the heading shown above the progress bar.
func WithTitle(title string) Option {
	return func(m *progressModel) {
		m.title = title
	}
}

// WithMaxRows caps the number of task rows rendered.
func WithMaxRows(n int) Option {
	return func(m *progressModel) {
		m.maxRows = n
	}
}

// Run shows the progress view until the source reports that every admitted
// task has retired, the user quits, or ctx is cancelled.
func Run(ctx context.Context, src Source, opts ...Option) error {
	if !IsTTY(os.Stdout) {
		return fmt.Errorf("progress view requires a TTY")
	}
	m := newProgressModel(src, opts...)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if fm, ok := final.(*progressModel); ok && fm.interrupted {
		return ErrInterrupted
	}
	return nil
}

type progressModel struct {
	src         Source
	title       string
	interval    time.Duration
	maxRows     int
	snap        scheduler.Snapshot
	showAll     bool
	showHelp    bool
	interrupted bool
	done        bool
}

type tickMsg time.Time

func newProgressModel(src Source, opts ...Option) *progressModel {
	m := &progressModel{
		src:      src,
		title:    "cotask",
		interval: 200 * time.Millisecond,
		maxRows:  15,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *progressModel) Init() tea.Cmd {
	m.refresh()
	return tickCmd(m.interval)
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.interrupted = !m.done
			return m, tea.Quit
		case "a":
			m.showAll = !m.showAll
			return m, nil
		case "h", "?":
			m.showHelp = !m.showHelp
			return m, nil
		}
	case tickMsg:
		m.refresh()
		if m.done {
			return m, tea.Quit
		}
		return m, tickCmd(m.interval)
	}
	return m, nil
}

func (m *progressModel) refresh() {
	m.snap = m.src.Snapshot()
	// A fresh executor is trivially done before its first tick.
	m.done = m.snap.Tick > 0 && m.snap.Done()
}

func (m *progressModel) View() string {
	var b strings.Builder
	writeTitle(&b, m.title, m.snap.RunID)

	if m.showHelp {
		writeHelp(&b)
		writeFooter(&b, m.interval)
		return b.String()
	}

	writeProgress(&b, m.snap)
	writeCounts(&b, m.snap)
	writeTasks(&b, m.snap, m.showAll, m.maxRows)
	if m.done {
		b.WriteString("Run finished.\n\n")
	}
	writeFooter(&b, m.interval)
	return b.String()
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func writeTitle(b *strings.Builder, title, runID string) {
	if runID != "" {
		title += " " + runID
	}
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len(title)) + "\n\n")
}

const barWidth = 40

func progressBar(p float64) string {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	filled := int(p * barWidth)
	return strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled)
}

func writeProgress(b *strings.Builder, s scheduler.Snapshot) {
	fmt.Fprintf(b, "  [%s] %5.1f%%\n\n", progressBar(s.Progress), s.Progress*100)
}

func writeCounts(b *strings.Builder, s scheduler.Snapshot) {
	fmt.Fprintf(b, "  Pending: %d  Runnable: %d  Active: %d  Retired: %d\n",
		s.Pending, s.Runnable, s.Active, s.Retired)
	fmt.Fprintf(b, "  Succeeded: %d  Failed: %d  Blocked: %d\n",
		s.Succeeded, s.Failed, s.Blocked)
	limit := "unlimited"
	if s.Limit > 0 {
		limit = humanize.Comma(int64(s.Limit))
	}
	fmt.Fprintf(b, "  Tick: %s  Limit: %s  CPU: %s\n\n",
		humanize.Comma(int64(s.Tick)), limit, s.CPUTime.Round(time.Microsecond))
}

func writeTasks(b *strings.Builder, s scheduler.Snapshot, all bool, maxRows int) {
	b.WriteString("Tasks\n\n")
	shown := 0
	hidden := 0
	for _, ts := range s.Tasks {
		if !all && ts.ExecState == model.ExecStateRetired && !ts.Blocked {
			continue
		}
		if maxRows > 0 && shown >= maxRows {
			hidden++
			continue
		}
		b.WriteString(formatTask(ts))
		b.WriteString("\n")
		shown++
	}
	if shown == 0 {
		b.WriteString("  No unfinished tasks.\n")
	}
	if hidden > 0 {
		fmt.Fprintf(b, "  ... %d more\n", hidden)
	}
	b.WriteString("\n")
}

func formatTask(ts scheduler.TaskStatus) string {
	icon := " "
	switch {
	case ts.Blocked:
		icon = "!"
	case ts.ExecState == model.ExecStateActive:
		icon = ">"
	case ts.State == model.TaskStateSucceeded.String():
		icon = "x"
	case ts.State == model.TaskStateFailed.String():
		icon = "X"
	}
	return fmt.Sprintf("  %s %-24s %-8s %5.1f%%  %s cycles",
		icon, truncate(ts.Name, 24), ts.ExecState, ts.Progress*100, humanize.Comma(int64(ts.Cycles)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func writeHelp(b *strings.Builder) {
	b.WriteString("Keyboard Shortcuts\n\n")
	b.WriteString("  q, ctrl+c    Quit (cancels the run)\n")
	b.WriteString("  a            Toggle retired tasks\n")
	b.WriteString("  h, ?         Toggle this help screen\n\n")
}

func writeFooter(b *strings.Builder, interval time.Duration) {
	b.WriteString(fmt.Sprintf("Press h for help | q to quit | Refreshing every %s\n", interval))
}

// IsTTY returns true if w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
