package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/me/cotask/internal/script"
	"github.com/me/cotask/internal/task"
)

// Graph is a built plan: every entry turned into a task or group with its
// dependency edges declared.
type Graph struct {
	Name   string
	Tasks  map[string]*task.Task
	Groups map[string]*task.Group
	// Roots are the entries that are not children of a group, in plan order.
	Roots []task.Schedulable
	order []string
}

// Item returns the task or group built for name.
func (g *Graph) Item(name string) (task.Schedulable, bool) {
	if t, ok := g.Tasks[name]; ok {
		return t, true
	}
	if grp, ok := g.Groups[name]; ok {
		return grp, true
	}
	return nil, false
}

// Items returns every built item in plan order.
func (g *Graph) Items() []task.Schedulable {
	out := make([]task.Schedulable, 0, len(g.order))
	for _, name := range g.order {
		item, _ := g.Item(name)
		out = append(out, item)
	}
	return out
}

// BuildOptions configures Build.
type BuildOptions struct {
	// Context bounds command tasks. Defaults to context.Background.
	Context context.Context
	Logger  *slog.Logger
	// Engine runs scripts. When nil one is created from the plan's vars
	// and library.
	Engine *script.Engine
}

// Build turns p into tasks and groups. Groups are completed before any
// dependency edge is declared, so no group is sealed while it is still
// being filled.
func Build(p *Plan, opts BuildOptions) (*Graph, error) {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "plan", "plan", p.Name)
	if opts.Engine == nil {
		var lib []script.Option
		if p.Library != "" {
			lib = append(lib, script.WithLibrary(p.Library))
		}
		lib = append(lib, script.WithVars(p.Vars))
		opts.Engine = script.NewEngine(opts.Logger, lib...)
	}

	dag, err := BuildDAG(p)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]Entry, len(p.Tasks))
	children := make(map[string]bool)
	for _, e := range p.Tasks {
		entries[e.Name] = e
		for _, c := range e.Children {
			children[c] = true
		}
	}

	g := &Graph{
		Name:   p.Name,
		Tasks:  make(map[string]*task.Task),
		Groups: make(map[string]*task.Group),
	}
	b := &builder{ctx: opts.Context, logger: logger, engine: opts.Engine}

	// Pass 1: build items. Children come before their groups in DAG order.
	for _, name := range dag.Order {
		e := entries[name]
		if e.Kind == KindGroup {
			members := make([]task.Schedulable, 0, len(e.Children))
			for _, c := range e.Children {
				item, _ := g.Item(c)
				members = append(members, item)
			}
			grp, err := task.NewGroup(e.Name, members...)
			if err != nil {
				return nil, fmt.Errorf("build group %q: %w", e.Name, err)
			}
			g.Groups[e.Name] = grp
			continue
		}
		t, err := b.task(e)
		if err != nil {
			return nil, fmt.Errorf("build task %q: %w", e.Name, err)
		}
		if e.IgnoreFailure {
			t = task.IgnoreFailure(t, logger)
		}
		g.Tasks[e.Name] = t
	}

	// Pass 2: declare edges.
	for _, name := range dag.Order {
		e := entries[name]
		if len(e.Needs) == 0 {
			continue
		}
		deps := make([]task.Schedulable, 0, len(e.Needs))
		for _, n := range e.Needs {
			item, _ := g.Item(n)
			deps = append(deps, item)
		}
		var err error
		if e.Kind == KindGroup {
			for _, d := range deps {
				if err = g.Groups[name].AddDependency(d); err != nil {
					break
				}
			}
		} else {
			err = g.Tasks[name].AddDependencies(deps...)
		}
		if err != nil {
			return nil, fmt.Errorf("dependencies of %q: %w", name, err)
		}
	}

	for _, e := range p.Tasks {
		g.order = append(g.order, e.Name)
		if !children[e.Name] {
			item, _ := g.Item(e.Name)
			g.Roots = append(g.Roots, item)
		}
	}
	logger.Debug("plan built", "tasks", len(g.Tasks), "groups", len(g.Groups))
	return g, nil
}

type builder struct {
	ctx    context.Context
	logger *slog.Logger
	engine *script.Engine
}

func (b *builder) task(e Entry) (*task.Task, error) {
	var opts []task.Option
	if e.Estimate != nil {
		opts = append(opts, task.WithEstimatedDuration(*e.Estimate))
	}

	switch e.Kind {
	case KindAction:
		run, err := b.action(e)
		if err != nil {
			return nil, err
		}
		return task.Action(e.Name, run, opts...), nil

	case KindCount, KindRandomCount:
		each := func(int) error { return nil }
		if e.Script != "" {
			prog, err := b.engine.Compile(e.Name, e.Script, "i")
			if err != nil {
				return nil, err
			}
			each = func(i int) error {
				_, err := prog.Call(i)
				return err
			}
		}
		if e.Kind == KindRandomCount {
			return task.RandomCount(e.Name, e.Seed, task.Fixed(e.From), task.Fixed(e.To), each, opts...), nil
		}
		return task.Count(e.Name, task.Fixed(e.From), task.Fixed(e.To), each, opts...), nil

	case KindDelay:
		return task.Delay(e.Name, e.Duration, opts...), nil

	case KindWait:
		prog, err := b.engine.Compile(e.Name, e.Script)
		if err != nil {
			return nil, err
		}
		logger := b.logger.With("task", e.Name)
		ready := func() bool {
			ok, err := prog.Bool()
			if err != nil {
				// Keep waiting; the timeout, if any, ends the task.
				logger.Warn("wait condition failed", "error", err)
				return false
			}
			return ok
		}
		return task.Wait(e.Name, ready, e.Timeout, opts...), nil

	case KindEmpty:
		return task.Empty(e.Name, opts...), nil

	case KindFail:
		msg := e.Message
		if msg == "" {
			msg = "failed by plan"
		}
		return task.Failing(e.Name, errors.New(msg), opts...), nil

	case KindCommand:
		return b.command(e, opts), nil
	}
	return nil, fmt.Errorf("unknown kind %q", e.Kind)
}

func (b *builder) action(e Entry) (func() error, error) {
	if e.Script == "" {
		return func() error { return nil }, nil
	}
	prog, err := b.engine.Compile(e.Name, e.Script)
	if err != nil {
		return nil, err
	}
	return func() error {
		_, err := prog.Call()
		return err
	}, nil
}

// command runs argv on its own goroutine and polls it once per cycle.
func (b *builder) command(e Entry, opts []task.Option) *task.Task {
	argv := e.Command
	logger := b.logger.With("task", e.Name)
	run := func(ctx context.Context) error {
		if e.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.Timeout)
			defer cancel()
		}
		logger.Debug("running command", "argv", argv)
		out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
		if err != nil {
			if tail := strings.TrimSpace(string(out)); tail != "" {
				return fmt.Errorf("%s: %w: %s", argv[0], err, lastLine(tail))
			}
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		return nil
	}
	return task.PromiseTask(b.ctx, e.Name, run, opts...)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
