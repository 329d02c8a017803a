package task

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Group aggregates tasks and other groups. It has no cycle function: its
// progress, duration and CPU time are derived from the children, and its
// state is assigned from outside through Resolve, Reject or Track.
type Group struct {
	completion

	name     string
	children []Schedulable
	sealed   bool

	trackOnce sync.Once
}

// NewGroup creates a group holding children in order.
func NewGroup(name string, children ...Schedulable) (*Group, error) {
	g := &Group{name: name}
	g.completion.setName(name)
	if _, err := g.AddChildren(children...); err != nil {
		return nil, err
	}
	return g, nil
}

// Name returns the diagnostic name.
func (g *Group) Name() string { return g.name }

func (g *Group) String() string { return g.name }

// Children returns the direct children in insertion order.
func (g *Group) Children() []Schedulable {
	return slices.Clone(g.children)
}

// Sealed reports whether the group has been used as a dependency target.
func (g *Group) Sealed() bool { return g.sealed }

func (g *Group) seal() {
	g.sealed = true
	for _, c := range g.children {
		if sub, ok := c.(*Group); ok {
			sub.seal()
		}
	}
}

// AddChild appends x unless it is already a direct child and reports
// whether it was inserted.
func (g *Group) AddChild(x Schedulable) (bool, error) {
	switch v := x.(type) {
	case *Task:
		if v == nil {
			return false, fmt.Errorf("add child to %q: nil task", g.name)
		}
	case *Group:
		if v == nil {
			return false, fmt.Errorf("add child to %q: nil group", g.name)
		}
		if v == g || v.contains(g) {
			return false, fmt.Errorf("%w: group %q would contain itself", ErrDependencyCycle, g.name)
		}
	default:
		return false, fmt.Errorf("add child to %q: nil child", g.name)
	}
	if g.sealed {
		return false, fmt.Errorf("add child %q to %q: %w", x.Name(), g.name, ErrGroupSealed)
	}
	if slices.Contains(g.children, x) {
		return false, nil
	}
	g.children = append(g.children, x)
	return true, nil
}

// AddChildren adds each of xs and returns how many were inserted.
func (g *Group) AddChildren(xs ...Schedulable) (int, error) {
	n := 0
	for _, x := range xs {
		added, err := g.AddChild(x)
		if err != nil {
			return n, err
		}
		if added {
			n++
		}
	}
	return n, nil
}

func (g *Group) contains(target *Group) bool {
	for _, c := range g.children {
		if sub, ok := c.(*Group); ok && (sub == target || sub.contains(target)) {
			return true
		}
	}
	return false
}

// Leaves returns every leaf task below the group, depth first and without
// duplicates.
func (g *Group) Leaves() []*Task {
	var out []*Task
	seen := make(map[*Task]bool)
	var walk func(*Group)
	walk = func(cur *Group) {
		for _, c := range cur.children {
			switch v := c.(type) {
			case *Task:
				if !seen[v] {
					seen[v] = true
					out = append(out, v)
				}
			case *Group:
				walk(v)
			}
		}
	}
	walk(g)
	return out
}

// AddDependency adds x as a dependency of every current leaf. The group
// keeps no dependency list of its own.
func (g *Group) AddDependency(x Schedulable) error {
	for _, leaf := range g.Leaves() {
		if err := leaf.AddDependency(x); err != nil {
			return fmt.Errorf("group %q: %w", g.name, err)
		}
	}
	return nil
}

// EstimatedDuration is the sum of the children's estimates; NaN or
// negative estimates contribute nothing.
func (g *Group) EstimatedDuration() float64 {
	var sum float64
	for _, c := range g.children {
		if w, ok := weight(c.EstimatedDuration()); ok {
			sum += w
		}
	}
	return sum
}

// ComputeProgress is the duration-weighted mean of the children's progress.
func (g *Group) ComputeProgress() float64 {
	return WeightedProgress(g.name, g.children)
}

// ExecutedCPUTime sums the children's CPU time recursively.
func (g *Group) ExecutedCPUTime() time.Duration {
	var sum time.Duration
	for _, c := range g.children {
		sum += c.ExecutedCPUTime()
	}
	return sum
}

// Resolve marks the group succeeded and notifies joiners.
func (g *Group) Resolve() {
	if g.State().IsTerminal() {
		return
	}
	g.finish(true, nil)
}

// Reject marks the group failed with cause and notifies joiners.
func (g *Group) Reject(cause error) {
	if g.State().IsTerminal() {
		return
	}
	g.finish(false, cause)
}

// Track drives the group's state from its children: it starts when any
// leaf starts, succeeds when every child succeeds and fails with the first
// child failure. Calling Track more than once has no further effect.
func Track(g *Group) {
	g.trackOnce.Do(func() {
		for _, c := range g.children {
			if sub, ok := c.(*Group); ok {
				Track(sub)
			}
		}
		for _, leaf := range g.Leaves() {
			leaf.OnStarted(g.markRunning)
		}
		JoinAll(g.children, g.Resolve, g.Reject)
	})
}
