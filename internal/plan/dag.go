package plan

import (
	"fmt"
	"sort"
	"strings"
)

// DAGResult holds the result of DAG analysis.
type DAGResult struct {
	// Edges maps each entry to the entries that must finish before it:
	// its needs, and for a group its children.
	Edges map[string][]string
	// Order is a topological order of the entries (build order).
	Order []string
}

// BuildDAG checks names and references and sorts the plan entries with
// Kahn's algorithm.
//
// "needs: [a]" on b creates the edge a -> b. A group depends on its
// children, so "children: [x]" on g creates x -> g. A group that contains
// itself, directly or through nested groups, or a child that needs its own
// group, therefore shows up as a cycle.
func BuildDAG(p *Plan) (*DAGResult, error) {
	kinds := make(map[string]Kind, len(p.Tasks))
	for _, e := range p.Tasks {
		if _, dup := kinds[e.Name]; dup {
			return nil, fmt.Errorf("duplicate task name %q", e.Name)
		}
		kinds[e.Name] = e.Kind
	}

	forward := make(map[string][]string, len(p.Tasks))
	deps := make(map[string][]string, len(p.Tasks))
	inDegree := make(map[string]int, len(p.Tasks))
	for name := range kinds {
		inDegree[name] = 0
	}

	parents := make(map[string]string)
	addEdge := func(from, to string) {
		for _, d := range deps[to] {
			if d == from {
				return
			}
		}
		forward[from] = append(forward[from], to)
		deps[to] = append(deps[to], from)
		inDegree[to]++
	}

	for _, e := range p.Tasks {
		for _, need := range e.Needs {
			if _, ok := kinds[need]; !ok {
				return nil, fmt.Errorf("task %q needs unknown task %q", e.Name, need)
			}
			if need == e.Name {
				return nil, fmt.Errorf("plan contains a cycle involving tasks: %s", e.Name)
			}
			addEdge(need, e.Name)
		}
		for _, child := range e.Children {
			if _, ok := kinds[child]; !ok {
				return nil, fmt.Errorf("group %q has unknown child %q", e.Name, child)
			}
			if child == e.Name {
				return nil, fmt.Errorf("plan contains a cycle involving tasks: %s", e.Name)
			}
			if prev, ok := parents[child]; ok && prev != e.Name {
				return nil, fmt.Errorf("task %q is a child of both %q and %q", child, prev, e.Name)
			}
			parents[child] = e.Name
			addEdge(child, e.Name)
		}
	}

	for name := range deps {
		sort.Strings(deps[name])
	}

	// Kahn's algorithm: BFS topological sort.
	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		successors := forward[node]
		sort.Strings(successors)
		for _, succ := range successors {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		sort.Strings(queue)
	}

	if len(order) != len(kinds) {
		var cycleNodes []string
		for name, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, name)
			}
		}
		sort.Strings(cycleNodes)
		return nil, fmt.Errorf("plan contains a cycle involving tasks: %s",
			strings.Join(cycleNodes, ", "))
	}

	return &DAGResult{Edges: deps, Order: order}, nil
}
