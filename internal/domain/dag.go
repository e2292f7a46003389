package domain

import (
	"fmt"
	"sort"
)

// DAG is the dependency graph over one task's subtasks: adjacency lists
// keyed by subtask id plus in-degree counters. Construction validates that
// every dependency resolves inside the task and that the graph is acyclic.
type DAG struct {
	order      []string            // declaration order
	nodes      map[string]*SubTask // id → subtask
	dependents map[string][]string // dep id → ids that wait on it
	indegree   map[string]int      // id → unmet dependency count
}

// NewDAG builds and validates the graph. Returns ErrValidation for
// unresolved or self dependencies and ErrCyclicPlan for cycles.
func NewDAG(subtasks []SubTask) (*DAG, error) {
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("%w: no subtasks", ErrValidation)
	}

	d := &DAG{
		order:      make([]string, 0, len(subtasks)),
		nodes:      make(map[string]*SubTask, len(subtasks)),
		dependents: make(map[string][]string),
		indegree:   make(map[string]int, len(subtasks)),
	}

	for i := range subtasks {
		st := &subtasks[i]
		if _, dup := d.nodes[st.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate subtask id %s", ErrValidation, st.ID)
		}
		d.order = append(d.order, st.ID)
		d.nodes[st.ID] = st
		d.indegree[st.ID] = 0
	}

	for _, id := range d.order {
		st := d.nodes[id]
		for _, dep := range st.Dependencies {
			if dep == id {
				return nil, fmt.Errorf("%w: subtask %s depends on itself", ErrValidation, id)
			}
			if _, ok := d.nodes[dep]; !ok {
				return nil, fmt.Errorf("%w: subtask %s depends on unknown id %s", ErrValidation, id, dep)
			}
			d.dependents[dep] = append(d.dependents[dep], id)
			d.indegree[id]++
		}
	}

	if _, err := d.TopologicalOrder(); err != nil {
		return nil, err
	}
	return d, nil
}

// Len returns the node count.
func (d *DAG) Len() int { return len(d.order) }

// Get returns the subtask for id, or nil.
func (d *DAG) Get(id string) *SubTask { return d.nodes[id] }

// IDs returns all subtask ids in declaration order.
func (d *DAG) IDs() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Dependents returns the ids that directly wait on id.
func (d *DAG) Dependents(id string) []string {
	deps := d.dependents[id]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// TransitiveSuccessors returns every id reachable from id along dependent
// edges. Used to decide whether a failure blocks remaining work.
func (d *DAG) TransitiveSuccessors(id string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), d.dependents[id]...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[next] {
			continue
		}
		seen[next] = true
		stack = append(stack, d.dependents[next]...)
	}
	return seen
}

// TopologicalOrder runs Kahn's algorithm. If it cannot consume every node
// the graph has a cycle and ErrCyclicPlan is returned.
func (d *DAG) TopologicalOrder() ([]string, error) {
	indeg := make(map[string]int, len(d.indegree))
	for id, n := range d.indegree {
		indeg[id] = n
	}

	queue := make([]string, 0, len(d.order))
	for _, id := range d.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(d.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)
		for _, dep := range d.dependents[id] {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(d.order) {
		return nil, ErrCyclicPlan
	}
	return sorted, nil
}

// InitialReady returns the subtasks with no dependencies, ordered by
// priority descending; declaration order breaks ties (stable).
func (d *DAG) InitialReady() []SubTask {
	var ready []SubTask
	for _, id := range d.order {
		if d.indegree[id] == 0 {
			ready = append(ready, *d.nodes[id])
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})
	return ready
}

// ReadyGiven returns the subtasks whose every dependency is in completed,
// excluding anything already in done (completed, failed, queued, or
// in-flight). Readiness is derived from the in-degree counters minus the
// completed set rather than rescanning edges per node.
func (d *DAG) ReadyGiven(completed map[string]bool, done map[string]bool) []SubTask {
	remaining := make(map[string]int, len(d.indegree))
	for id, n := range d.indegree {
		remaining[id] = n
	}
	for id := range completed {
		for _, dep := range d.dependents[id] {
			remaining[dep]--
		}
	}

	var ready []SubTask
	for _, id := range d.order {
		if completed[id] || done[id] {
			continue
		}
		if remaining[id] == 0 {
			ready = append(ready, *d.nodes[id])
		}
	}
	return ready
}
