// Package graph provides the per-project task dependency graph.
package graph

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCycleDetected indicates an edge would introduce a circular dependency.
var ErrCycleDetected = errors.New("circular dependency detected")

// Edge is a directed "task waits for depends_on" relationship.
type Edge struct {
	TaskID      string
	DependsOnID string
}

// DependencyGraph is an adjacency structure over a single project's tasks.
// Task IDs are interned to dense indices; forward (depends_on) and reverse
// (blocked_by) adjacency lists keep insertion order so traversal is
// deterministic.
//
// The graph is safe for concurrent use. It never performs I/O, so its lock
// is never held across a store call.
type DependencyGraph struct {
	mu sync.RWMutex
	// index maps task ID to its slot in ids/deps/rdeps.
	index map[string]int
	ids   []string
	// deps[i] lists the slots task i depends on.
	deps [][]int
	// rdeps[i] lists the slots that depend on task i.
	rdeps [][]int
	edges int
	// debugLog is an optional logging function.
	debugLog func(format string, args ...any)
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		index:    make(map[string]int),
		debugLog: func(format string, args ...any) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...any)) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build loads edges into an empty graph in order. It stops at the first edge
// that would close a cycle and returns ErrCycleDetected.
func (g *DependencyGraph) Build(edges []Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] loading %d edges", len(edges))
	for _, e := range edges {
		if _, err := g.addLocked(e.TaskID, e.DependsOnID); err != nil {
			return fmt.Errorf("edge %s -> %s: %w", e.TaskID, e.DependsOnID, err)
		}
	}
	return nil
}

// AddEdge records that task depends on dependsOn. It fails with
// ErrCycleDetected, leaving the graph unchanged, when task == dependsOn or
// task is already reachable from dependsOn. Adding an existing edge is a
// no-op and reports added == false.
func (g *DependencyGraph) AddEdge(task, dependsOn string) (added bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(task, dependsOn)
}

func (g *DependencyGraph) addLocked(task, dependsOn string) (bool, error) {
	if task == dependsOn {
		return false, fmt.Errorf("%w: task %s cannot depend on itself", ErrCycleDetected, task)
	}
	if g.hasEdgeLocked(task, dependsOn) {
		return false, nil
	}
	if g.reachableLocked(dependsOn, task) {
		g.debugLog("[graph.AddEdge] rejecting %s -> %s: %s already reaches %s", task, dependsOn, dependsOn, task)
		return false, fmt.Errorf("%w: %s already depends on %s", ErrCycleDetected, dependsOn, task)
	}

	from := g.intern(task)
	to := g.intern(dependsOn)
	g.deps[from] = append(g.deps[from], to)
	g.rdeps[to] = append(g.rdeps[to], from)
	g.edges++
	return true, nil
}

// RemoveEdge deletes the edge. It reports false when the edge does not exist.
func (g *DependencyGraph) RemoveEdge(task, dependsOn string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, ok := g.index[task]
	if !ok {
		return false
	}
	to, ok := g.index[dependsOn]
	if !ok {
		return false
	}
	var removed bool
	g.deps[from], removed = without(g.deps[from], to)
	if !removed {
		return false
	}
	g.rdeps[to], _ = without(g.rdeps[to], from)
	g.edges--
	return true
}

// HasEdge reports whether task directly depends on dependsOn.
func (g *DependencyGraph) HasEdge(task, dependsOn string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasEdgeLocked(task, dependsOn)
}

func (g *DependencyGraph) hasEdgeLocked(task, dependsOn string) bool {
	from, ok := g.index[task]
	if !ok {
		return false
	}
	to, ok := g.index[dependsOn]
	if !ok {
		return false
	}
	for _, d := range g.deps[from] {
		if d == to {
			return true
		}
	}
	return false
}

// Dependencies returns the tasks that task directly depends on, in the order
// the edges were added.
func (g *DependencyGraph) Dependencies(task string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[task]
	if !ok {
		return nil
	}
	return g.names(g.deps[i])
}

// BlockedBy returns the tasks that directly depend on task, in the order the
// edges were added.
func (g *DependencyGraph) BlockedBy(task string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[task]
	if !ok {
		return nil
	}
	return g.names(g.rdeps[i])
}

// Incomplete returns the direct dependencies of task for which done returns
// false. A task is dispatch-eligible only when this is empty.
func (g *DependencyGraph) Incomplete(task string, done func(id string) bool) []string {
	var out []string
	for _, dep := range g.Dependencies(task) {
		if !done(dep) {
			out = append(out, dep)
		}
	}
	return out
}

// WouldCreateCycle reports whether adding task -> dependsOn would close a
// cycle: task == dependsOn, or task is reachable from dependsOn.
func (g *DependencyGraph) WouldCreateCycle(task, dependsOn string) bool {
	if task == dependsOn {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reachableLocked(dependsOn, task)
}

// Reachable reports whether to can be reached from from by following
// depends_on edges. A node does not reach itself through zero edges.
func (g *DependencyGraph) Reachable(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reachableLocked(from, to)
}

// reachableLocked runs a breadth-first search over depends_on edges.
func (g *DependencyGraph) reachableLocked(from, to string) bool {
	start, ok := g.index[from]
	if !ok {
		return false
	}
	target, ok := g.index[to]
	if !ok {
		return false
	}

	visited := make([]bool, len(g.ids))
	queue := append([]int(nil), g.deps[start]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == target {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		queue = append(queue, g.deps[n]...)
	}
	return false
}

// Edges returns every edge, grouped by task in first-seen order.
func (g *DependencyGraph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, 0, g.edges)
	for i, deps := range g.deps {
		for _, d := range deps {
			out = append(out, Edge{TaskID: g.ids[i], DependsOnID: g.ids[d]})
		}
	}
	return out
}

// EdgeCount returns the number of edges.
func (g *DependencyGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges
}

// TopologicalSort returns the tasks that appear in any edge ordered so every
// dependency comes before the tasks that depend on it. Ties keep first-seen
// order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pending := make([]int, len(g.ids))
	var queue []int
	for i, deps := range g.deps {
		pending[i] = len(deps)
		if pending[i] == 0 {
			queue = append(queue, i)
		}
	}

	result := make([]string, 0, len(g.ids))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		result = append(result, g.ids[n])
		for _, dependent := range g.rdeps[n] {
			pending[dependent]--
			if pending[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if len(result) != len(g.ids) {
		return nil, ErrCycleDetected
	}
	return result, nil
}

// Clone returns an independent copy of the graph.
func (g *DependencyGraph) Clone() *DependencyGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := New()
	c.debugLog = g.debugLog
	c.ids = append([]string(nil), g.ids...)
	c.deps = make([][]int, len(g.deps))
	c.rdeps = make([][]int, len(g.rdeps))
	for i := range g.deps {
		c.deps[i] = append([]int(nil), g.deps[i]...)
		c.rdeps[i] = append([]int(nil), g.rdeps[i]...)
	}
	for id, i := range g.index {
		c.index[id] = i
	}
	c.edges = g.edges
	return c
}

func (g *DependencyGraph) intern(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	i := len(g.ids)
	g.index[id] = i
	g.ids = append(g.ids, id)
	g.deps = append(g.deps, nil)
	g.rdeps = append(g.rdeps, nil)
	return i
}

func (g *DependencyGraph) names(slots []int) []string {
	if len(slots) == 0 {
		return nil
	}
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = g.ids[s]
	}
	return out
}

func without(list []int, v int) ([]int, bool) {
	for i, x := range list {
		if x == v {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}
