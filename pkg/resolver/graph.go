// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package resolver implements the dependency resolver (C2): DAG
// validation, topological layering, and readiness propagation over
// task ids. Nodes are referenced by id only — the resolver does not
// own Task records (pkg/queue does).
package resolver

import (
	"sort"
	"sync"

	"github.com/gammazero/toposort"
)

// node is the resolver's view of a task (spec.md §3 TaskNode).
type node struct {
	id         string
	added      bool // true once AddTask registered this id directly
	deps       map[string]struct{}
	dependents map[string]struct{}
	inDegree   int
	completed  bool
}

// Graph is a thread-safe task dependency DAG.
type Graph struct {
	mu    sync.Mutex
	nodes map[string]*node
}

// New returns an empty dependency graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

func (g *Graph) getOrCreate(id string) *node {
	n, ok := g.nodes[id]
	if !ok {
		n = &node{id: id, deps: map[string]struct{}{}, dependents: map[string]struct{}{}}
		g.nodes[id] = n
	}
	return n
}

// AddTask inserts a node for id with the given dependencies.
// Dependencies may reference ids not yet added (deferred validation —
// see Validate). Duplicate ids are an error.
func (g *Graph) AddTask(id string, deps ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.getOrCreate(id)
	if n.added {
		return &ErrDuplicateTask{TaskID: id}
	}
	n.added = true

	inDegree := 0
	for _, dep := range deps {
		n.deps[dep] = struct{}{}
		depNode := g.getOrCreate(dep)
		depNode.dependents[id] = struct{}{}
		if !depNode.completed {
			inDegree++
		}
	}
	n.inDegree = inDegree
	return nil
}

// RemoveTask deletes a node and updates its dependents' in-degree.
// Removing an unknown id is a no-op.
func (g *Graph) RemoveTask(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(id)
}

func (g *Graph) removeLocked(id string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for dep := range n.deps {
		if depNode, ok := g.nodes[dep]; ok {
			delete(depNode.dependents, id)
		}
	}
	for dependentID := range n.dependents {
		if dep, ok := g.nodes[dependentID]; ok {
			delete(dep.deps, id)
			if !n.completed && dep.inDegree > 0 {
				dep.inDegree--
			}
		}
	}
	delete(g.nodes, id)
}

// Validate checks that (a) every dependency references an added node
// and (b) the graph is acyclic, detecting cycles with Kahn's algorithm
// via github.com/gammazero/toposort, the same cycle-detection library
// the teacher's shell-task scheduler uses.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked()
}

func (g *Graph) validateLocked() error {
	ids := g.addedIDsLocked()
	for _, id := range ids {
		n := g.nodes[id]
		deps := sortedKeys(n.deps)
		for _, dep := range deps {
			depNode, ok := g.nodes[dep]
			if !ok || !depNode.added {
				return &ErrInvalidDependency{TaskID: id, DepID: dep}
			}
		}
	}

	if len(ids) == 0 {
		return nil
	}

	edges := make([]toposort.Edge, 0)
	for _, id := range ids {
		for _, dep := range sortedKeys(g.nodes[id].deps) {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}
	if len(edges) == 0 {
		return nil
	}
	if _, err := toposort.Toposort(edges); err != nil {
		remaining := kahnRemaining(g.nodes, ids)
		return &ErrCyclicDependency{Remaining: remaining}
	}
	return nil
}

// kahnRemaining runs Kahn's drain (spec.md §4.2: "iteratively drain
// nodes with in_degree=0; if any remain after the drain, a cycle
// exists") purely to report which ids are stuck in the cycle.
func kahnRemaining(nodes map[string]*node, ids []string) []string {
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = len(nodes[id].deps)
	}
	queue := make([]string, 0)
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	drained := make(map[string]bool, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		drained[id] = true
		next := make([]string, 0)
		for dependentID := range nodes[id].dependents {
			if _, ok := inDegree[dependentID]; !ok {
				continue
			}
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				next = append(next, dependentID)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}
	remaining := make([]string, 0)
	for _, id := range ids {
		if !drained[id] {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)
	return remaining
}

// TopologicalSort returns all added ids in dependency order, using
// Kahn's algorithm with ties broken by task id for determinism.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.validateLocked(); err != nil {
		return nil, err
	}

	ids := g.addedIDsLocked()
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = len(g.nodes[id].deps)
	}

	ready := make([]string, 0)
	for _, id := range ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(ids))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := make([]string, 0)
		dependents := sortedKeys(g.nodes[id].dependents)
		for _, dependentID := range dependents {
			if _, ok := inDegree[dependentID]; !ok {
				continue
			}
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				next = append(next, dependentID)
			}
		}
		sort.Strings(next)
		ready = mergeSorted(ready, next)
	}
	return order, nil
}

// mergeSorted merges two already-sorted string slices into one sorted slice.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// ExecutionPlan is the BFS-style minimum-height topological layering
// defined in spec.md §3.
type ExecutionPlan struct {
	Levels      [][]string
	MaxParallel int
	Total       int
}

// ExecutionPlan computes the layering: level 0 is every ready node;
// level k+1 is every node whose dependencies lie entirely in levels <= k.
func (g *Graph) ExecutionPlan() (ExecutionPlan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.validateLocked(); err != nil {
		return ExecutionPlan{}, err
	}

	ids := g.addedIDsLocked()
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = len(g.nodes[id].deps)
	}

	plan := ExecutionPlan{}
	remaining := len(ids)
	for remaining > 0 {
		level := make([]string, 0)
		for _, id := range ids {
			if _, done := levelIndex(plan.Levels, id); done {
				continue
			}
			if inDegree[id] == 0 {
				level = append(level, id)
			}
		}
		sort.Strings(level)
		if len(level) == 0 {
			// validateLocked already rejected cycles, so this cannot happen.
			break
		}
		plan.Levels = append(plan.Levels, level)
		if len(level) > plan.MaxParallel {
			plan.MaxParallel = len(level)
		}
		plan.Total += len(level)
		remaining -= len(level)

		for _, id := range level {
			for _, dependentID := range sortedKeys(g.nodes[id].dependents) {
				if _, ok := inDegree[dependentID]; ok {
					inDegree[dependentID]--
				}
			}
		}
	}
	return plan, nil
}

func levelIndex(levels [][]string, id string) (int, bool) {
	for i, level := range levels {
		for _, x := range level {
			if x == id {
				return i, true
			}
		}
	}
	return 0, false
}

// MarkCompleted marks id completed, requiring all of its dependencies
// to already be completed, and returns the ids of dependents whose
// in-degree just hit zero.
func (g *Graph) MarkCompleted(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok || !n.added {
		return nil, &ErrDependencyNotSatisfied{TaskID: id, DepID: id}
	}

	for _, dep := range sortedKeys(n.deps) {
		depNode, ok := g.nodes[dep]
		if !ok || !depNode.completed {
			return nil, &ErrDependencyNotSatisfied{TaskID: id, DepID: dep}
		}
	}

	n.completed = true
	newlyReady := make([]string, 0)
	for _, dependentID := range sortedKeys(n.dependents) {
		dependent, ok := g.nodes[dependentID]
		if !ok {
			continue
		}
		if dependent.inDegree > 0 {
			dependent.inDegree--
			if dependent.inDegree == 0 {
				newlyReady = append(newlyReady, dependentID)
			}
		}
	}
	sort.Strings(newlyReady)
	return newlyReady, nil
}

// GetReady returns the ids of all added, incomplete nodes with in-degree zero.
func (g *Graph) GetReady() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ready := make([]string, 0)
	for _, id := range g.addedIDsLocked() {
		n := g.nodes[id]
		if !n.completed && n.inDegree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// Reset clears completion state (and recomputes in-degree) without
// removing nodes or edges.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, n := range g.nodes {
		n.completed = false
	}
	for _, n := range g.nodes {
		n.inDegree = len(n.deps)
	}
}

// Clear empties the graph entirely.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]*node)
}

func (g *Graph) addedIDsLocked() []string {
	ids := make([]string, 0, len(g.nodes))
	for id, n := range g.nodes {
		if n.added {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
