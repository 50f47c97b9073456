// Package planner builds execution plans: a dependency graph over
// assignments, a topological partition into parallel-safe phases, and a
// critical-path analysis.
package planner

import (
	"errors"
	"fmt"
)

// ErrCycleDetected indicates a circular dependency among the batch's
// task IDs. Cycles are a hard stop; they are never silently broken.
var ErrCycleDetected = errors.New("circular dependency detected")

// node is one task in the dependency graph, carrying the durations and
// costs of every assignment bound to that task.
type node struct {
	id string
	// duration is the node weight for critical-path analysis: the
	// longest estimated duration among the task's assignments, since
	// co-assigned workers run concurrently.
	duration float64
	// cost is the summed estimated cost of the task's assignments.
	cost float64
}

// depGraph is a directed graph of task dependencies. Edges point from a
// task to the tasks it depends on.
type depGraph struct {
	nodes map[string]*node
	// edges maps task ID to the IDs of tasks it depends on.
	edges map[string][]string
}

// newDepGraph creates an empty dependency graph.
func newDepGraph() *depGraph {
	return &depGraph{
		nodes: make(map[string]*node),
		edges: make(map[string][]string),
	}
}

// addNode registers a task node, accumulating duration and cost when the
// task already exists (multi-worker tasks contribute one assignment each).
func (g *depGraph) addNode(id string, duration, cost float64) {
	n, exists := g.nodes[id]
	if !exists {
		n = &node{id: id}
		g.nodes[id] = n
		g.edges[id] = nil
	}
	if duration > n.duration {
		n.duration = duration
	}
	n.cost += cost
}

// addEdges records a task's dependencies. Every dependency must already
// be a node in the graph.
func (g *depGraph) addEdges(id string, deps []string) error {
	for _, depID := range deps {
		if _, exists := g.nodes[depID]; !exists {
			return fmt.Errorf("task %s depends on unknown task %s", id, depID)
		}
		if containsID(g.edges[id], depID) {
			continue
		}
		g.edges[id] = append(g.edges[id], depID)
	}
	return nil
}

// hasCycle detects circular dependencies with a depth-first search using
// white/gray/black colouring; a gray-to-gray edge is a back edge.
// A task depending on itself is the degenerate single-node cycle.
func (g *depGraph) hasCycle() bool {
	const (
		white = 0 // unvisited
		gray  = 1 // in progress
		black = 2 // done
	)
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case gray:
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for id := range g.nodes {
		if colors[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// dependents returns the IDs of tasks that depend on the given task.
func (g *depGraph) dependents(taskID string) []string {
	var out []string
	for id, deps := range g.edges {
		if containsID(deps, taskID) {
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, have := range ids {
		if have == id {
			return true
		}
	}
	return false
}
