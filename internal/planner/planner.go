package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/conductor/pkg/models"
)

// Planner turns a batch of assignments into an execution plan.
type Planner struct {
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a Planner.
func New() *Planner {
	return &Planner{
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (p *Planner) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		p.debugLog = fn
	}
}

// Plan builds the dependency graph for the assignments, rejects cycles,
// partitions the graph into parallel-safe phases, and computes the
// critical path and aggregate estimates.
func (p *Planner) Plan(assignments []*models.Assignment) (*models.Plan, error) {
	if len(assignments) == 0 {
		return nil, fmt.Errorf("plan: no assignments")
	}

	g := newDepGraph()
	byTask := make(map[string][]*models.Assignment)
	for _, a := range assignments {
		g.addNode(a.TaskID, a.EstimatedDuration, a.EstimatedCost)
		byTask[a.TaskID] = append(byTask[a.TaskID], a)
	}
	for _, a := range assignments {
		if err := g.addEdges(a.TaskID, a.DependsOn); err != nil {
			return nil, fmt.Errorf("plan: %w", err)
		}
	}

	if g.hasCycle() {
		return nil, fmt.Errorf("plan: %w", ErrCycleDetected)
	}

	levels := p.partition(g)
	phases := make([]models.Phase, 0, len(levels))
	maxConcurrency := 0
	for i, level := range levels {
		phase := models.Phase{Index: i}
		for _, taskID := range level {
			phase.Assignments = append(phase.Assignments, byTask[taskID]...)
		}
		sortAssignments(phase.Assignments)
		if len(phase.Assignments) > maxConcurrency {
			maxConcurrency = len(phase.Assignments)
		}
		phases = append(phases, phase)
	}

	criticalPath, totalDuration := p.criticalPath(g, levels)

	totalCost := 0.0
	for _, n := range g.nodes {
		totalCost += n.cost
	}

	p.debugLog("[planner] planned %d assignments into %d phases, critical path %v (%.0fs)",
		len(assignments), len(phases), criticalPath, totalDuration)

	return &models.Plan{
		ID:             uuid.New().String()[:8],
		Phases:         phases,
		CriticalPath:   criticalPath,
		TotalDuration:  totalDuration,
		TotalCost:      totalCost,
		MaxConcurrency: maxConcurrency,
		CreatedAt:      time.Now(),
	}, nil
}

// partition groups task IDs into phases by repeatedly extracting the
// current zero-in-degree frontier: a Kahn topological sort with level
// grouping. Assumes the graph is acyclic.
func (p *Planner) partition(g *depGraph) [][]string {
	remaining := make(map[string]int, len(g.nodes))
	for id, deps := range g.edges {
		remaining[id] = len(deps)
	}

	var levels [][]string
	for len(remaining) > 0 {
		var frontier []string
		for id, indeg := range remaining {
			if indeg == 0 {
				frontier = append(frontier, id)
			}
		}
		sort.Strings(frontier)

		for _, id := range frontier {
			delete(remaining, id)
		}
		for _, id := range frontier {
			for _, dependent := range g.dependents(id) {
				if _, ok := remaining[dependent]; ok {
					remaining[dependent]--
				}
			}
		}
		levels = append(levels, frontier)
	}
	return levels
}

// criticalPath computes the longest weighted path through the DAG by
// dynamic programming over the topological levels, where each node's
// weight is its estimated duration. Returns the path as an ordered
// task-ID sequence along with its summed duration.
func (p *Planner) criticalPath(g *depGraph, levels [][]string) ([]string, float64) {
	dist := make(map[string]float64, len(g.nodes))
	pred := make(map[string]string, len(g.nodes))

	for _, level := range levels {
		for _, id := range level {
			deps := append([]string(nil), g.edges[id]...)
			sort.Strings(deps)

			best := 0.0
			bestPred := ""
			for _, depID := range deps {
				// Strictly greater with sorted deps keeps ties on the
				// lexicographically smallest predecessor.
				if bestPred == "" || dist[depID] > best {
					best = dist[depID]
					bestPred = depID
				}
			}
			dist[id] = g.nodes[id].duration + best
			pred[id] = bestPred
		}
	}

	endID := ""
	endDist := -1.0
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if dist[id] > endDist {
			endDist = dist[id]
			endID = id
		}
	}

	var reversed []string
	for id := endID; id != ""; id = pred[id] {
		reversed = append(reversed, id)
	}
	path := make([]string, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path, endDist
}

// sortAssignments orders a phase's assignments deterministically.
func sortAssignments(assignments []*models.Assignment) {
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].TaskID != assignments[j].TaskID {
			return assignments[i].TaskID < assignments[j].TaskID
		}
		return assignments[i].WorkerID < assignments[j].WorkerID
	})
}
