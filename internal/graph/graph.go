// Package graph owns the task DAG and its partition into execution levels.
// A level is a batch of tasks with no dependency edges among them, safe to
// run concurrently. Cyclic or dangling dependencies are configuration
// errors detected before any task runs.
package graph

import (
	"errors"
	"fmt"

	"kiln/internal/logging"
	"kiln/internal/types"
)

// Configuration errors abort the whole run before execution starts.
var (
	ErrCycle       = errors.New("dependency cycle detected")
	ErrDangling    = errors.New("dangling dependency")
	ErrDuplicateID = errors.New("duplicate task id")
)

// Graph holds an append-only set of tasks. Tasks may be injected mid-run
// (fix/improvement tasks); each injection invalidates the level plan and
// the next Levelize call rebuilds it over the full set.
type Graph struct {
	tasks []*types.Task
	byID  map[string]*types.Task
}

// New builds a graph from the given tasks and validates identity and
// dependency references. Cycle detection happens at Levelize.
func New(tasks []*types.Task) (*Graph, error) {
	g := &Graph{byID: make(map[string]*types.Task, len(tasks))}
	if err := g.Add(tasks...); err != nil {
		return nil, err
	}
	return g, nil
}

// Add injects tasks into the graph. Dependencies may reference any task
// already in the graph or in the same batch. The whole batch is validated
// before any task is inserted, so a rejected injection leaves the graph
// unchanged.
func (g *Graph) Add(tasks ...*types.Task) error {
	batch := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task %q has empty id", t.Title)
		}
		if batch[t.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
		}
		if _, exists := g.byID[t.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
		}
		batch[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.byID[dep]; !ok && !batch[dep] {
				return fmt.Errorf("%w: task %s depends on unknown task %s", ErrDangling, t.ID, dep)
			}
		}
	}

	for _, t := range tasks {
		g.byID[t.ID] = t
		g.tasks = append(g.tasks, t)
	}

	logging.SchedulerDebug("graph now holds %d tasks (+%d)", len(g.tasks), len(tasks))
	return nil
}

// Task returns the task with the given id, or nil.
func (g *Graph) Task(id string) *types.Task {
	return g.byID[id]
}

// Tasks returns all tasks in declaration order.
func (g *Graph) Tasks() []*types.Task {
	return g.tasks
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Dependents returns ids of tasks that depend (directly) on the given id,
// in declaration order.
func (g *Graph) Dependents(id string) []string {
	var out []string
	for _, t := range g.tasks {
		for _, dep := range t.DependsOn {
			if dep == id {
				out = append(out, t.ID)
				break
			}
		}
	}
	return out
}

// Levelize partitions the task set into topological generations: a task
// joins the earliest level where every dependency belongs to a prior
// level. Within a level, declaration order is preserved. A cycle is a
// fatal configuration error; no partial plan is returned.
func (g *Graph) Levelize() ([][]*types.Task, error) {
	placed := make(map[string]int, len(g.tasks)) // task id -> level index
	var levels [][]*types.Task

	remaining := make([]*types.Task, len(g.tasks))
	copy(remaining, g.tasks)

	for len(remaining) > 0 {
		var level []*types.Task
		var next []*types.Task

		for _, t := range remaining {
			ready := true
			for _, dep := range t.DependsOn {
				if _, ok := placed[dep]; !ok {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, t)
			} else {
				next = append(next, t)
			}
		}

		if len(level) == 0 {
			// Nothing became ready: the rest form at least one cycle.
			ids := make([]string, 0, len(next))
			for _, t := range next {
				ids = append(ids, t.ID)
			}
			return nil, fmt.Errorf("%w: involving tasks %v", ErrCycle, ids)
		}

		idx := len(levels)
		for _, t := range level {
			placed[t.ID] = idx
		}
		levels = append(levels, level)
		remaining = next
	}

	logging.Scheduler("levelized %d tasks into %d levels", len(g.tasks), len(levels))
	for i, level := range levels {
		logging.SchedulerDebug("level %d: %d tasks", i, len(level))
	}

	return levels, nil
}
