// Package executor runs one execution level at a time through a bounded
// worker pool. The executor is the single writer of task status: levels
// never overlap, a failed task never aborts its siblings, and dependents
// of a failed task are marked blocked rather than silently skipped.
package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"kiln/internal/governor"
	"kiln/internal/graph"
	"kiln/internal/logging"
	"kiln/internal/types"
)

// TaskRunner executes one task. Errors are task-local: they are recorded
// as the task's outcome and never propagate past the level.
type TaskRunner func(ctx context.Context, task *types.Task) error

// Executor drives level-by-level execution with a budget from the
// resource governor, re-evaluated at the start of every level.
type Executor struct {
	gov *governor.Governor
}

// New creates a level executor backed by the given governor.
func New(gov *governor.Governor) *Executor {
	return &Executor{gov: gov}
}

// RunLevel runs one level's tasks concurrently, bounded by budget.
// Launch order follows the level's declaration order; a freed slot is
// immediately refilled from the remaining queue. The call returns only
// once every task has a terminal outcome.
func (e *Executor) RunLevel(ctx context.Context, level []*types.Task, run TaskRunner, budget int) map[string]types.TaskOutcome {
	if budget < 1 {
		budget = 1
	}

	outcomes := make(map[string]types.TaskOutcome, len(level))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(int64(budget))

	logging.Scheduler("running level: %d tasks, budget %d", len(level), budget)

	for _, task := range level {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a slot: the task never
			// started, record it as failed without running.
			mu.Lock()
			task.Status = types.TaskFailed
			task.LastError = err.Error()
			outcomes[task.ID] = types.TaskOutcome{TaskID: task.ID, Status: types.TaskFailed, Error: err.Error()}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(t *types.Task) {
			defer wg.Done()
			defer sem.Release(1)

			start := time.Now()
			t.Status = types.TaskRunning
			logging.SchedulerDebug("task %s started", t.ID)

			err := run(ctx, t)

			outcome := types.TaskOutcome{TaskID: t.ID, Duration: time.Since(start)}
			if err != nil {
				t.Status = types.TaskFailed
				t.LastError = err.Error()
				outcome.Status = types.TaskFailed
				outcome.Error = err.Error()
				logging.SchedulerError("task %s failed: %v", t.ID, err)
			} else {
				t.Status = types.TaskDone
				outcome.Status = types.TaskDone
				logging.SchedulerDebug("task %s done in %s", t.ID, outcome.Duration)
			}

			mu.Lock()
			outcomes[t.ID] = outcome
			mu.Unlock()
		}(task)
	}

	// Synchronization barrier: the level resolves fully before the caller
	// may advance.
	wg.Wait()
	return outcomes
}

// Run levelizes the graph and executes every level in order. A cyclic or
// dangling graph fails fast before any task starts. Dependents of failed
// or blocked tasks are marked blocked and excluded from execution.
func (e *Executor) Run(ctx context.Context, g *graph.Graph, run TaskRunner) (map[string]types.TaskOutcome, error) {
	levels, err := g.Levelize()
	if err != nil {
		return nil, err
	}

	all := make(map[string]types.TaskOutcome, g.Len())

	for i, level := range levels {
		// Budget adapts to current load, not a once-per-run reading.
		budget := e.gov.MaxSafeAgents()

		runnable := make([]*types.Task, 0, len(level))
		for _, t := range level {
			if t.Status == types.TaskDone {
				// Already resolved in a prior pass over an injected graph.
				all[t.ID] = types.TaskOutcome{TaskID: t.ID, Status: types.TaskDone}
				continue
			}
			if blockedBy := e.unmetDependency(g, t); blockedBy != "" {
				t.Status = types.TaskBlocked
				t.LastError = "blocked by " + blockedBy
				all[t.ID] = types.TaskOutcome{TaskID: t.ID, Status: types.TaskBlocked, Error: t.LastError}
				logging.Scheduler("task %s blocked by %s", t.ID, blockedBy)
				continue
			}
			runnable = append(runnable, t)
		}

		if len(runnable) == 0 {
			continue
		}

		logging.SchedulerDebug("level %d/%d: %d runnable", i+1, len(levels), len(runnable))
		for id, outcome := range e.RunLevel(ctx, runnable, run, budget) {
			all[id] = outcome
		}
	}

	return all, nil
}

// unmetDependency returns the id of a dependency that did not finish
// successfully, or "" when the task may run.
func (e *Executor) unmetDependency(g *graph.Graph, t *types.Task) string {
	for _, dep := range t.DependsOn {
		d := g.Task(dep)
		if d == nil || d.Status != types.TaskDone {
			return dep
		}
	}
	return ""
}
