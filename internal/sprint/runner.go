// Package sprint groups tasks into sprints and drives them through the
// level executor, applying two independent retry strategies: fix tasks
// synthesized from test failures and improvement tasks synthesized from
// quality gaps. A final integration sprint exercises cross-sprint
// consistency; its test counts are reported but excluded from the
// build-wide total.
package sprint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kiln/internal/config"
	"kiln/internal/convergence"
	"kiln/internal/executor"
	"kiln/internal/graph"
	"kiln/internal/logging"
	"kiln/internal/types"
)

// Runner executes sprints and whole builds.
type Runner struct {
	exec      *executor.Executor
	generator types.Generator
	tests     types.TestRunner
	reviewer  types.Reviewer
	cfg       *config.Config
	workspace string
	emit      types.EmitFunc
}

// NewRunner wires a sprint runner to its collaborators.
func NewRunner(exec *executor.Executor, gen types.Generator, tests types.TestRunner, rev types.Reviewer, cfg *config.Config, workspace string, emit types.EmitFunc) *Runner {
	return &Runner{
		exec:      exec,
		generator: gen,
		tests:     tests,
		reviewer:  rev,
		cfg:       cfg,
		workspace: workspace,
		emit:      emit,
	}
}

func (r *Runner) publish(ev types.Event) {
	if r.emit == nil {
		return
	}
	ev.Timestamp = time.Now()
	r.emit(ev)
}

// taskRunner runs one task through its own quality convergence loop.
// A loop that completes without converging fails the task; the failure
// stays task-local and surfaces through the sprint's retry machinery.
// record receives each task's score history for the sprint result.
func (r *Runner) taskRunner(record func(taskID string, scores []float64)) executor.TaskRunner {
	loop := convergence.NewLoop(r.generator, r.tests, r.reviewer, r.cfg.Convergence, r.workspace)
	return func(ctx context.Context, task *types.Task) error {
		r.publish(types.Event{Type: types.EventTaskStarted, TaskID: task.ID, Message: task.Title})
		out, err := loop.Run(ctx, task)
		if err != nil {
			r.publish(types.Event{Type: types.EventTaskFailed, TaskID: task.ID, Message: err.Error()})
			return err
		}
		record(task.ID, out.ScoreHistory)
		if !out.Converged {
			r.publish(types.Event{Type: types.EventTaskFailed, TaskID: task.ID, Message: out.Reason})
			return fmt.Errorf("quality did not converge: %s (best %.1f at iteration %d)",
				out.Reason, out.BestScore, out.BestIteration)
		}
		r.publish(types.Event{Type: types.EventTaskCompleted, TaskID: task.ID, Message: out.Reason, Data: out.ScoreHistory})
		return nil
	}
}

// RunSprint runs one sprint to a terminal SprintResult. Each pass runs
// the sprint's tasks level by level, then the test suite. Test failures
// synthesize one fix task per distinct failure and re-run; passing tests
// trigger a quality check whose shortfall synthesizes improvement tasks
// and re-runs, tests included. Both strategies share one iteration
// ceiling. Reaching the ceiling with failing tests short-circuits the
// quality check: a sprint is never quality-scored with failing tests.
func (r *Runner) RunSprint(ctx context.Context, sp *types.Sprint) types.SprintResult {
	start := time.Now()
	result := types.SprintResult{SprintID: sp.ID, Name: sp.Name}

	r.publish(types.Event{Type: types.EventSprintStarted, SprintID: sp.ID, Message: sp.Name})
	logging.Sprint("sprint %s (%s): %d tasks", sp.ID, sp.Name, len(sp.Tasks))

	g, err := graph.New(sp.Tasks)
	if err != nil {
		// Fatal configuration error: no partial execution.
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result
	}

	seenFailures := make(map[string]bool)     // distinct failure triples already covered
	seenImprovements := make(map[string]bool) // review issues already covered

	// Tasks within a level run concurrently, so history collection is
	// serialized here.
	var scoresMu sync.Mutex
	result.Scores = make(map[string][]float64)
	runTask := r.taskRunner(func(taskID string, scores []float64) {
		scoresMu.Lock()
		result.Scores[taskID] = scores
		scoresMu.Unlock()
	})

	var lastTests *types.TestResult

	for iteration := 1; iteration <= r.cfg.Sprint.MaxIterationsPerSprint; iteration++ {
		result.Iterations = iteration

		outcomes, err := r.exec.Run(ctx, g, runTask)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			break
		}
		for _, out := range outcomes {
			if out.Status == types.TaskFailed || out.Status == types.TaskBlocked {
				result.Errors = append(result.Errors, fmt.Sprintf("task %s %s: %s", out.TaskID, out.Status, out.Error))
			}
		}

		lastTests, err = r.tests.RunTests(ctx, r.workspace)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("test run: %v", err))
			break
		}
		result.TestsPassed = lastTests.Passed
		result.TestsFailed = lastTests.Failed
		result.TestsSkipped = lastTests.Skipped

		if !lastTests.AllPassed() {
			logging.Sprint("sprint %s iteration %d: %d tests failing", sp.ID, iteration, lastTests.Failed)
			if iteration == r.cfg.Sprint.MaxIterationsPerSprint {
				break
			}
			fixes := r.synthesizeFixTasks(lastTests.Failures, seenFailures)
			if len(fixes) > 0 {
				if err := g.Add(fixes...); err != nil {
					result.Errors = append(result.Errors, err.Error())
					break
				}
				r.publish(types.Event{Type: types.EventFixInjected, SprintID: sp.ID,
					Message: fmt.Sprintf("%d fix tasks injected", len(fixes))})
			}
			continue
		}

		// Tests pass: quality gate.
		score, review, err := r.runQualityCheck(ctx, sp, lastTests)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("quality check: %v", err))
			break
		}
		result.QualityScore = score

		if score >= r.cfg.Sprint.QualityThreshold {
			result.Passed = true
			break
		}

		logging.Sprint("sprint %s iteration %d: quality %.1f below threshold %.1f",
			sp.ID, iteration, score, r.cfg.Sprint.QualityThreshold)
		if iteration == r.cfg.Sprint.MaxIterationsPerSprint {
			break
		}
		improvements := r.synthesizeImprovementTasks(review, seenImprovements)
		if len(improvements) == 0 {
			// Nothing actionable left; accept the score we have.
			break
		}
		if err := g.Add(improvements...); err != nil {
			result.Errors = append(result.Errors, err.Error())
			break
		}
		r.publish(types.Event{Type: types.EventImproveInjected, SprintID: sp.ID,
			Message: fmt.Sprintf("%d improvement tasks injected", len(improvements))})
	}

	if lastTests != nil && !lastTests.AllPassed() {
		// Ceiling reached while tests still fail.
		result.QualityScore = 0
		result.Passed = false
	}

	result.Duration = time.Since(start)
	r.publish(types.Event{Type: types.EventSprintCompleted, SprintID: sp.ID,
		Message: fmt.Sprintf("passed=%v quality=%.1f iterations=%d", result.Passed, result.QualityScore, result.Iterations)})
	logging.Sprint("sprint %s finished: passed=%v quality=%.1f iterations=%d errors=%d",
		sp.ID, result.Passed, result.QualityScore, result.Iterations, len(result.Errors))
	return result
}

// runQualityCheck runs the sprint-level quality task and reads its score.
func (r *Runner) runQualityCheck(ctx context.Context, sp *types.Sprint, tests *types.TestResult) (float64, *types.ReviewResult, error) {
	qc := &types.Task{
		ID:          "qc-" + sp.ID,
		Title:       "Quality check: " + sp.Name,
		Description: fmt.Sprintf("Assess overall quality of sprint %q against its goal: %s", sp.Name, sp.Goal),
		Role:        "reviewer",
		Kind:        types.KindFeature,
	}
	review, err := r.reviewer.Review(ctx, qc, qc.Description, nil, tests)
	if err != nil {
		return 0, nil, err
	}
	return review.Scores.Overall, review, nil
}

// synthesizeFixTasks creates one fix task per distinct failure
// (name/file/message), skipping triples already covered in this sprint.
func (r *Runner) synthesizeFixTasks(failures []types.TestFailure, seen map[string]bool) []*types.Task {
	var out []*types.Task
	for _, f := range failures {
		key := f.Name + "|" + f.File + "|" + f.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, &types.Task{
			ID:          uuid.NewString(),
			Title:       "Fix failing test " + f.Name,
			Description: fmt.Sprintf("Test %s in %s fails: %s. Fix the implementation so the test passes without weakening the test.", f.Name, f.File, f.Message),
			Role:        "coder",
			Kind:        types.KindFix,
			Status:      types.TaskPending,
		})
	}
	return out
}

// synthesizeImprovementTasks creates one improvement task per unresolved
// review issue of major or critical severity.
func (r *Runner) synthesizeImprovementTasks(review *types.ReviewResult, seen map[string]bool) []*types.Task {
	if review == nil {
		return nil
	}
	var out []*types.Task
	for _, issue := range review.Issues {
		if issue.Severity != types.SeverityCritical && issue.Severity != types.SeverityMajor {
			continue
		}
		if seen[issue.Message] {
			continue
		}
		seen[issue.Message] = true
		desc := issue.Message
		if issue.File != "" {
			desc = fmt.Sprintf("%s (%s:%d)", issue.Message, issue.File, issue.Line)
		}
		out = append(out, &types.Task{
			ID:          uuid.NewString(),
			Title:       "Address review issue",
			Description: "Resolve review finding: " + desc,
			Role:        "coder",
			Kind:        types.KindImprovement,
			Status:      types.TaskPending,
		})
	}
	return out
}

// RunBuild runs all feature sprints, then one integration sprint. Success
// requires every sprint, retries included, to end with passing tests.
// TotalTests sums feature sprints only.
func (r *Runner) RunBuild(ctx context.Context, sprints []*types.Sprint) *types.BuildResult {
	start := time.Now()
	build := &types.BuildResult{
		BuildID:   uuid.NewString(),
		Success:   true,
		StartedAt: start,
	}

	logging.Sprint("build %s: %d sprints", build.BuildID, len(sprints))

	for _, sp := range sprints {
		res := r.RunSprint(ctx, sp)
		build.Sprints = append(build.Sprints, res)
		build.TotalTests += res.TestsPassed + res.TestsFailed + res.TestsSkipped
		if !testsGreen(res) {
			build.Success = false
		}
	}

	integration := r.RunSprint(ctx, r.integrationSprint(sprints))
	integration.Integration = true
	build.Integration = &integration
	if !testsGreen(integration) {
		build.Success = false
	}

	build.Duration = time.Since(start)
	logging.Sprint("build %s finished: success=%v totalTests=%d duration=%s",
		build.BuildID, build.Success, build.TotalTests, build.Duration)
	return build
}

// testsGreen reports whether a sprint ended with a passing test run.
// Build success is keyed on tests, not on the quality gate.
func testsGreen(res types.SprintResult) bool {
	if res.TestsFailed > 0 {
		return false
	}
	// A sprint that never reached a test run (fatal graph error, test
	// runner error) is not green.
	return res.TestsPassed+res.TestsSkipped > 0 || len(res.Errors) == 0
}

// integrationSprint synthesizes the final cross-sprint consistency pass.
func (r *Runner) integrationSprint(sprints []*types.Sprint) *types.Sprint {
	goals := ""
	for i, sp := range sprints {
		if i > 0 {
			goals += "; "
		}
		goals += sp.Name
	}
	return &types.Sprint{
		ID:   uuid.NewString(),
		Name: "Integration",
		Goal: "Verify cross-sprint consistency across: " + goals,
		Tasks: []*types.Task{{
			ID:          uuid.NewString(),
			Title:       "Integration pass",
			Description: "Exercise the interfaces between the sprints' deliverables and reconcile inconsistencies: " + goals,
			Role:        "coder",
			Kind:        types.KindIntegration,
			Status:      types.TaskPending,
		}},
	}
}
