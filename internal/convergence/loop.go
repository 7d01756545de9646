package convergence

import (
	"context"
	"fmt"
	"strings"

	"kiln/internal/config"
	"kiln/internal/logging"
	"kiln/internal/types"
)

// Loop drives one unit of work through generate -> test -> review ->
// evaluate until convergence or the iteration ceiling. Hitting the
// ceiling is a completed-but-failed outcome, not an error; collaborator
// errors are returned to the caller as task-local failures.
type Loop struct {
	generator types.Generator
	tests     types.TestRunner
	reviewer  types.Reviewer
	cfg       config.ConvergenceConfig
	workspace string
}

// NewLoop wires the convergence loop to its collaborators.
func NewLoop(gen types.Generator, tests types.TestRunner, rev types.Reviewer, cfg config.ConvergenceConfig, workspace string) *Loop {
	return &Loop{
		generator: gen,
		tests:     tests,
		reviewer:  rev,
		cfg:       cfg,
		workspace: workspace,
	}
}

// Outcome is the terminal result of a convergence loop run.
type Outcome struct {
	Converged     bool                    `json:"converged"`
	Reason        string                  `json:"reason"`
	Iterations    int                     `json:"iterations"`
	ScoreHistory  []float64               `json:"score_history"`
	BestScore     float64                 `json:"best_score"`
	BestIteration int                     `json:"best_iteration"`
	Best          *types.GenerationResult `json:"-"`
	FinalTests    *types.TestResult       `json:"-"`
	FinalReview   *types.ReviewResult     `json:"-"`
}

// Run executes the loop for one task. When the regression guard fires,
// the next improve call starts from the best-scoring version rather than
// the regressed one.
func (l *Loop) Run(ctx context.Context, task *types.Task) (*Outcome, error) {
	var (
		scores  []float64
		current *types.GenerationResult
		best    *types.GenerationResult
		bestIt  int
		bestSc  float64
		lastRes Result
		tests   *types.TestResult
		review  *types.ReviewResult
	)

	genCtx := types.GenerationContext{
		Workspace:          l.workspace,
		AcceptanceCriteria: task.AcceptanceCriteria,
	}

	revertToBest := false

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		var err error
		if iteration == 1 {
			logging.Collab("task %s: generate (iteration 1)", task.ID)
			current, err = l.generator.Generate(ctx, task.Description, genCtx)
		} else {
			base := current
			if revertToBest && best != nil {
				base = best
				revertToBest = false
				logging.Convergence("task %s: reverting to best version from iteration %d", task.ID, bestIt)
			}
			feedback := buildFeedback(tests, review)
			logging.Collab("task %s: improve (iteration %d)", task.ID, iteration)
			current, err = l.generator.Improve(ctx, base, feedback)
		}
		if err != nil {
			return nil, fmt.Errorf("generation failed on iteration %d: %w", iteration, err)
		}

		tests, err = l.tests.RunTests(ctx, l.workspace)
		if err != nil {
			return nil, fmt.Errorf("test run failed on iteration %d: %w", iteration, err)
		}

		review, err = l.reviewer.Review(ctx, task, task.Description, current.Files, tests)
		if err != nil {
			return nil, fmt.Errorf("review failed on iteration %d: %w", iteration, err)
		}

		scores = append(scores, review.Scores.Overall)
		if best == nil || review.Scores.Overall > bestSc {
			best = current
			bestSc = review.Scores.Overall
			bestIt = iteration
		}

		lastRes = Evaluate(scores, review, iteration, l.cfg)
		logging.Convergence("task %s iteration %d: score %.1f, converged=%v (%s)",
			task.ID, iteration, review.Scores.Overall, lastRes.Converged, lastRes.Reason)

		if lastRes.Converged {
			return &Outcome{
				Converged:     true,
				Reason:        lastRes.Reason,
				Iterations:    iteration,
				ScoreHistory:  lastRes.ScoreHistory,
				BestScore:     bestSc,
				BestIteration: bestIt,
				Best:          best,
				FinalTests:    tests,
				FinalReview:   review,
			}, nil
		}

		if lastRes.Reason == "score is decreasing" {
			revertToBest = true
		}
	}

	// Iteration ceiling reached without convergence: a completed-but-failed
	// result reporting the best score achieved.
	return &Outcome{
		Converged:     false,
		Reason:        fmt.Sprintf("max iterations (%d) reached: %s", l.cfg.MaxIterations, lastRes.Reason),
		Iterations:    l.cfg.MaxIterations,
		ScoreHistory:  lastRes.ScoreHistory,
		BestScore:     bestSc,
		BestIteration: bestIt,
		Best:          best,
		FinalTests:    tests,
		FinalReview:   review,
	}, nil
}

// buildFeedback folds test failures and review findings into the
// improvement prompt for the next iteration.
func buildFeedback(tests *types.TestResult, review *types.ReviewResult) string {
	var b strings.Builder

	if tests != nil && tests.Failed > 0 {
		fmt.Fprintf(&b, "%d tests failing:\n", tests.Failed)
		for _, f := range tests.Failures {
			fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, f.File, f.Message)
		}
	}

	if review != nil {
		for _, issue := range review.Issues {
			fmt.Fprintf(&b, "[%s] %s", issue.Severity, issue.Message)
			if issue.File != "" {
				fmt.Fprintf(&b, " (%s:%d)", issue.File, issue.Line)
			}
			b.WriteString("\n")
		}
		for _, s := range review.Suggestions {
			fmt.Fprintf(&b, "suggestion: %s\n", s)
		}
	}

	if b.Len() == 0 {
		return "No specific feedback; tighten edge cases and raise overall quality."
	}
	return b.String()
}
