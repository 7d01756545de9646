// Package convergence implements the quality convergence decision and the
// per-task generate -> test -> review loop around it. Convergence is the
// point at which further iteration is judged unlikely to materially
// improve quality; the decision is a pure function of the score history,
// the latest review, the iteration count, and configuration.
package convergence

import (
	"fmt"

	"kiln/internal/config"
	"kiln/internal/types"
)

// regressionGuard is the fixed improvement floor below which the score is
// treated as regressing. Independent of convergence_threshold; the two do
// not scale together.
const regressionGuard = -5

// Result is the outcome of one convergence evaluation.
type Result struct {
	Converged    bool      `json:"converged"`
	Reason       string    `json:"reason"`
	Improvement  float64   `json:"improvement"`
	ScoreHistory []float64 `json:"score_history"`
}

// Evaluate decides whether iteration should stop. First matching rule
// wins:
//
//  1. below the iteration floor: keep going, improvement not computed
//  2. compute improvement from the last two scores
//  3. latest score below the quality bar: keep going
//  4. unresolved critical review issues: keep going
//  5. still improving beyond the threshold: keep going
//  6. regressing past the fixed guard: keep going, caller should prefer
//     the best-scoring version over the regressed one
//  7. otherwise the score has stabilized: converged
//
// Evaluate is pure: identical inputs yield identical results.
func Evaluate(scores []float64, latest *types.ReviewResult, iterationCount int, cfg config.ConvergenceConfig) Result {
	history := append([]float64(nil), scores...)

	if iterationCount < cfg.MinConvergenceIterations {
		return Result{
			Converged:    false,
			Reason:       "minimum iterations not reached",
			Improvement:  0,
			ScoreHistory: history,
		}
	}

	improvement := 0.0
	if len(scores) >= 2 {
		improvement = scores[len(scores)-1] - scores[len(scores)-2]
	}

	if len(scores) > 0 && scores[len(scores)-1] < cfg.MinScore {
		return Result{
			Converged:    false,
			Reason:       fmt.Sprintf("score %.1f is below minimum %.1f", scores[len(scores)-1], cfg.MinScore),
			Improvement:  improvement,
			ScoreHistory: history,
		}
	}

	if latest.HasCriticalIssues() {
		return Result{
			Converged:    false,
			Reason:       "unresolved critical issues remain",
			Improvement:  improvement,
			ScoreHistory: history,
		}
	}

	if improvement > cfg.ConvergenceThreshold {
		return Result{
			Converged:    false,
			Reason:       fmt.Sprintf("still improving (+%.1f)", improvement),
			Improvement:  improvement,
			ScoreHistory: history,
		}
	}

	if improvement < regressionGuard {
		return Result{
			Converged:    false,
			Reason:       "score is decreasing",
			Improvement:  improvement,
			ScoreHistory: history,
		}
	}

	return Result{
		Converged:    true,
		Reason:       "score has stabilized",
		Improvement:  improvement,
		ScoreHistory: history,
	}
}
