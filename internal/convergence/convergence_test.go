package convergence

import (
	"math"
	"testing"

	"kiln/internal/config"
	"kiln/internal/types"
)

func testConvergenceConfig() config.ConvergenceConfig {
	return config.ConvergenceConfig{
		MinScore:                 85,
		ConvergenceThreshold:     2,
		MinConvergenceIterations: 3,
		MaxIterations:            10,
	}
}

func cleanReview(score float64) *types.ReviewResult {
	return &types.ReviewResult{Scores: types.ReviewScores{Overall: score}}
}

func TestEvaluate(t *testing.T) {
	cfg := testConvergenceConfig()

	tests := []struct {
		name            string
		scores          []float64
		latest          *types.ReviewResult
		iteration       int
		minIterations   int
		wantConverged   bool
		wantReason      string
		wantImprovement float64
	}{
		{
			name:            "below iteration floor",
			scores:          []float64{85, 87},
			latest:          cleanReview(87),
			iteration:       2,
			minIterations:   3,
			wantConverged:   false,
			wantReason:      "minimum iterations not reached",
			wantImprovement: 0,
		},
		{
			name:            "below quality bar",
			scores:          []float64{70, 72, 75},
			latest:          cleanReview(75),
			iteration:       3,
			minIterations:   3,
			wantConverged:   false,
			wantReason:      "score 75.0 is below minimum 85.0",
			wantImprovement: 3,
		},
		{
			name:            "stabilized",
			scores:          []float64{88, 89, 89},
			latest:          cleanReview(89),
			iteration:       3,
			minIterations:   3,
			wantConverged:   true,
			wantReason:      "score has stabilized",
			wantImprovement: 0,
		},
		{
			name:            "regression past the guard",
			scores:          []float64{95, 92, 86},
			latest:          cleanReview(86),
			iteration:       3,
			minIterations:   3,
			wantConverged:   false,
			wantReason:      "score is decreasing",
			wantImprovement: -6,
		},
		{
			name:            "still improving",
			scores:          []float64{80, 85, 90},
			latest:          cleanReview(90),
			iteration:       3,
			minIterations:   3,
			wantConverged:   false,
			wantReason:      "still improving (+5.0)",
			wantImprovement: 5,
		},
		{
			name:      "critical issues block convergence",
			scores:    []float64{90, 91, 91},
			iteration: 3,
			latest: &types.ReviewResult{
				Scores: types.ReviewScores{Overall: 91},
				Issues: []types.ReviewIssue{{Severity: types.SeverityCritical, Message: "data race"}},
			},
			minIterations:   3,
			wantConverged:   false,
			wantReason:      "unresolved critical issues remain",
			wantImprovement: 0,
		},
		{
			name:            "single score at floor",
			scores:          []float64{90},
			latest:          cleanReview(90),
			iteration:       1,
			minIterations:   1,
			wantConverged:   true,
			wantReason:      "score has stabilized",
			wantImprovement: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cfg
			cfg.MinConvergenceIterations = tt.minIterations

			got := Evaluate(tt.scores, tt.latest, tt.iteration, cfg)
			if got.Converged != tt.wantConverged {
				t.Errorf("Converged = %v, want %v", got.Converged, tt.wantConverged)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if math.Abs(got.Improvement-tt.wantImprovement) > 1e-9 {
				t.Errorf("Improvement = %v, want %v", got.Improvement, tt.wantImprovement)
			}
			if len(got.ScoreHistory) != len(tt.scores) {
				t.Errorf("ScoreHistory length = %d, want %d", len(got.ScoreHistory), len(tt.scores))
			}
		})
	}
}

func TestEvaluate_Pure(t *testing.T) {
	cfg := testConvergenceConfig()
	scores := []float64{88, 89, 89}
	latest := cleanReview(89)

	first := Evaluate(scores, latest, 3, cfg)
	second := Evaluate(scores, latest, 3, cfg)

	if first.Converged != second.Converged || first.Reason != second.Reason || first.Improvement != second.Improvement {
		t.Fatalf("Evaluate is not deterministic: %+v vs %+v", first, second)
	}
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	cfg := testConvergenceConfig()
	scores := []float64{88, 89, 89}

	res := Evaluate(scores, cleanReview(89), 3, cfg)
	res.ScoreHistory[0] = -1

	if scores[0] != 88 {
		t.Fatalf("Evaluate aliased the caller's score slice")
	}
}

func TestEvaluate_RegressionGuardIndependentOfThreshold(t *testing.T) {
	cfg := testConvergenceConfig()
	cfg.ConvergenceThreshold = 20 // guard stays fixed at -5 regardless

	res := Evaluate([]float64{95, 89}, cleanReview(89), 3, cfg)
	if res.Converged {
		t.Fatalf("expected no convergence, got %+v", res)
	}
	if res.Reason != "score is decreasing" {
		t.Fatalf("Reason = %q, want regression", res.Reason)
	}

	// A drop of exactly 5 is within the guard and stabilizes.
	res = Evaluate([]float64{94, 89}, cleanReview(89), 3, cfg)
	if !res.Converged || res.Reason != "score has stabilized" {
		t.Fatalf("drop of exactly 5 should stabilize, got %+v", res)
	}
}
