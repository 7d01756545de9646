package sprint

import (
	"context"
	"strings"
	"sync"

	"kiln/internal/types"
)

// --- mock collaborators ---

type mockGenerator struct {
	mu            sync.Mutex
	GenerateCalls int
	ImproveCalls  int
}

func (g *mockGenerator) Generate(ctx context.Context, description string, genCtx types.GenerationContext) (*types.GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.GenerateCalls++
	return &types.GenerationResult{Files: []types.GeneratedFile{{Path: "out.go", Action: types.ActionCreate}}}, nil
}

func (g *mockGenerator) Improve(ctx context.Context, previous *types.GenerationResult, feedback string) (*types.GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ImproveCalls++
	return previous, nil
}

// mockTests replays a scripted sequence of results; the last entry
// repeats once the script is exhausted.
type mockTests struct {
	mu      sync.Mutex
	Results []*types.TestResult
	Calls   int
}

func (m *mockTests) RunTests(ctx context.Context, cwd string) (*types.TestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if len(m.Results) == 0 {
		return &types.TestResult{Passed: 1}, nil
	}
	i := m.Calls - 1
	if i >= len(m.Results) {
		i = len(m.Results) - 1
	}
	return m.Results[i], nil
}

// mockReviewer returns a fixed score for task reviews and a separately
// configurable result for sprint-level quality checks.
type mockReviewer struct {
	mu            sync.Mutex
	TaskScore     float64
	QualityScore  float64
	QualityIssues []types.ReviewIssue
	QualityCalls  int
}

func (r *mockReviewer) Review(ctx context.Context, task *types.Task, description string, files []types.GeneratedFile, testResult *types.TestResult) (*types.ReviewResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.HasPrefix(task.ID, "qc-") {
		r.QualityCalls++
		return &types.ReviewResult{
			Scores: types.ReviewScores{Overall: r.QualityScore},
			Issues: r.QualityIssues,
		}, nil
	}
	return &types.ReviewResult{Scores: types.ReviewScores{Overall: r.TaskScore}}, nil
}

func passingTests(n int) *types.TestResult {
	return &types.TestResult{Passed: n}
}

func failingTests(name, file, msg string) *types.TestResult {
	return &types.TestResult{
		Passed:   1,
		Failed:   1,
		Failures: []types.TestFailure{{Name: name, File: file, Message: msg}},
	}
}
