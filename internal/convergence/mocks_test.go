package convergence

import (
	"context"
	"fmt"

	"kiln/internal/types"
)

// --- scripted collaborators shared by the loop tests ---

type scriptedGenerator struct {
	GenerateCalls int
	ImproveCalls  int
	Bases         []*types.GenerationResult
	LastFeedback  string
	Err           error
}

func (g *scriptedGenerator) Generate(ctx context.Context, description string, genCtx types.GenerationContext) (*types.GenerationResult, error) {
	g.GenerateCalls++
	if g.Err != nil {
		return nil, g.Err
	}
	return &types.GenerationResult{
		Files:      []types.GeneratedFile{{Path: "main.go", Action: types.ActionCreate}},
		Confidence: 0.9,
	}, nil
}

func (g *scriptedGenerator) Improve(ctx context.Context, previous *types.GenerationResult, feedback string) (*types.GenerationResult, error) {
	g.ImproveCalls++
	g.Bases = append(g.Bases, previous)
	g.LastFeedback = feedback
	if g.Err != nil {
		return nil, g.Err
	}
	out := *previous
	out.Explanation = fmt.Sprintf("revision %d", g.ImproveCalls)
	return &out, nil
}

type scriptedTests struct {
	Results []*types.TestResult // consumed in order, last one repeats
	Calls   int
}

func (s *scriptedTests) RunTests(ctx context.Context, cwd string) (*types.TestResult, error) {
	s.Calls++
	if len(s.Results) == 0 {
		return &types.TestResult{Passed: 1}, nil
	}
	i := s.Calls - 1
	if i >= len(s.Results) {
		i = len(s.Results) - 1
	}
	return s.Results[i], nil
}

type scriptedReviewer struct {
	Scores []float64 // consumed in order, last one repeats
	Calls  int
}

func (r *scriptedReviewer) Review(ctx context.Context, task *types.Task, description string, files []types.GeneratedFile, testResult *types.TestResult) (*types.ReviewResult, error) {
	r.Calls++
	i := r.Calls - 1
	if i >= len(r.Scores) {
		i = len(r.Scores) - 1
	}
	return &types.ReviewResult{
		Passed: r.Scores[i] >= 80,
		Scores: types.ReviewScores{Overall: r.Scores[i]},
	}, nil
}
