package engine

import (
	"context"
	"sync"

	"kiln/internal/types"
)

type stubPlanner struct {
	Sprints []*types.Sprint
	Err     error
}

func (p *stubPlanner) Plan(ctx context.Context, goal string) ([]*types.Sprint, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Sprints, nil
}

type stubGenerator struct{}

func (g *stubGenerator) Generate(ctx context.Context, description string, genCtx types.GenerationContext) (*types.GenerationResult, error) {
	return &types.GenerationResult{Files: []types.GeneratedFile{{Path: "gen.go", Action: types.ActionCreate}}}, nil
}

func (g *stubGenerator) Improve(ctx context.Context, previous *types.GenerationResult, feedback string) (*types.GenerationResult, error) {
	return previous, nil
}

type stubTests struct{}

func (s *stubTests) RunTests(ctx context.Context, cwd string) (*types.TestResult, error) {
	return &types.TestResult{Passed: 2}, nil
}

type stubReviewer struct {
	mu    sync.Mutex
	Score float64
}

func (r *stubReviewer) Review(ctx context.Context, task *types.Task, description string, files []types.GeneratedFile, testResult *types.TestResult) (*types.ReviewResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &types.ReviewResult{Scores: types.ReviewScores{Overall: r.Score}}, nil
}

func planOf(taskIDs ...string) []*types.Sprint {
	sp := &types.Sprint{ID: "sp1", Name: "first sprint", Goal: "ship it"}
	for _, id := range taskIDs {
		sp.Tasks = append(sp.Tasks, &types.Task{ID: id, Title: id, Description: "build " + id, Status: types.TaskPending})
	}
	return []*types.Sprint{sp}
}
