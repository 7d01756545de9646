package types

import "context"

// Generator produces candidate implementations for a task. Implemented by
// an external collaborator (LLM-backed in production, mock in tests).
type Generator interface {
	Generate(ctx context.Context, taskDescription string, genCtx GenerationContext) (*GenerationResult, error)
	Improve(ctx context.Context, previous *GenerationResult, feedback string) (*GenerationResult, error)
}

// TestRunner executes the project's tests in a working directory.
// Timeouts are the runner's responsibility, not the engine's.
type TestRunner interface {
	RunTests(ctx context.Context, cwd string) (*TestResult, error)
}

// Reviewer scores generated work. The engine consumes only the numeric
// scores and issue severities it reports.
type Reviewer interface {
	Review(ctx context.Context, task *Task, description string, files []GeneratedFile, testResult *TestResult) (*ReviewResult, error)
}
