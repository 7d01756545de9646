// Package types defines the shared data model of the kiln engine: tasks,
// sprints, results, and the narrow contracts for external collaborators.
package types

import (
	"time"
)

// TaskStatus represents the status of a task.
type TaskStatus string

const (
	TaskPending TaskStatus = "/pending" // Not started
	TaskRunning TaskStatus = "/running" // Currently executing
	TaskDone    TaskStatus = "/done"    // Finished successfully
	TaskFailed  TaskStatus = "/failed"  // Failed
	TaskBlocked TaskStatus = "/blocked" // Blocked by a failed dependency
)

// TaskKind distinguishes planned tasks from synthesized ones.
type TaskKind string

const (
	KindFeature     TaskKind = "/feature"     // Planned at decomposition time
	KindFix         TaskKind = "/fix"         // Synthesized from a test failure
	KindImprovement TaskKind = "/improvement" // Synthesized from a quality gap
	KindIntegration TaskKind = "/integration" // Cross-sprint consistency pass
)

// Task is an atomic unit of work. The task graph owns tasks; the level
// executor is the only writer of Status.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Role               string     `json:"role"` // coder, tester, reviewer
	Kind               TaskKind   `json:"kind"`
	DependsOn          []string   `json:"depends_on,omitempty"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`
	Status             TaskStatus `json:"status"`
	LastError          string     `json:"last_error,omitempty"`
}

// Sprint is a user-visible group of dependent tasks with one pass/fail
// outcome. Created at plan time, consumed once per run (plus injected
// fix/improvement tasks).
type Sprint struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Goal  string  `json:"goal"`
	Tasks []*Task `json:"tasks"`
}

// TaskOutcome records the terminal result of one task execution.
type TaskOutcome struct {
	TaskID   string        `json:"task_id"`
	Status   TaskStatus    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SprintResult is the read-only aggregate for one sprint run.
type SprintResult struct {
	SprintID     string        `json:"sprint_id"`
	Name         string        `json:"name"`
	Passed       bool          `json:"passed"`
	TestsPassed  int           `json:"tests_passed"`
	TestsFailed  int           `json:"tests_failed"`
	TestsSkipped int           `json:"tests_skipped"`
	QualityScore float64       `json:"quality_score"`
	Iterations   int           `json:"iterations"`
	Duration     time.Duration `json:"duration"`
	Errors       []string      `json:"errors,omitempty"`
	Integration  bool          `json:"integration"` // Integration sprints are excluded from build totals

	// Scores maps task id to its per-iteration convergence score history.
	Scores map[string][]float64 `json:"scores,omitempty"`
}

// BuildResult aggregates all sprint results for a build.
// Success is true only if every sprint ended with passing tests.
// TotalTests sums feature sprints only; the integration sprint is
// reported but excluded to avoid double counting.
type BuildResult struct {
	BuildID     string         `json:"build_id"`
	Success     bool           `json:"success"`
	TotalTests  int            `json:"total_tests"`
	Sprints     []SprintResult `json:"sprints"`
	Integration *SprintResult  `json:"integration,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
}

// FileAction describes what a generated file does to the workspace.
type FileAction string

const (
	ActionCreate FileAction = "/create"
	ActionModify FileAction = "/modify"
	ActionDelete FileAction = "/delete"
)

// GeneratedFile is one file produced by a generation collaborator.
type GeneratedFile struct {
	Path    string     `json:"path"`
	Content string     `json:"content"`
	Action  FileAction `json:"action"`
}

// GenerationResult is the output of a generate or improve call.
type GenerationResult struct {
	Files       []GeneratedFile `json:"files"`
	Explanation string          `json:"explanation"`
	Confidence  float64         `json:"confidence"` // 0.0-1.0
}

// GenerationContext carries what the generator needs beyond the task
// description: prior files, review feedback, acceptance criteria.
type GenerationContext struct {
	Workspace          string          `json:"workspace"`
	AcceptanceCriteria []string        `json:"acceptance_criteria,omitempty"`
	ExistingFiles      []GeneratedFile `json:"existing_files,omitempty"`
	Notes              []string        `json:"notes,omitempty"`
}

// Coverage holds coverage percentages reported by the test runner.
type Coverage struct {
	Lines      float64 `json:"lines"`
	Branches   float64 `json:"branches"`
	Functions  float64 `json:"functions"`
	Statements float64 `json:"statements"`
}

// TestFailure identifies one distinct failing test.
type TestFailure struct {
	Name    string `json:"name"`
	File    string `json:"file"`
	Message string `json:"message"`
}

// TestResult is the output of a test execution collaborator.
type TestResult struct {
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Coverage Coverage      `json:"coverage"`
	Failures []TestFailure `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
}

// AllPassed reports whether the run had no failures.
func (tr *TestResult) AllPassed() bool {
	return tr != nil && tr.Failed == 0
}

// IssueSeverity classifies review issues.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "/critical"
	SeverityMajor    IssueSeverity = "/major"
	SeverityMinor    IssueSeverity = "/minor"
	SeverityInfo     IssueSeverity = "/info"
)

// ReviewIssue is one issue found during review.
type ReviewIssue struct {
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
	File     string        `json:"file,omitempty"`
	Line     int           `json:"line,omitempty"`
}

// ReviewScores holds the overall score plus per-dimension breakdowns
// (correctness, clarity, testability, ...). Scores are 0-100.
type ReviewScores struct {
	Overall    float64            `json:"overall"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
}

// ReviewResult is the output of a review collaborator.
type ReviewResult struct {
	Passed      bool          `json:"passed"`
	Scores      ReviewScores  `json:"scores"`
	Issues      []ReviewIssue `json:"issues,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// HasCriticalIssues reports whether any issue carries critical severity.
func (rr *ReviewResult) HasCriticalIssues() bool {
	if rr == nil {
		return false
	}
	for _, issue := range rr.Issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
