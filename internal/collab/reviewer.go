package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kiln/internal/chat"
	"kiln/internal/logging"
	"kiln/internal/types"
)

const reviewSystemPrompt = `You are a strict code reviewer. Score the work 0-100 overall and per
dimension (correctness, clarity, testability, robustness).
Respond ONLY with a JSON object:
{
  "passed": true,
  "scores": {"overall": 0, "dimensions": {"correctness": 0, "clarity": 0, "testability": 0, "robustness": 0}},
  "issues": [{"severity": "/critical", "message": "...", "file": "...", "line": 0}],
  "suggestions": ["..."]
}
Severities: /critical (must fix), /major, /minor, /info.`

// ChatReviewer implements types.Reviewer over a chat client.
type ChatReviewer struct {
	client chat.Client
}

// NewChatReviewer creates a chat-backed reviewer.
func NewChatReviewer(client chat.Client) *ChatReviewer {
	return &ChatReviewer{client: client}
}

// Review scores a task's generated files in light of its test results.
func (r *ChatReviewer) Review(ctx context.Context, task *types.Task, description string, files []types.GeneratedFile, testResult *types.TestResult) (*types.ReviewResult, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Task: %s\n%s\n", task.Title, description)

	if testResult != nil {
		fmt.Fprintf(&user, "\nTests: %d passed, %d failed, %d skipped (line coverage %.1f%%)\n",
			testResult.Passed, testResult.Failed, testResult.Skipped, testResult.Coverage.Lines)
		for _, f := range testResult.Failures {
			fmt.Fprintf(&user, "- FAIL %s (%s): %s\n", f.Name, f.File, f.Message)
		}
	}

	if len(files) > 0 {
		user.WriteString("\nFiles under review:\n")
		for _, f := range files {
			fmt.Fprintf(&user, "--- %s ---\n%s\n", f.Path, f.Content)
		}
	}

	resp, err := r.client.Chat(ctx, []chat.Message{
		{Role: chat.RoleSystem, Content: reviewSystemPrompt},
		{Role: chat.RoleUser, Content: user.String()},
	}, chat.Options{})
	if err != nil {
		return nil, err
	}

	var result types.ReviewResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
		return nil, fmt.Errorf("review response is not valid JSON: %w", err)
	}

	// Clamp scores into range rather than trusting the model.
	result.Scores.Overall = clampScore(result.Scores.Overall)
	for k, v := range result.Scores.Dimensions {
		result.Scores.Dimensions[k] = clampScore(v)
	}

	logging.Collab("review of %s: overall %.1f, %d issues", task.ID, result.Scores.Overall, len(result.Issues))
	return &result, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
