package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"kiln/internal/chat"
	"kiln/internal/logging"
	"kiln/internal/types"
)

const planSystemPrompt = `You are a technical planner. Decompose the goal into sprints of small,
dependency-ordered tasks. Task dependencies may only reference task ids
within the same sprint. Respond ONLY with a JSON object:
{
  "sprints": [{
    "name": "...",
    "goal": "...",
    "tasks": [{
      "id": "t1",
      "title": "...",
      "description": "...",
      "role": "coder",
      "depends_on": [],
      "acceptance_criteria": ["..."]
    }]
  }]
}
Order sprints so later ones build on earlier ones. Keep tasks atomic.`

// ChatPlanner turns a goal into sprints via the chat client.
type ChatPlanner struct {
	client chat.Client
}

// NewChatPlanner creates a chat-backed planner.
func NewChatPlanner(client chat.Client) *ChatPlanner {
	return &ChatPlanner{client: client}
}

type planPayload struct {
	Sprints []struct {
		Name  string `json:"name"`
		Goal  string `json:"goal"`
		Tasks []struct {
			ID                 string   `json:"id"`
			Title              string   `json:"title"`
			Description        string   `json:"description"`
			Role               string   `json:"role"`
			DependsOn          []string `json:"depends_on"`
			AcceptanceCriteria []string `json:"acceptance_criteria"`
		} `json:"tasks"`
	} `json:"sprints"`
}

// Plan decomposes a goal into sprints. Model-chosen task ids are
// namespaced per sprint so ids never collide across sprints.
func (p *ChatPlanner) Plan(ctx context.Context, goal string) ([]*types.Sprint, error) {
	resp, err := p.client.Chat(ctx, []chat.Message{
		{Role: chat.RoleSystem, Content: planSystemPrompt},
		{Role: chat.RoleUser, Content: "Goal:\n" + goal},
	}, chat.Options{})
	if err != nil {
		return nil, err
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &payload); err != nil {
		return nil, fmt.Errorf("plan response is not valid JSON: %w", err)
	}
	if len(payload.Sprints) == 0 {
		return nil, fmt.Errorf("plan produced no sprints")
	}

	var sprints []*types.Sprint
	for _, ps := range payload.Sprints {
		sp := &types.Sprint{
			ID:   uuid.NewString(),
			Name: ps.Name,
			Goal: ps.Goal,
		}
		prefix := sp.ID[:8] + "-"
		for _, pt := range ps.Tasks {
			deps := make([]string, 0, len(pt.DependsOn))
			for _, d := range pt.DependsOn {
				deps = append(deps, prefix+d)
			}
			role := pt.Role
			if role == "" {
				role = "coder"
			}
			sp.Tasks = append(sp.Tasks, &types.Task{
				ID:                 prefix + pt.ID,
				Title:              pt.Title,
				Description:        pt.Description,
				Role:               role,
				Kind:               types.KindFeature,
				DependsOn:          deps,
				AcceptanceCriteria: pt.AcceptanceCriteria,
				Status:             types.TaskPending,
			})
		}
		if len(sp.Tasks) == 0 {
			continue
		}
		sprints = append(sprints, sp)
	}

	logging.Collab("plan produced %d sprints", len(sprints))
	return sprints, nil
}
