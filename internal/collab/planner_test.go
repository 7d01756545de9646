package collab

import (
	"context"
	"strings"
	"testing"

	"kiln/internal/chat"
)

const planReply = `{
  "sprints": [
    {
      "name": "Core",
      "goal": "foundation types",
      "tasks": [
        {"id": "t1", "title": "types", "description": "define types", "depends_on": []},
        {"id": "t2", "title": "store", "description": "persist types", "role": "coder", "depends_on": ["t1"]}
      ]
    },
    {
      "name": "API",
      "goal": "http surface",
      "tasks": [
        {"id": "t1", "title": "handlers", "description": "http handlers", "depends_on": []}
      ]
    },
    {"name": "Empty", "goal": "nothing", "tasks": []}
  ]
}`

func TestChatPlanner_Plan(t *testing.T) {
	p := NewChatPlanner(chat.NewStubClient().Queue(planReply))

	sprints, err := p.Plan(context.Background(), "build the system")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	// The empty sprint is dropped.
	if len(sprints) != 2 {
		t.Fatalf("got %d sprints, want 2", len(sprints))
	}

	core := sprints[0]
	if core.Name != "Core" || len(core.Tasks) != 2 {
		t.Fatalf("core sprint mangled: %+v", core)
	}
	// In-sprint dependencies are rewritten to the namespaced ids.
	if core.Tasks[1].DependsOn[0] != core.Tasks[0].ID {
		t.Errorf("dependency %q does not match task id %q", core.Tasks[1].DependsOn[0], core.Tasks[0].ID)
	}
	// The same model-chosen id in different sprints never collides.
	if core.Tasks[0].ID == sprints[1].Tasks[0].ID {
		t.Errorf("task ids collide across sprints: %q", core.Tasks[0].ID)
	}
	// Ids are namespaced under the sprint.
	if !strings.HasPrefix(core.Tasks[0].ID, core.ID[:8]+"-") {
		t.Errorf("task id %q not namespaced under sprint %q", core.Tasks[0].ID, core.ID)
	}
	// Role defaults to coder.
	if core.Tasks[0].Role != "coder" {
		t.Errorf("Role = %q, want coder", core.Tasks[0].Role)
	}
}

func TestChatPlanner_EmptyPlanIsError(t *testing.T) {
	p := NewChatPlanner(chat.NewStubClient().Queue(`{"sprints": []}`))
	if _, err := p.Plan(context.Background(), "goal"); err == nil {
		t.Fatalf("expected error for empty plan")
	}
}
