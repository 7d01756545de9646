package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kiln/internal/chat"
	"kiln/internal/logging"
	"kiln/internal/types"
)

const generateSystemPrompt = `You are a senior software engineer producing complete, working code.
Respond ONLY with a JSON object of this exact shape:
{
  "files": [{"path": "relative/path.go", "content": "...", "action": "/create"}],
  "explanation": "one paragraph",
  "confidence": 0.0
}
Actions: /create for new files, /modify to replace an existing file, /delete to remove one.
No placeholders, no TODO stubs, no mock implementations.`

// ChatGenerator implements types.Generator over a chat client and
// applies generated files to the workspace.
type ChatGenerator struct {
	client    chat.Client
	workspace string
	apply     bool // Write generated files to disk
}

// NewChatGenerator creates a generator that writes files into workspace.
func NewChatGenerator(client chat.Client, workspace string) *ChatGenerator {
	return &ChatGenerator{client: client, workspace: workspace, apply: true}
}

// generationPayload mirrors the JSON the model is asked to produce.
type generationPayload struct {
	Files []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Action  string `json:"action"`
	} `json:"files"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
}

// Generate produces a candidate implementation for a task description.
func (g *ChatGenerator) Generate(ctx context.Context, taskDescription string, genCtx types.GenerationContext) (*types.GenerationResult, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Task:\n%s\n", taskDescription)
	if len(genCtx.AcceptanceCriteria) > 0 {
		user.WriteString("\nAcceptance criteria:\n")
		for _, ac := range genCtx.AcceptanceCriteria {
			fmt.Fprintf(&user, "- %s\n", ac)
		}
	}
	for _, note := range genCtx.Notes {
		fmt.Fprintf(&user, "\nNote: %s\n", note)
	}

	return g.complete(ctx, user.String())
}

// Improve revises a previous result given feedback. The previous files
// are included so the model revises rather than regenerates.
func (g *ChatGenerator) Improve(ctx context.Context, previous *types.GenerationResult, feedback string) (*types.GenerationResult, error) {
	var user strings.Builder
	user.WriteString("Revise the following implementation.\n\nCurrent files:\n")
	for _, f := range previous.Files {
		fmt.Fprintf(&user, "--- %s ---\n%s\n", f.Path, f.Content)
	}
	fmt.Fprintf(&user, "\nFeedback to address:\n%s\n", feedback)
	user.WriteString("\nReturn the full revised file set, not a diff.")

	return g.complete(ctx, user.String())
}

func (g *ChatGenerator) complete(ctx context.Context, user string) (*types.GenerationResult, error) {
	resp, err := g.client.Chat(ctx, []chat.Message{
		{Role: chat.RoleSystem, Content: generateSystemPrompt},
		{Role: chat.RoleUser, Content: user},
	}, chat.Options{})
	if err != nil {
		return nil, err
	}

	var payload generationPayload
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &payload); err != nil {
		return nil, fmt.Errorf("generation response is not valid JSON: %w", err)
	}
	if len(payload.Files) == 0 {
		return nil, fmt.Errorf("generation produced no files")
	}

	result := &types.GenerationResult{
		Explanation: payload.Explanation,
		Confidence:  payload.Confidence,
	}
	for _, f := range payload.Files {
		action := types.FileAction(f.Action)
		switch action {
		case types.ActionCreate, types.ActionModify, types.ActionDelete:
		default:
			action = types.ActionCreate
		}
		result.Files = append(result.Files, types.GeneratedFile{
			Path:    filepath.ToSlash(filepath.Clean(f.Path)),
			Content: f.Content,
			Action:  action,
		})
	}

	if g.apply {
		if err := g.applyFiles(result.Files); err != nil {
			return nil, err
		}
	}

	logging.Collab("generation produced %d files (confidence %.2f)", len(result.Files), result.Confidence)
	return result, nil
}

// resolveWorkspacePath maps a generated path to a location inside the
// workspace. Absolute paths and paths that climb above the workspace
// root are rejected, since the path comes from the model.
func (g *ChatGenerator) resolveWorkspacePath(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("generated path %q escapes the workspace", path)
	}
	return filepath.Join(g.workspace, clean), nil
}

// applyFiles materializes generated files in the workspace.
func (g *ChatGenerator) applyFiles(files []types.GeneratedFile) error {
	for _, f := range files {
		full, err := g.resolveWorkspacePath(f.Path)
		if err != nil {
			return err
		}
		if f.Action == types.ActionDelete {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete %s: %w", f.Path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	return nil
}
