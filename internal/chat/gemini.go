package chat

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"kiln/internal/config"
	"kiln/internal/logging"
)

// GeminiClient implements Client on Google's GenAI API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed chat client.
func NewGeminiClient(cfg config.ChatConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (config chat.api_key or GEMINI_API_KEY)")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{client: client, model: model}, nil
}

// toContents converts messages, splitting out the system instruction.
func toContents(messages []Message) (system *genai.Content, contents []*genai.Content) {
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = genai.NewContentFromText(m.Content, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return system, contents
}

func usageOf(resp *genai.GenerateContentResponse) Usage {
	var u Usage
	if resp != nil && resp.UsageMetadata != nil {
		u.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return u
}

// Chat sends a conversation and returns the model's reply.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	system, contents := toContents(messages)

	genCfg := &genai.GenerateContentConfig{}
	if system != nil {
		genCfg.SystemInstruction = system
	}
	if opts.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		t := float32(opts.Temperature)
		genCfg.Temperature = &t
	}

	logging.ChatDebug("gemini chat: %d messages, model %s", len(messages), c.model)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini chat failed: %w", err)
	}

	return &Response{Content: resp.Text(), Usage: usageOf(resp)}, nil
}

// ChatWithTools sends a conversation with tool declarations and returns
// the reply plus any requested tool calls.
func (c *GeminiClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*ToolResponse, error) {
	system, contents := toContents(messages)

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if len(t.Parameters) > 0 {
			decl.ParametersJsonSchema = t.Parameters
		}
		decls = append(decls, decl)
	}

	genCfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{FunctionDeclarations: decls}},
	}
	if system != nil {
		genCfg.SystemInstruction = system
	}
	if opts.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	logging.ChatDebug("gemini chat with %d tools", len(tools))
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini tool chat failed: %w", err)
	}

	out := &ToolResponse{Content: resp.Text(), Usage: usageOf(resp)}
	for _, fc := range resp.FunctionCalls() {
		out.ToolCalls = append(out.ToolCalls, ToolCall{Name: fc.Name, Args: fc.Args})
	}
	return out, nil
}
