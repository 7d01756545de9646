// Package chat defines the narrow vendor-agnostic chat contract used by
// the generation and review collaborators. One vendor implementation is
// chosen at construction; the scheduler and convergence loop never see
// or branch on vendor identity.
package chat

import (
	"context"
	"fmt"

	"kiln/internal/config"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single chat call.
type Options struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Usage reports token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the result of a chat call.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// ToolDefinition describes a callable tool for ChatWithTools.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON schema
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse is the result of a tool-enabled chat call.
type ToolResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Client is the narrow chat capability the engine's collaborators need.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*ToolResponse, error)
}

// NewClient constructs the configured vendor's client. This is the only
// place vendor identity is examined.
func NewClient(cfg config.ChatConfig) (Client, error) {
	switch cfg.Vendor {
	case "gemini", "":
		return NewGeminiClient(cfg)
	case "stub":
		return NewStubClient(), nil
	default:
		return nil, fmt.Errorf("unknown chat vendor %q", cfg.Vendor)
	}
}
