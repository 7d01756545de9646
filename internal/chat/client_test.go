package chat

import (
	"context"
	"testing"

	"kiln/internal/config"
)

func TestStubClient_Playback(t *testing.T) {
	s := NewStubClient().Queue("one", "two")

	for i, want := range []string{"one", "two", "two", "two"} {
		resp, err := s.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if resp.Content != want {
			t.Errorf("call %d = %q, want %q", i+1, resp.Content, want)
		}
	}
	if s.Calls != 4 {
		t.Errorf("Calls = %d, want 4", s.Calls)
	}
}

func TestStubClient_EmptyScript(t *testing.T) {
	s := NewStubClient()
	resp, err := s.Chat(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "" {
		t.Errorf("Content = %q, want empty", resp.Content)
	}
}

func TestStubClient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStubClient().Chat(ctx, nil, Options{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestNewClient_VendorSelection(t *testing.T) {
	c, err := NewClient(config.ChatConfig{Vendor: "stub"})
	if err != nil {
		t.Fatalf("NewClient(stub) error = %v", err)
	}
	if _, ok := c.(*StubClient); !ok {
		t.Errorf("got %T, want *StubClient", c)
	}

	if _, err := NewClient(config.ChatConfig{Vendor: "clippy"}); err == nil {
		t.Fatalf("unknown vendor must error")
	}
}
