package chat

import (
	"context"
	"sync"
)

// StubClient is an offline Client for tests and dry runs. Responses are
// played back in order; when the script runs out it repeats the last
// entry, or returns an empty reply if none were queued.
type StubClient struct {
	mu      sync.Mutex
	replies []string
	idx     int
	Calls   int
}

// NewStubClient creates an empty stub.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// Queue appends scripted replies.
func (s *StubClient) Queue(replies ...string) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
	return s
}

func (s *StubClient) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if len(s.replies) == 0 {
		return ""
	}
	if s.idx >= len(s.replies) {
		return s.replies[len(s.replies)-1]
	}
	r := s.replies[s.idx]
	s.idx++
	return r
}

// Chat returns the next scripted reply.
func (s *StubClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{Content: s.next()}, nil
}

// ChatWithTools returns the next scripted reply with no tool calls.
func (s *StubClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*ToolResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ToolResponse{Content: s.next()}, nil
}
