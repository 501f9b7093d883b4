package llm

import "context"

// Message is a single role/content pair bound for a model call.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model      string
	ForceJSON  bool
	Messages   []Message
	Parameters map[string]any
}

type Response struct {
	Text string
}

// Client is the minimal chat surface the memory pipeline needs. Production
// code wraps a provider SDK; tests supply a canned implementation.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}
