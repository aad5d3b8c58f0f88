package llm

import (
	"context"
	"fmt"
	"strings"
)

// DemoClient answers without a provider. It extracts the retrieved
// context from the conversation and replies with a canned summary, so the
// whole service can be exercised end to end without an API key.
type DemoClient struct{}

var _ Client = (*DemoClient)(nil)

// NewDemoClient creates the offline client.
func NewDemoClient() *DemoClient { return &DemoClient{} }

// Chat fabricates an assistant reply from the last user message and any
// system context. Tool definitions are ignored: the demo model never
// calls tools.
func (d *DemoClient) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastUser string
	var contextSeen bool
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			lastUser = m.Content
		case "system":
			if strings.Contains(strings.ToLower(m.Content), "context") {
				contextSeen = true
			}
		}
	}

	var reply string
	switch {
	case lastUser == "":
		reply = "I did not receive a question."
	case contextSeen:
		reply = fmt.Sprintf(
			"[demo mode] Based on the retrieved context, here is what I found about %q. "+
				"Set GROQ_API_KEY to get real answers.", truncateQuery(lastUser))
	default:
		reply = fmt.Sprintf(
			"[demo mode] You asked: %q. Set GROQ_API_KEY to get real answers.",
			truncateQuery(lastUser))
	}

	return &ChatResponse{
		Message:      Message{Role: "assistant", Content: reply},
		FinishReason: "stop",
	}, nil
}

func truncateQuery(q string) string {
	const max = 120
	q = strings.TrimSpace(q)
	if len(q) > max {
		return q[:max] + "..."
	}
	return q
}

func (d *DemoClient) Model() string { return "demo" }

func (d *DemoClient) Close() error { return nil }
