package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minhdn/ragserve/internal/llm"
	"github.com/minhdn/ragserve/internal/retrieval"
)

// SearchDBTool lets the model search the indexed document corpus. It runs
// the same hybrid retrieval pipeline the /search endpoint uses and formats
// the top chunks as numbered snippets.
type SearchDBTool struct {
	orch *retrieval.Orchestrator
}

func NewSearchDBTool(orch *retrieval.Orchestrator) *SearchDBTool {
	return &SearchDBTool{orch: orch}
}

func (t *SearchDBTool) Name() string { return "search_documents" }

func (t *SearchDBTool) Definition() llm.ToolDef {
	return schema(t.Name(),
		"Search the indexed document collection for passages relevant to a query. Use this to answer questions about the user's documents.",
		`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"},
				"top_k": {"type": "integer", "description": "Number of passages to return, default 5"}
			},
			"required": ["query"]
		}`)
}

type searchDBArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (t *SearchDBTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var a searchDBArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid search arguments: %w", err)
	}

	resp, err := t.orch.Search(ctx, a.Query, retrieval.Options{TopK: a.TopK})
	if err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "No relevant passages found.", nil
	}

	var b strings.Builder
	for i, c := range resp.Results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (score %.4f) %s", i+1, c.FinalScore, strings.TrimSpace(c.Text))
	}
	return b.String(), nil
}
