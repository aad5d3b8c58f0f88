package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/minhdn/ragserve/internal/llm"
)

// DefaultTavilyBaseURL is the Tavily search API endpoint.
const DefaultTavilyBaseURL = "https://api.tavily.com"

// WebSearchTool searches the web through the Tavily API.
type WebSearchTool struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewWebSearchTool creates the tool. The API key comes from configuration
// (TAVILY_API_KEY); an empty key makes every call fail with a clear
// message rather than failing at startup.
func NewWebSearchTool(baseURL, apiKey string) *WebSearchTool {
	if baseURL == "" {
		baseURL = DefaultTavilyBaseURL
	}
	return &WebSearchTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Definition() llm.ToolDef {
	return schema(t.Name(),
		"Search the web for up-to-date information.",
		`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"},
				"max_results": {"type": "integer", "description": "Number of results, default 3"}
			},
			"required": ["query"]
		}`)
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

func (t *WebSearchTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if t.apiKey == "" {
		return "", fmt.Errorf("web search is not configured (set TAVILY_API_KEY)")
	}

	var a webSearchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid web search arguments: %w", err)
	}
	if strings.TrimSpace(a.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	if a.MaxResults <= 0 || a.MaxResults > 10 {
		a.MaxResults = 3
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:     t.apiKey,
		Query:      a.Query,
		MaxResults: a.MaxResults,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search service returned status %d", resp.StatusCode)
	}

	var result tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}
	if len(result.Results) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for i, r := range result.Results {
		fmt.Fprintf(&sb, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Content)
	}
	return strings.TrimSpace(sb.String()), nil
}
