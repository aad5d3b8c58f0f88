// Package llm is the chat-completions client. It speaks the
// OpenAI-compatible wire format, which Groq (the default provider) and
// most self-hosted gateways accept, including function/tool calling.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minhdn/ragserve/internal/errors"
)

// Defaults for the Groq provider.
const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
	DefaultTimeout = 120 * time.Second
)

// Message is one chat turn on the wire.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is the model asking for a tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef describes a callable tool to the model.
type ToolDef struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef is the JSON-schema description of one tool.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest are the per-call knobs.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDef
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client generates chat completions.
type Client interface {
	// Chat sends the conversation and returns the assistant's next
	// message, which may be a tool call instead of content.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Model returns the model identifier in use.
	Model() string

	Close() error
}

// Config configures the HTTP client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient is the wire implementation of Client.
type HTTPClient struct {
	config Config
	client *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewClient creates a chat-completions client. An empty API key is
// allowed; the provider will reject requests, and callers that want an
// offline mode should use NewDemoClient instead.
func NewClient(cfg Config) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPClient{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}

type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []ToolDef `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type wireChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

type wireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat sends the conversation to /chat/completions with retry on
// transient failures.
func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	cfg := errors.DefaultRetryConfig()
	return errors.RetryWithResult(ctx, cfg, func() (*ChatResponse, error) {
		return c.doChat(ctx, req)
	})
}

func (c *HTTPClient) doChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(wireRequest{
		Model:       c.config.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeLLMFailed, "failed to marshal chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.ErrCodeLLMFailed, "failed to create chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.ErrCodeNetworkTimeout, "chat request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		var apiErr wireError
		detail := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		statusErr := fmt.Errorf("provider returned status %d: %s", resp.StatusCode, detail)
		// 429 and 5xx are transient; auth and validation errors are not.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, errors.New(errors.ErrCodeLLMFailed, "chat completion failed", statusErr)
		}
		ragErr := errors.New(errors.ErrCodeLLMFailed, "chat completion rejected", statusErr)
		ragErr.Retryable = false
		return nil, ragErr
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, errors.New(errors.ErrCodeLLMFailed, "failed to decode chat response", err)
	}
	if len(wire.Choices) == 0 {
		return nil, errors.New(errors.ErrCodeLLMFailed, "provider returned no choices", nil)
	}

	choice := wire.Choices[0]
	return &ChatResponse{
		Message:      choice.Message,
		FinishReason: choice.FinishReason,
		Usage:        wire.Usage,
	}, nil
}

// Model returns the configured model identifier.
func (c *HTTPClient) Model() string { return c.config.Model }

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
