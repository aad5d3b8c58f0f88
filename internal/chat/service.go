// Package chat implements the conversation service: session lifecycle,
// the retrieval-augmented answer pipeline, and the tool-calling loop.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minhdn/ragserve/internal/errors"
	"github.com/minhdn/ragserve/internal/llm"
	"github.com/minhdn/ragserve/internal/retrieval"
	"github.com/minhdn/ragserve/internal/store"
	"github.com/minhdn/ragserve/internal/tools"
)

const (
	// DefaultHistoryLimit bounds how many stored messages are replayed
	// into the prompt on each turn.
	DefaultHistoryLimit = 20

	// DefaultContextChunks is how many retrieved passages go into the
	// context prompt.
	DefaultContextChunks = 5

	// DefaultMaxToolRounds bounds the tool-calling loop.
	DefaultMaxToolRounds = 5
)

const ragSystemPrompt = `You are a helpful assistant. Answer the user's question using the context passages below. If the context does not contain the answer, say so instead of guessing. Cite passages by their [n] marker when you use them.

Context:
%s`

const toolSystemPrompt = `You are a helpful assistant with access to tools. Use a tool when it would produce a better answer than your own knowledge. After a tool returns, incorporate its result into your reply.`

// Source attributes part of an answer to a retrieved chunk.
type Source struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// ToolTrace records one executed tool call within a turn.
type ToolTrace struct {
	Tool      string        `json:"tool"`
	Arguments string        `json:"arguments"`
	Result    string        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Answer is the outcome of one chat turn.
type Answer struct {
	SessionID      string      `json:"session_id"`
	Content        string      `json:"content"`
	Sources        []Source    `json:"sources,omitempty"`
	ToolTrace      []ToolTrace `json:"tool_trace,omitempty"`
	RerankDegraded bool        `json:"rerank_degraded,omitempty"`
}

// Config tunes the service.
type Config struct {
	HistoryLimit  int
	ContextChunks int
	MaxToolRounds int
}

// Service runs chat turns against the LLM, the retrieval pipeline and the
// tool registry, persisting every turn to the history store.
type Service struct {
	client   llm.Client
	orch     *retrieval.Orchestrator
	history  store.HistoryStore
	registry *tools.Registry
	cfg      Config
	logger   *slog.Logger
}

// NewService wires the service. orch and registry may be nil when the
// corresponding mode is unused.
func NewService(client llm.Client, orch *retrieval.Orchestrator, history store.HistoryStore, registry *tools.Registry, cfg Config, logger *slog.Logger) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.ContextChunks <= 0 {
		cfg.ContextChunks = DefaultContextChunks
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:   client,
		orch:     orch,
		history:  history,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// ResolveSession returns the given session ID, or a fresh uuid when empty.
func (s *Service) ResolveSession(sessionID string) string {
	if strings.TrimSpace(sessionID) == "" {
		return uuid.NewString()
	}
	return sessionID
}

// Ask runs one retrieval-augmented turn: retrieve passages for the query,
// build a context prompt, call the model, and persist both sides of the
// exchange.
func (s *Service) Ask(ctx context.Context, sessionID, query string) (*Answer, error) {
	sessionID = s.ResolveSession(sessionID)
	if strings.TrimSpace(query) == "" {
		return nil, errors.InvalidArgument("query must not be empty")
	}

	resp, err := s.orch.Search(ctx, query, retrieval.Options{TopK: s.cfg.ContextChunks})
	if err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(resp.Results))
	var contextBlock strings.Builder
	for i, c := range resp.Results {
		fmt.Fprintf(&contextBlock, "[%d] %s\n\n", i+1, strings.TrimSpace(c.Text))
		sources = append(sources, Source{ID: c.ID, Score: c.FinalScore, Text: c.Text})
	}
	if len(resp.Results) == 0 {
		contextBlock.WriteString("(no relevant passages found)")
	}

	messages := []llm.Message{{
		Role:    string(store.RoleSystem),
		Content: fmt.Sprintf(ragSystemPrompt, contextBlock.String()),
	}}
	messages = append(messages, s.replayHistory(ctx, sessionID)...)
	messages = append(messages, llm.Message{Role: string(store.RoleUser), Content: query})

	reply, err := s.client.Chat(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		return nil, err
	}

	s.persistTurn(ctx, sessionID, query, reply.Message.Content)

	s.logger.Debug("chat_turn",
		slog.String("session_id", sessionID),
		slog.Int("sources", len(sources)),
		slog.Bool("rerank_degraded", resp.RerankDegraded))

	return &Answer{
		SessionID:      sessionID,
		Content:        reply.Message.Content,
		Sources:        sources,
		RerankDegraded: resp.RerankDegraded,
	}, nil
}

// AskWithTools runs one turn of the function-calling loop: the model may
// request tool invocations, which are executed against the registry and
// fed back until it produces a final answer or the round limit is hit.
func (s *Service) AskWithTools(ctx context.Context, sessionID, query string) (*Answer, error) {
	sessionID = s.ResolveSession(sessionID)
	if strings.TrimSpace(query) == "" {
		return nil, errors.InvalidArgument("query must not be empty")
	}

	messages := []llm.Message{{Role: string(store.RoleSystem), Content: toolSystemPrompt}}
	messages = append(messages, s.replayHistory(ctx, sessionID)...)
	messages = append(messages, llm.Message{Role: string(store.RoleUser), Content: query})

	defs := s.registry.Definitions()
	var trace []ToolTrace

	for round := 0; round < s.cfg.MaxToolRounds; round++ {
		reply, err := s.client.Chat(ctx, llm.ChatRequest{Messages: messages, Tools: defs})
		if err != nil {
			return nil, err
		}

		if len(reply.Message.ToolCalls) == 0 {
			s.persistTurn(ctx, sessionID, query, reply.Message.Content)
			return &Answer{
				SessionID: sessionID,
				Content:   reply.Message.Content,
				ToolTrace: trace,
			}, nil
		}

		messages = append(messages, reply.Message)
		for _, call := range reply.Message.ToolCalls {
			step := s.executeToolCall(ctx, call)
			trace = append(trace, step)

			content := step.Result
			if step.Error != "" {
				content = "error: " + step.Error
			}
			messages = append(messages, llm.Message{
				Role:       string(store.RoleTool),
				Content:    content,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, errors.New(errors.ErrCodeLLMFailed,
		fmt.Sprintf("no final answer after %d tool rounds", s.cfg.MaxToolRounds), nil)
}

func (s *Service) executeToolCall(ctx context.Context, call llm.ToolCall) ToolTrace {
	start := time.Now()
	result, err := s.registry.Call(ctx, call.Function.Name, []byte(call.Function.Arguments))
	step := ToolTrace{
		Tool:      call.Function.Name,
		Arguments: call.Function.Arguments,
		Elapsed:   time.Since(start),
	}
	if err != nil {
		step.Error = err.Error()
	} else {
		step.Result = result
	}
	return step
}

// replayHistory loads the recent transcript as LLM messages. History
// failures degrade to an empty transcript rather than failing the turn.
func (s *Service) replayHistory(ctx context.Context, sessionID string) []llm.Message {
	stored, err := s.history.History(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warn("history_load_failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return nil
	}
	messages := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		// Tool transcripts are not replayed; the model only needs the
		// user/assistant exchange.
		if m.Role == store.RoleTool || m.Role == store.RoleSystem {
			continue
		}
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return messages
}

func (s *Service) persistTurn(ctx context.Context, sessionID, query, answer string) {
	for _, msg := range []*store.Message{
		{SessionID: sessionID, Role: store.RoleUser, Content: query},
		{SessionID: sessionID, Role: store.RoleAssistant, Content: answer},
	} {
		if err := s.history.Append(ctx, msg); err != nil {
			s.logger.Warn("history_append_failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			return
		}
	}
}
