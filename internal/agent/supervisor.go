package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minhdn/ragserve/internal/chat"
	"github.com/minhdn/ragserve/internal/llm"
)

// Route names which agent handled a turn.
type Route string

const (
	// RoutePrivate answers from the indexed documents.
	RoutePrivate Route = "private"

	// RoutePublic answers with external tools (weather, web search, ...).
	RoutePublic Route = "public"
)

const routingPrompt = `You are a router. Decide which agent should handle the user's message.

Reply with exactly one word:
- "private" if the message asks about the user's own documents, notes, files, or previously ingested content
- "public" if the message needs external information or actions: weather, web search, translation, calculations, sending mail, current events

User message: %s`

// SupervisorAnswer is a routed turn's result.
type SupervisorAnswer struct {
	Route Route `json:"route"`
	*chat.Answer
}

// Supervisor routes each user turn to the private (document RAG) or
// public (tool-using) agent.
type Supervisor struct {
	client llm.Client
	chat   *chat.Service
	logger *slog.Logger
}

func NewSupervisor(client llm.Client, chatSvc *chat.Service, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{client: client, chat: chatSvc, logger: logger}
}

// Handle classifies the query and dispatches it to the chosen agent.
func (s *Supervisor) Handle(ctx context.Context, sessionID, query string) (*SupervisorAnswer, error) {
	route := s.classify(ctx, query)
	s.logger.Debug("supervisor_route",
		slog.String("route", string(route)),
		slog.String("session_id", sessionID))

	var (
		answer *chat.Answer
		err    error
	)
	switch route {
	case RoutePublic:
		answer, err = s.chat.AskWithTools(ctx, sessionID, query)
	default:
		answer, err = s.chat.Ask(ctx, sessionID, query)
	}
	if err != nil {
		return nil, err
	}
	return &SupervisorAnswer{Route: route, Answer: answer}, nil
}

// classify asks the model which agent fits. Classification failures fall
// back to the private agent, which can always say it found nothing.
func (s *Supervisor) classify(ctx context.Context, query string) Route {
	resp, err := s.client.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You route messages. Answer with a single word."},
			{Role: "user", Content: fmt.Sprintf(routingPrompt, query)},
		},
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		s.logger.Warn("supervisor_classify_failed", slog.String("error", err.Error()))
		return RoutePrivate
	}

	verdict := strings.ToLower(strings.TrimSpace(resp.Message.Content))
	if strings.Contains(verdict, "public") {
		return RoutePublic
	}
	return RoutePrivate
}
