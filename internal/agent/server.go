// Package agent exposes retrieval and answering over MCP and routes chat
// turns between a document-grounded agent and a tool-using agent.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/minhdn/ragserve/internal/chat"
	"github.com/minhdn/ragserve/internal/retrieval"
	"github.com/minhdn/ragserve/pkg/version"
)

// RetrieveInput is the input schema for the retrieve tool.
type RetrieveInput struct {
	Query string `json:"query" jsonschema:"the search query to run against the indexed documents"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of passages, default 5"`
}

// RetrievedPassage is one result of the retrieve tool.
type RetrievedPassage struct {
	ID    string  `json:"id" jsonschema:"chunk identifier"`
	Text  string  `json:"text" jsonschema:"passage text"`
	Score float64 `json:"score" jsonschema:"relevance score"`
}

// RetrieveOutput is the output schema for the retrieve tool.
type RetrieveOutput struct {
	Passages []RetrievedPassage `json:"passages" jsonschema:"ranked passages"`
	Degraded bool               `json:"degraded,omitempty" jsonschema:"true when reranking was skipped due to a reranker failure"`
}

// AnswerInput is the input schema for the answer tool.
type AnswerInput struct {
	Question  string `json:"question" jsonschema:"the question to answer from the indexed documents"`
	SessionID string `json:"session_id,omitempty" jsonschema:"chat session to continue, omit for a fresh one"`
}

// AnswerOutput is the output schema for the answer tool.
type AnswerOutput struct {
	SessionID string             `json:"session_id" jsonschema:"session the turn was recorded under"`
	Answer    string             `json:"answer" jsonschema:"the generated answer"`
	Sources   []RetrievedPassage `json:"sources,omitempty" jsonschema:"passages the answer was grounded on"`
}

// Server is the MCP server exposing the retrieval pipeline and the RAG
// answer pipeline as tools over stdio.
type Server struct {
	mcp    *mcp.Server
	orch   *retrieval.Orchestrator
	chat   *chat.Service
	logger *slog.Logger
}

// NewServer wires the MCP server. chat may be nil, in which case only the
// retrieve tool is registered.
func NewServer(orch *retrieval.Orchestrator, chatSvc *chat.Service, logger *slog.Logger) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("retrieval orchestrator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		orch:   orch,
		chat:   chatSvc,
		logger: logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "ragserve",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve",
		Description: "Search the indexed document collection. Runs hybrid sparse+dense retrieval with reranking and returns the most relevant passages.",
	}, s.mcpRetrieveHandler)

	if s.chat != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "answer",
			Description: "Answer a question from the indexed documents. Retrieves relevant passages and generates a grounded answer with source attribution.",
		}, s.mcpAnswerHandler)
	}

	s.logger.Debug("mcp_tools_registered")
}

func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	out, err := s.Retrieve(ctx, input)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpAnswerHandler(ctx context.Context, _ *mcp.CallToolRequest, input AnswerInput) (
	*mcp.CallToolResult,
	AnswerOutput,
	error,
) {
	out, err := s.Answer(ctx, input)
	if err != nil {
		return nil, AnswerOutput{}, err
	}
	return nil, out, nil
}

// Retrieve runs the retrieve tool directly, for in-process callers and
// tests.
func (s *Server) Retrieve(ctx context.Context, input RetrieveInput) (RetrieveOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return RetrieveOutput{}, fmt.Errorf("query parameter is required")
	}

	resp, err := s.orch.Search(ctx, input.Query, retrieval.Options{TopK: input.TopK})
	if err != nil {
		return RetrieveOutput{}, err
	}

	out := RetrieveOutput{
		Passages: make([]RetrievedPassage, 0, len(resp.Results)),
		Degraded: resp.RerankDegraded,
	}
	for _, c := range resp.Results {
		out.Passages = append(out.Passages, RetrievedPassage{
			ID:    c.ID,
			Text:  c.Text,
			Score: c.FinalScore,
		})
	}
	return out, nil
}

// Answer runs the answer tool directly.
func (s *Server) Answer(ctx context.Context, input AnswerInput) (AnswerOutput, error) {
	if s.chat == nil {
		return AnswerOutput{}, fmt.Errorf("answer tool is not available without an LLM")
	}
	if strings.TrimSpace(input.Question) == "" {
		return AnswerOutput{}, fmt.Errorf("question parameter is required")
	}

	answer, err := s.chat.Ask(ctx, input.SessionID, input.Question)
	if err != nil {
		return AnswerOutput{}, err
	}

	out := AnswerOutput{
		SessionID: answer.SessionID,
		Answer:    answer.Content,
		Sources:   make([]RetrievedPassage, 0, len(answer.Sources)),
	}
	for _, src := range answer.Sources {
		out.Sources = append(out.Sources, RetrievedPassage{
			ID:    src.ID,
			Text:  src.Text,
			Score: src.Score,
		})
	}
	return out, nil
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_start", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}
