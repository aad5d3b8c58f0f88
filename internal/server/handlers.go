package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/minhdn/ragserve/internal/errors"
	"github.com/minhdn/ragserve/internal/retrieval"
	"github.com/minhdn/ragserve/internal/telemetry"
)

type ingestRequest struct {
	Folder string `json:"folder"`
}

func (s *Server) handleIngestFolder(c *gin.Context) {
	if s.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion is not configured"})
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.InvalidArgument("invalid request body: "+err.Error()))
		return
	}
	if req.Folder == "" {
		s.writeError(c, errors.InvalidArgument("folder is required"))
		return
	}

	report, err := s.pipeline.Run(c.Request.Context(), req.Folder)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type searchRequest struct {
	Query           string   `json:"query"`
	TopK            *int     `json:"top_k"`
	Alpha           *float64 `json:"alpha"`
	KRRF            int      `json:"k_rrf"`
	NormalizedBlend bool     `json:"normalized_blend"`
	SkipRerank      bool     `json:"skip_rerank"`
}

type searchResult struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	Score          float64 `json:"score"`
	RRFScore       float64 `json:"rrf_score"`
	RerankScore    float64 `json:"rerank_score"`
	InBothChannels bool    `json:"in_both_channels"`
}

type searchResponse struct {
	Results        []searchResult `json:"results"`
	RerankDegraded bool           `json:"rerank_degraded"`
	ElapsedMs      int64          `json:"elapsed_ms"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.InvalidArgument("invalid request body: "+err.Error()))
		return
	}

	opts := retrieval.Options{
		KRRF:            req.KRRF,
		NormalizedBlend: req.NormalizedBlend,
		SkipRerank:      req.SkipRerank,
	}
	if req.TopK != nil {
		opts.TopK = *req.TopK
		opts.TopKSet = true
	}
	if req.Alpha != nil {
		opts.Alpha = *req.Alpha
		opts.AlphaSet = true
	}

	resp, err := s.orch.Search(c.Request.Context(), req.Query, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.metrics.Record(telemetry.QueryEvent{
		Query:          req.Query,
		ResultCount:    len(resp.Results),
		Latency:        resp.Elapsed,
		RerankDegraded: resp.RerankDegraded,
	})

	// An empty corpus is a valid answer, not a failure.
	out := searchResponse{
		Results:        make([]searchResult, 0, len(resp.Results)),
		RerankDegraded: resp.RerankDegraded,
		ElapsedMs:      resp.Elapsed.Milliseconds(),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, searchResult{
			ID:             r.ID,
			Text:           r.Text,
			Score:          r.FinalScore,
			RRFScore:       r.RRFScore,
			RerankScore:    r.RerankScore,
			InBothChannels: r.InBothChannels,
		})
	}
	c.JSON(http.StatusOK, out)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

func (s *Server) handleChat(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not configured"})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.InvalidArgument("invalid request body: "+err.Error()))
		return
	}

	answer, err := s.chat.Ask(c.Request.Context(), req.SessionID, req.Query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (s *Server) handleChatTools(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not configured"})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.InvalidArgument("invalid request body: "+err.Error()))
		return
	}

	answer, err := s.chat.AskWithTools(c.Request.Context(), req.SessionID, req.Query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (s *Server) handleChatAgents(c *gin.Context) {
	if s.supervisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agents are not configured"})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.InvalidArgument("invalid request body: "+err.Error()))
		return
	}

	answer, err := s.supervisor.Handle(c.Request.Context(), req.SessionID, req.Query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (s *Server) handleGetHistory(c *gin.Context) {
	sessionID := c.Param("session_id")

	messages, err := s.history.History(c.Request.Context(), sessionID, 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(messages) == 0 {
		s.writeError(c, errors.New(errors.ErrCodeSessionNotFound,
			"session "+sessionID+" not found", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	sessionID := c.Param("session_id")

	removed, err := s.history.Clear(c.Request.Context(), sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if removed == 0 {
		s.writeError(c, errors.New(errors.ErrCodeSessionNotFound,
			"session "+sessionID+" not found", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"removed":    removed,
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.history.Sessions(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
