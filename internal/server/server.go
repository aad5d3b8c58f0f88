// Package server exposes the retrieval and chat services over HTTP.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/minhdn/ragserve/internal/agent"
	"github.com/minhdn/ragserve/internal/chat"
	"github.com/minhdn/ragserve/internal/errors"
	"github.com/minhdn/ragserve/internal/ingest"
	"github.com/minhdn/ragserve/internal/retrieval"
	"github.com/minhdn/ragserve/internal/store"
	"github.com/minhdn/ragserve/internal/telemetry"
	"github.com/minhdn/ragserve/pkg/version"
)

// Server holds the HTTP surface over the wired services. Optional
// collaborators may be nil; their routes then report 503.
type Server struct {
	orch       *retrieval.Orchestrator
	chat       *chat.Service
	supervisor *agent.Supervisor
	pipeline   *ingest.Pipeline
	history    store.HistoryStore
	metrics    *telemetry.QueryMetrics
	logger     *slog.Logger
	engine     *gin.Engine
}

// Config carries the optional collaborators.
type Config struct {
	Orchestrator *retrieval.Orchestrator
	Chat         *chat.Service
	Supervisor   *agent.Supervisor
	Pipeline     *ingest.Pipeline
	History      store.HistoryStore
	Logger       *slog.Logger
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		orch:       cfg.Orchestrator,
		chat:       cfg.Chat,
		supervisor: cfg.Supervisor,
		pipeline:   cfg.Pipeline,
		history:    cfg.History,
		metrics:    telemetry.NewQueryMetrics(0),
		logger:     logger,
		engine:     engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.POST("/ingest-folder", s.handleIngestFolder)
	s.engine.POST("/search", s.handleSearch)
	s.engine.POST("/chat", s.handleChat)
	s.engine.POST("/chat/tools", s.handleChatTools)
	s.engine.POST("/chat/agents", s.handleChatAgents)
	s.engine.GET("/chat/:session_id", s.handleGetHistory)
	s.engine.DELETE("/chat/:session_id", s.handleClearHistory)
	s.engine.GET("/sessions", s.handleListSessions)
	s.engine.GET("/metrics", s.handleMetrics)
}

// Handler returns the http.Handler, for serving and for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("http_server_start", slog.String("addr", addr))
	return s.engine.Run(addr)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}

// writeError maps structured error codes onto HTTP statuses: validation
// failures are the caller's fault (400), collaborator failures are
// upstream faults (502), a held ingest lock is a conflict (409).
func (s *Server) writeError(c *gin.Context, err error) {
	code := errors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeQueryEmpty,
		errors.ErrCodeInvalidTopK,
		errors.ErrCodeInvalidAlpha,
		errors.ErrCodeInvalidInput,
		errors.ErrCodeFileNotFound,
		errors.ErrCodeFileUnsupported:
		status = http.StatusBadRequest
	case errors.ErrCodeSessionNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeAdapterUnavailable,
		errors.ErrCodeEmbeddingFailed,
		errors.ErrCodeLLMFailed,
		errors.ErrCodeNetworkTimeout:
		status = http.StatusBadGateway
	case errors.ErrCodeIndexLocked:
		status = http.StatusConflict
	}

	s.logger.Warn("request_failed",
		slog.String("path", c.FullPath()),
		slog.String("code", code),
		slog.String("error", err.Error()))

	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  code,
	})
}
