package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/minhdn/ragserve/internal/agent"
	"github.com/minhdn/ragserve/internal/chat"
	"github.com/minhdn/ragserve/internal/config"
	"github.com/minhdn/ragserve/internal/embed"
	"github.com/minhdn/ragserve/internal/ingest"
	"github.com/minhdn/ragserve/internal/lifecycle"
	"github.com/minhdn/ragserve/internal/llm"
	"github.com/minhdn/ragserve/internal/retrieval"
	"github.com/minhdn/ragserve/internal/store"
	"github.com/minhdn/ragserve/internal/tools"
)

// app holds the wired services for one CLI invocation.
type app struct {
	cfg        *config.Config
	embedder   embed.Embedder
	lexical    store.LexicalIndex
	vector     store.VectorIndex
	docs       store.DocumentStore
	history    store.HistoryStore
	orch       *retrieval.Orchestrator
	llm        llm.Client
	registry   *tools.Registry
	chat       *chat.Service
	supervisor *agent.Supervisor
	pipeline   *ingest.Pipeline

	// hnsw is set for the embedded backend so the index can be saved
	// after ingestion.
	hnsw     *store.HNSWIndex
	hnswPath string

	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// saveVectorIndex persists the embedded dense index after a write. A
// no-op on the postgres backend.
func (a *app) saveVectorIndex() error {
	if a.hnsw == nil {
		return nil
	}
	return a.hnsw.Save(a.hnswPath)
}

// buildApp wires every service from configuration.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	if err := a.buildEmbedder(ctx); err != nil {
		return nil, err
	}
	if err := a.buildStores(ctx); err != nil {
		a.close()
		return nil, err
	}
	a.buildRetrieval(ctx)
	a.buildChat()
	a.buildIngest()

	return a, nil
}

func (a *app) buildEmbedder(ctx context.Context) error {
	cfg := a.cfg.Embeddings

	var inner embed.Embedder
	switch cfg.Provider {
	case "static":
		inner = embed.NewStaticEmbedder(cfg.Dimensions)
	case "ollama", "":
		// Zero-config path: pull the embedding model if the local
		// Ollama is up but does not have it yet.
		manager := lifecycle.NewOllamaManager(cfg.OllamaHost)
		if err := manager.EnsureModel(ctx, cfg.Model, nil); err != nil {
			slog.Warn("ollama_model_not_ensured", slog.String("error", err.Error()))
		}

		ollama, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			slog.Warn("ollama_unavailable_using_static_embeddings",
				slog.String("host", cfg.OllamaHost),
				slog.String("error", err.Error()))
			inner = embed.NewStaticEmbedder(embed.StaticDimensions)
		} else {
			inner = ollama
		}
	default:
		return fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}

	a.embedder = embed.NewCachedEmbedder(inner, cfg.CacheSize)
	a.closers = append(a.closers, a.embedder.Close)
	return nil
}

func (a *app) buildStores(ctx context.Context) error {
	dims := a.embedder.Dimensions()

	switch a.cfg.Store.Backend {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, a.cfg.Store.PostgresDSN, dims)
		if err != nil {
			return err
		}
		a.lexical = pg.Lexical()
		a.vector = pg.Vector()
		a.docs = pg
		a.closers = append(a.closers, pg.Close)

	default: // embedded
		dataDir := a.cfg.Store.DataDir
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("create data dir %s: %w", dataDir, err)
		}

		lexical, err := store.NewBleveIndex(filepath.Join(dataDir, "lexical.bleve"))
		if err != nil {
			return err
		}
		a.lexical = lexical
		a.closers = append(a.closers, lexical.Close)

		hnsw, err := store.NewHNSWIndex(dims)
		if err != nil {
			return err
		}
		a.hnswPath = filepath.Join(dataDir, "vector.hnsw")
		if _, err := os.Stat(a.hnswPath); err == nil {
			if err := hnsw.Load(a.hnswPath); err != nil {
				return err
			}
		}
		a.hnsw = hnsw
		a.vector = hnsw
		a.closers = append(a.closers, hnsw.Close)
	}

	history, err := store.NewSQLiteStore(a.cfg.Store.HistoryPath)
	if err != nil {
		return err
	}
	a.history = history
	a.closers = append(a.closers, history.Close)
	if a.docs == nil {
		a.docs = history
	}
	return nil
}

func (a *app) buildRetrieval(ctx context.Context) {
	opts := []retrieval.OrchestratorOption{
		retrieval.WithDefaults(retrieval.Options{
			TopK:            a.cfg.Retrieval.TopK,
			Alpha:           a.cfg.Retrieval.Alpha,
			AlphaSet:        true,
			KRRF:            a.cfg.Retrieval.KRRF,
			NormalizedBlend: a.cfg.Retrieval.NormalizedBlend,
		}),
	}

	if a.cfg.Reranker.Enabled {
		reranker, err := retrieval.NewHTTPReranker(ctx, retrieval.HTTPRerankerConfig{
			Endpoint: a.cfg.Reranker.Endpoint,
			Model:    a.cfg.Reranker.Model,
			Timeout:  a.cfg.Reranker.Timeout,
		})
		if err != nil {
			slog.Warn("reranker_unavailable_using_rrf_only",
				slog.String("endpoint", a.cfg.Reranker.Endpoint),
				slog.String("error", err.Error()))
		} else {
			opts = append(opts, retrieval.WithReranker(reranker))
			a.closers = append(a.closers, reranker.Close)
		}
	}

	a.orch = retrieval.NewOrchestrator(a.lexical, a.vector, a.embedder, opts...)
}

func (a *app) buildChat() {
	if key := a.cfg.LLMAPIKey(); key != "" {
		a.llm = llm.NewClient(llm.Config{
			BaseURL: a.cfg.LLM.BaseURL,
			APIKey:  key,
			Model:   a.cfg.LLM.Model,
			Timeout: a.cfg.LLM.Timeout,
		})
	} else {
		slog.Warn("llm_api_key_missing_using_demo_mode",
			slog.String("env", a.cfg.LLM.APIKeyEnv))
		a.llm = llm.NewDemoClient()
	}
	a.closers = append(a.closers, a.llm.Close)

	a.registry = tools.NewRegistry(slog.Default())
	a.registry.Register(tools.NewWeatherTool(""))
	a.registry.Register(tools.NewWebSearchTool("", os.Getenv(a.cfg.Tools.TavilyKeyEnv)))
	a.registry.Register(tools.NewTranslateTool(""))
	a.registry.Register(tools.NewCalculatorTool())
	a.registry.Register(tools.NewSearchDBTool(a.orch))
	if smtp := a.cfg.Tools.SMTP; smtp.Host != "" && smtp.Sender != "" {
		a.registry.Register(tools.NewMailTool(tools.MailConfig{
			Host:     smtp.Host,
			Port:     smtp.Port,
			From:     smtp.Sender,
			Username: smtp.Sender,
			Password: os.Getenv(smtp.PasswordEnv),
		}))
	}

	a.chat = chat.NewService(a.llm, a.orch, a.history, a.registry, chat.Config{}, slog.Default())
	a.supervisor = agent.NewSupervisor(a.llm, a.chat, slog.Default())
}

func (a *app) buildIngest() {
	a.pipeline = ingest.NewPipeline(ingest.PipelineConfig{
		Scanner:  ingest.NewScanner(a.cfg.Ingest.Include, a.cfg.Ingest.Exclude),
		Chunker:  ingest.NewChunker(a.cfg.Ingest.ChunkSize, a.cfg.Ingest.ChunkOverlap),
		Embedder: a.embedder,
		Lexical:  a.lexical,
		Vector:   a.vector,
		Docs:     a.docs,
		DataDir:  a.cfg.Store.DataDir,
	})
}
