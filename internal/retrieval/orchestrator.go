package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minhdn/ragserve/internal/embed"
	"github.com/minhdn/ragserve/internal/errors"
	"github.com/minhdn/ragserve/internal/store"
)

// Orchestrator runs the full hybrid pipeline for one query: embed once,
// fan out to both channels, fuse, rerank, blend.
type Orchestrator struct {
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	reranker Reranker
	defaults Options
	logger   *slog.Logger
}

// OrchestratorOption customizes orchestrator construction.
type OrchestratorOption func(*Orchestrator)

// WithReranker installs the cross-encoder stage. Without one the pipeline
// runs RRF-only.
func WithReranker(r Reranker) OrchestratorOption {
	return func(o *Orchestrator) { o.reranker = r }
}

// WithDefaults overrides the built-in per-call defaults.
func WithDefaults(opts Options) OrchestratorOption {
	return func(o *Orchestrator) { o.defaults = opts }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(
	lexical store.LexicalIndex,
	vector store.VectorIndex,
	embedder embed.Embedder,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		defaults: Options{TopK: DefaultTopK, Alpha: DefaultAlpha, KRRF: DefaultKRRF},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// applyDefaults fills unset fields from the orchestrator defaults. An
// explicit zero is kept when the matching Set flag is true, so it still
// reaches validation.
func (o *Orchestrator) applyDefaults(opts Options) Options {
	if opts.TopK == 0 && !opts.TopKSet {
		opts.TopK = o.defaults.TopK
	}
	if !opts.AlphaSet {
		opts.Alpha = o.defaults.Alpha
	}
	if opts.KRRF == 0 {
		opts.KRRF = o.defaults.KRRF
	}
	return opts
}

func validate(query string, opts Options) error {
	if query == "" {
		return errors.New(errors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if opts.TopK <= 0 {
		return errors.New(errors.ErrCodeInvalidTopK, "top_k must be positive", nil)
	}
	if opts.Alpha < 0 || opts.Alpha > 1 {
		return errors.New(errors.ErrCodeInvalidAlpha, "alpha must be in [0, 1]", nil)
	}
	return nil
}

// Search runs the pipeline and returns at most opts.TopK candidates.
//
// Hard failures (bad arguments, embedding failure, a channel being down)
// return an error. A reranker failure is soft: the response comes back
// RRF-ordered with RerankDegraded set.
func (o *Orchestrator) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	start := time.Now()
	opts = o.applyDefaults(opts)
	if err := validate(query, opts); err != nil {
		return nil, err
	}

	embedding, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.EmbeddingFailure(err)
	}

	// Each channel fetches 2*topK so fusion has enough overlap to work
	// with before the pool is cut down again.
	fetchLimit := opts.TopK * 2
	sparse, dense, err := o.fanOut(ctx, query, embedding, fetchLimit)
	if err != nil {
		return nil, err
	}

	fused := NewFuser(opts.KRRF).Fuse(sparse, dense)
	if len(fused) > fetchLimit {
		fused = fused[:fetchLimit]
	}
	if len(fused) == 0 {
		return &Response{Results: []*Candidate{}, Elapsed: time.Since(start)}, nil
	}

	resp := &Response{}
	o.rerankAndBlend(ctx, query, fused, opts, resp)

	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	resp.Results = fused
	resp.Elapsed = time.Since(start)

	o.logger.Debug("retrieval_complete",
		slog.Int("sparse_hits", len(sparse)),
		slog.Int("dense_hits", len(dense)),
		slog.Int("results", len(resp.Results)),
		slog.Bool("rerank_degraded", resp.RerankDegraded),
		slog.Duration("elapsed", resp.Elapsed))

	return resp, nil
}

// fanOut runs both channel searches in parallel. Either channel failing
// fails the whole call.
func (o *Orchestrator) fanOut(ctx context.Context, query string, embedding []float32, limit int) ([]*store.LexicalResult, []*store.VectorResult, error) {
	var (
		sparse []*store.LexicalResult
		dense  []*store.VectorResult
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		results, err := o.lexical.Search(gctx, query, limit)
		if err != nil {
			if errors.GetCode(err) != "" {
				return err
			}
			return errors.AdapterUnavailable("sparse", err)
		}
		sparse = results
		return nil
	})

	g.Go(func() error {
		results, err := o.vector.Search(gctx, embedding, limit)
		if err != nil {
			if errors.GetCode(err) != "" {
				return err
			}
			return errors.AdapterUnavailable("dense", err)
		}
		dense = results
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sparse, dense, nil
}

// rerankAndBlend scores the fused pool with the cross-encoder and blends
// the result into FinalScore. Without a reranker (or on failure) the final
// score is the RRF score.
func (o *Orchestrator) rerankAndBlend(ctx context.Context, query string, fused []*Candidate, opts Options, resp *Response) {
	useReranker := o.reranker != nil && !opts.SkipRerank

	if useReranker {
		texts := make([]string, len(fused))
		for i, c := range fused {
			texts[i] = c.Text
		}

		scores, err := o.reranker.ScorePairs(ctx, query, texts)
		if err != nil || len(scores) != len(fused) {
			if err != nil {
				o.logger.Warn("rerank_degraded",
					slog.String("error", err.Error()),
					slog.Int("candidates", len(fused)))
			} else {
				o.logger.Warn("rerank_degraded",
					slog.String("error", "score count mismatch"),
					slog.Int("candidates", len(fused)))
			}
			resp.RerankDegraded = true
			useReranker = false
		} else {
			for i, c := range fused {
				c.RerankScore = scores[i]
			}
		}
	}

	if !useReranker {
		for _, c := range fused {
			c.FinalScore = c.RRFScore
		}
		return
	}

	if opts.NormalizedBlend {
		normalizeScores(fused)
	}
	for _, c := range fused {
		rerank, rrf := c.RerankScore, c.RRFScore
		if opts.NormalizedBlend {
			rerank, rrf = c.normRerank, c.normRRF
		}
		c.FinalScore = opts.Alpha*rerank + (1-opts.Alpha)*rrf
	}

	sort.SliceStable(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		return a.ID < b.ID
	})
}

// normalizeScores min-max normalizes rerank and RRF scores across the
// pool. Equal scores all map to 1.0 so a uniform pool keeps its order.
func normalizeScores(fused []*Candidate) {
	minR, maxR := fused[0].RerankScore, fused[0].RerankScore
	minF, maxF := fused[0].RRFScore, fused[0].RRFScore
	for _, c := range fused[1:] {
		if c.RerankScore < minR {
			minR = c.RerankScore
		}
		if c.RerankScore > maxR {
			maxR = c.RerankScore
		}
		if c.RRFScore < minF {
			minF = c.RRFScore
		}
		if c.RRFScore > maxF {
			maxF = c.RRFScore
		}
	}
	for _, c := range fused {
		c.normRerank = normalize(c.RerankScore, minR, maxR)
		c.normRRF = normalize(c.RRFScore, minF, maxF)
	}
}

func normalize(v, min, max float64) float64 {
	if max == min {
		return 1.0
	}
	return (v - min) / (max - min)
}
