package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhdn/ragserve/internal/embed"
	"github.com/minhdn/ragserve/internal/errors"
	"github.com/minhdn/ragserve/internal/store"
)

type fakeLexical struct {
	results  []*store.LexicalResult
	err      error
	gotLimit int
}

func (f *fakeLexical) Index(ctx context.Context, chunks []*store.Chunk) error { return nil }

func (f *fakeLexical) Search(ctx context.Context, query string, limit int) ([]*store.LexicalResult, error) {
	f.gotLimit = limit
	return f.results, f.err
}

func (f *fakeLexical) Delete(ctx context.Context, ids []string) error { return nil }

func (f *fakeLexical) Count() (int, error) { return len(f.results), nil }

func (f *fakeLexical) Close() error { return nil }

type fakeVector struct {
	results []*store.VectorResult
	err     error
}

func (f *fakeVector) Index(ctx context.Context, chunks []*store.Chunk) error { return nil }

func (f *fakeVector) Search(ctx context.Context, embedding []float32, limit int) ([]*store.VectorResult, error) {
	return f.results, f.err
}

func (f *fakeVector) Delete(ctx context.Context, ids []string) error { return nil }

func (f *fakeVector) Count() (int, error) { return len(f.results), nil }

func (f *fakeVector) Close() error { return nil }

type fakeReranker struct {
	scores []float64
	err    error
	calls  int
}

func (f *fakeReranker) ScorePairs(ctx context.Context, query string, candidates []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.scores != nil {
		return f.scores, nil
	}
	scores := make([]float64, len(candidates))
	for i := range scores {
		scores[i] = 0.5
	}
	return scores, nil
}

func (f *fakeReranker) Available(ctx context.Context) bool { return f.err == nil }

func (f *fakeReranker) Close() error { return nil }

type failingEmbedder struct{ embed.Embedder }

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("model missing")
}

func newTestOrchestrator(lex *fakeLexical, vec *fakeVector, opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(lex, vec, embed.NewStaticEmbedder(8), opts...)
}

func TestOrchestrator_ValidatesArguments(t *testing.T) {
	o := newTestOrchestrator(&fakeLexical{}, &fakeVector{})

	tests := []struct {
		name     string
		query    string
		opts     Options
		wantCode string
	}{
		{"empty query", "", Options{TopK: 5}, errors.ErrCodeQueryEmpty},
		{"negative top_k", "q", Options{TopK: -1}, errors.ErrCodeInvalidTopK},
		{"explicit zero top_k", "q", Options{TopK: 0, TopKSet: true}, errors.ErrCodeInvalidTopK},
		{"alpha above one", "q", Options{TopK: 5, Alpha: 1.5, AlphaSet: true}, errors.ErrCodeInvalidAlpha},
		{"alpha below zero", "q", Options{TopK: 5, Alpha: -0.1, AlphaSet: true}, errors.ErrCodeInvalidAlpha},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Search(context.Background(), tt.query, tt.opts)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
		})
	}
}

func TestOrchestrator_EmbeddingFailureIsHard(t *testing.T) {
	o := NewOrchestrator(&fakeLexical{}, &fakeVector{}, &failingEmbedder{})

	_, err := o.Search(context.Background(), "query", Options{TopK: 5})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmbeddingFailed, errors.GetCode(err))
}

func TestOrchestrator_ChannelFailureIsHard(t *testing.T) {
	lex := &fakeLexical{err: fmt.Errorf("connection refused")}
	vec := &fakeVector{results: vecHits("A")}
	o := newTestOrchestrator(lex, vec)

	_, err := o.Search(context.Background(), "query", Options{TopK: 5})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAdapterUnavailable, errors.GetCode(err))
}

func TestOrchestrator_FetchesDoubleTopKPerChannel(t *testing.T) {
	lex := &fakeLexical{results: lexHits("A")}
	vec := &fakeVector{}
	o := newTestOrchestrator(lex, vec)

	_, err := o.Search(context.Background(), "query", Options{TopK: 7})
	require.NoError(t, err)
	assert.Equal(t, 14, lex.gotLimit)
}

func TestOrchestrator_EmptyCorpus(t *testing.T) {
	rr := &fakeReranker{}
	o := newTestOrchestrator(&fakeLexical{}, &fakeVector{}, WithReranker(rr))

	resp, err := o.Search(context.Background(), "query", Options{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.RerankDegraded)

	// The reranker is never called on an empty pool.
	assert.Zero(t, rr.calls)
}

func TestOrchestrator_RRFOnlyWithoutReranker(t *testing.T) {
	lex := &fakeLexical{results: lexHits("A", "B")}
	vec := &fakeVector{results: vecHits("B", "C")}
	o := newTestOrchestrator(lex, vec)

	resp, err := o.Search(context.Background(), "query", Options{TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, "B", resp.Results[0].Text)
	assert.False(t, resp.RerankDegraded)
	for _, c := range resp.Results {
		assert.Equal(t, c.RRFScore, c.FinalScore)
	}
}

func TestOrchestrator_RerankReorders(t *testing.T) {
	// Given: fusion order is [B, A, C], but the cross-encoder strongly
	// prefers C
	lex := &fakeLexical{results: lexHits("A", "B")}
	vec := &fakeVector{results: vecHits("B", "C")}
	rr := &fakeReranker{scores: []float64{0.1, 0.2, 0.95}}
	o := newTestOrchestrator(lex, vec, WithReranker(rr))

	// When: searching with alpha=1 (rerank only)
	resp, err := o.Search(context.Background(), "query", Options{TopK: 3, Alpha: 1.0, AlphaSet: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	// Then: C wins on rerank score
	assert.Equal(t, "C", resp.Results[0].Text)
	assert.False(t, resp.RerankDegraded)
	assert.Equal(t, 1, rr.calls)
}

func TestOrchestrator_AlphaZeroKeepsRRFOrder(t *testing.T) {
	lex := &fakeLexical{results: lexHits("A", "B")}
	vec := &fakeVector{results: vecHits("B", "C")}
	rr := &fakeReranker{scores: []float64{0.1, 0.2, 0.95}}
	o := newTestOrchestrator(lex, vec, WithReranker(rr))

	resp, err := o.Search(context.Background(), "query", Options{TopK: 3, Alpha: 0, AlphaSet: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	// alpha=0 means final = rrf, but rerank scores are still recorded.
	assert.Equal(t, "B", resp.Results[0].Text)
	assert.NotZero(t, resp.Results[0].RerankScore)
}

func TestOrchestrator_BlendedScores(t *testing.T) {
	lex := &fakeLexical{results: lexHits("A")}
	vec := &fakeVector{}
	rr := &fakeReranker{scores: []float64{0.8}}
	o := newTestOrchestrator(lex, vec, WithReranker(rr))

	resp, err := o.Search(context.Background(), "query", Options{TopK: 1, Alpha: 0.5, AlphaSet: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	c := resp.Results[0]
	assert.InDelta(t, 0.5*0.8+0.5*c.RRFScore, c.FinalScore, 1e-12)
}

func TestOrchestrator_RerankFailureDegrades(t *testing.T) {
	// A dead reranker must not fail the search.
	lex := &fakeLexical{results: lexHits("A", "B")}
	vec := &fakeVector{results: vecHits("B", "C")}
	rr := &fakeReranker{err: fmt.Errorf("sidecar down")}
	o := newTestOrchestrator(lex, vec, WithReranker(rr))

	resp, err := o.Search(context.Background(), "query", Options{TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.True(t, resp.RerankDegraded)
	assert.Equal(t, "B", resp.Results[0].Text)
	for _, c := range resp.Results {
		assert.Equal(t, c.RRFScore, c.FinalScore)
	}
}

func TestOrchestrator_SkipRerank(t *testing.T) {
	lex := &fakeLexical{results: lexHits("A")}
	rr := &fakeReranker{}
	o := newTestOrchestrator(lex, &fakeVector{}, WithReranker(rr))

	resp, err := o.Search(context.Background(), "query", Options{TopK: 1, SkipRerank: true})
	require.NoError(t, err)
	assert.Zero(t, rr.calls)
	assert.False(t, resp.RerankDegraded)
}

func TestOrchestrator_NormalizedBlend(t *testing.T) {
	// Raw RRF scores live near 1/60 while rerank scores span [0, 1]; the
	// normalized blend puts both on [0, 1] before mixing.
	lex := &fakeLexical{results: lexHits("A", "B")}
	vec := &fakeVector{results: vecHits("B", "C")}
	rr := &fakeReranker{scores: []float64{0.2, 0.4, 0.9}}
	o := newTestOrchestrator(lex, vec, WithReranker(rr))

	resp, err := o.Search(context.Background(), "query", Options{
		TopK: 3, Alpha: 0.5, AlphaSet: true, NormalizedBlend: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	// B has the best RRF score (normalized 1.0) and a middling rerank
	// score; C has the best rerank score but the worst RRF score. The
	// key property is that every final score stays within [0, 1].
	for _, c := range resp.Results {
		assert.GreaterOrEqual(t, c.FinalScore, 0.0)
		assert.LessOrEqual(t, c.FinalScore, 1.0)
	}
}

func TestOrchestrator_TruncatesToTopK(t *testing.T) {
	lex := &fakeLexical{results: lexHits("A", "B", "C", "D", "E", "F")}
	o := newTestOrchestrator(lex, &fakeVector{})

	resp, err := o.Search(context.Background(), "query", Options{TopK: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, "A", resp.Results[0].Text)
}

func TestOrchestrator_DefaultsApplied(t *testing.T) {
	lex := &fakeLexical{results: lexHits("A")}
	o := newTestOrchestrator(lex, &fakeVector{}, WithDefaults(Options{
		TopK: 3, Alpha: 0.7, KRRF: 30,
	}))

	resp, err := o.Search(context.Background(), "query", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 6, lex.gotLimit)
	assert.InDelta(t, 1.0/31, resp.Results[0].RRFScore, 1e-12)
}
