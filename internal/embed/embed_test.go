package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder(64)
	defer func() { _ = e.Close() }()

	a, err := e.Embed(context.Background(), "hybrid retrieval with fusion")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hybrid retrieval with fusion")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestStaticEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	e := NewStaticEmbedder(256)

	ctx := context.Background()
	query, err := e.Embed(ctx, "postgres vector search")
	require.NoError(t, err)
	near, err := e.Embed(ctx, "vector search in postgres databases")
	require.NoError(t, err)
	far, err := e.Embed(ctx, "cooking pasta with garlic")
	require.NoError(t, err)

	assert.Greater(t, dot(query, near), dot(query, far))
}

func TestStaticEmbedder_EmptyText(t *testing.T) {
	e := NewStaticEmbedder(32)

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	require.Len(t, vec, 32)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestCachedEmbedder_CacheHit(t *testing.T) {
	// Given: a counting inner embedder behind a cache
	inner := &countingEmbedder{inner: NewStaticEmbedder(32)}
	cached := NewCachedEmbedder(inner, 10)

	ctx := context.Background()
	first, err := cached.Embed(ctx, "same query")
	require.NoError(t, err)

	// When: the same text is embedded again
	second, err := cached.Embed(ctx, "same query")
	require.NoError(t, err)

	// Then: the inner embedder was only called once
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedEmbedder_BatchPartialHit(t *testing.T) {
	inner := &countingEmbedder{inner: NewStaticEmbedder(32)}
	cached := NewCachedEmbedder(inner, 10)

	ctx := context.Background()
	_, err := cached.Embed(ctx, "cached text")
	require.NoError(t, err)
	inner.calls.Store(0)

	results, err := cached.EmbedBatch(ctx, []string{"cached text", "fresh text"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Only the miss went to the inner embedder.
	assert.Equal(t, int64(1), inner.batchTexts.Load())
}

type countingEmbedder struct {
	inner      Embedder
	calls      atomic.Int64
	batchTexts atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.batchTexts.Add(int64(len(texts)))
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *countingEmbedder) ModelName() string { return c.inner.ModelName() }

func (c *countingEmbedder) Available(ctx context.Context) bool { return true }

func (c *countingEmbedder) Close() error { return nil }

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	// Given: a fake Ollama server returning fixed embeddings
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		n := 1
		if texts, ok := req.Input.([]interface{}); ok {
			n = len(texts)
		}
		embeddings := make([][]float32, n)
		for i := range embeddings {
			embeddings[i] = []float32{1, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Model: "test", Embeddings: embeddings})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Model:           "test-model",
		Dimensions:      3,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	results, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []float32{1, 0, 0}, results[0])
}

func TestOllamaEmbedder_EmptyTextSkipsAPI(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 2, 3}}})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Model:           "test-model",
		Dimensions:      3,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 3), vec)
	assert.Zero(t, hits.Load())
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Model:           "missing-model",
		Dimensions:      3,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Embed(context.Background(), "some text")
	require.Error(t, err)
}
