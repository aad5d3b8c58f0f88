package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhdn/ragserve/internal/chat"
	"github.com/minhdn/ragserve/internal/embed"
	"github.com/minhdn/ragserve/internal/errors"
	"github.com/minhdn/ragserve/internal/ingest"
	"github.com/minhdn/ragserve/internal/llm"
	"github.com/minhdn/ragserve/internal/retrieval"
	"github.com/minhdn/ragserve/internal/store"
	"github.com/minhdn/ragserve/internal/telemetry"
	"github.com/minhdn/ragserve/internal/tools"
)

type fixture struct {
	server   *Server
	lexical  *store.BleveIndex
	vector   *store.HNSWIndex
	history  *store.SQLiteStore
	embedder *embed.StaticEmbedder
	client   *scriptedClient
}

type scriptedClient struct {
	responses []*llm.ChatResponse
}

func (c *scriptedClient) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	if len(c.responses) == 0 {
		return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "ok"}}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *scriptedClient) Model() string { return "scripted" }
func (c *scriptedClient) Close() error  { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	embedder := embed.NewStaticEmbedder(32)
	lexical, err := store.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })
	vector, err := store.NewHNSWIndex(32)
	require.NoError(t, err)
	history, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	orch := retrieval.NewOrchestrator(lexical, vector, embedder)
	client := &scriptedClient{}
	chatSvc := chat.NewService(client, orch, history, tools.NewRegistry(nil), chat.Config{}, nil)

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		Scanner:  ingest.NewScanner(nil, nil),
		Chunker:  ingest.NewChunker(0, 0),
		Embedder: embedder,
		Lexical:  lexical,
		Vector:   vector,
		Docs:     history,
		DataDir:  t.TempDir(),
	})

	srv := New(Config{
		Orchestrator: orch,
		Chat:         chatSvc,
		Pipeline:     pipeline,
		History:      history,
	})

	return &fixture{
		server:   srv,
		lexical:  lexical,
		vector:   vector,
		history:  history,
		embedder: embedder,
		client:   client,
	}
}

func (f *fixture) index(t *testing.T, texts ...string) {
	t.Helper()
	chunks := make([]*store.Chunk, len(texts))
	for i, text := range texts {
		vec, err := f.embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		chunks[i] = &store.Chunk{
			ID:        fmt.Sprintf("doc_http_%04d", i),
			DocID:     "doc_http",
			Text:      text,
			Ordinal:   i,
			Embedding: vec,
		}
	}
	require.NoError(t, f.lexical.Index(context.Background(), chunks))
	require.NoError(t, f.vector.Index(context.Background(), chunks))
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSearch_ReturnsRankedResults(t *testing.T) {
	f := newFixture(t)
	f.index(t,
		"Billing exports run nightly at 2am.",
		"The audit log is immutable once written.")

	rec := f.do(t, http.MethodPost, "/search", map[string]any{
		"query": "billing export schedule",
		"top_k": 2,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Text, "nightly")
}

func TestMetrics_CountsSearches(t *testing.T) {
	f := newFixture(t)
	f.index(t, "Backups are retained for ninety days.")

	f.do(t, http.MethodPost, "/search", map[string]any{"query": "backup retention"})
	f.do(t, http.MethodPost, "/search", map[string]any{"query": "backup retention"})
	f.do(t, http.MethodPost, "/search", map[string]any{"query": "totally unrelated gibberish"})

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap telemetry.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(3), snap.Queries)
	assert.Equal(t, 2, snap.UniqueQueries)
}

func TestSearch_EmptyCorpusIsOKWithEmptyList(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/search", map[string]any{"query": "anything"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestSearch_EmptyQueryIs400(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/search", map[string]any{"query": "   "})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), errors.ErrCodeQueryEmpty)
}

func TestSearch_ExplicitZeroTopKIs400(t *testing.T) {
	f := newFixture(t)
	f.index(t, "Invoices are emailed on the first of the month.")

	rec := f.do(t, http.MethodPost, "/search", map[string]any{
		"query": "invoice schedule",
		"top_k": 0,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), errors.ErrCodeInvalidTopK)
}

func TestSearch_InvalidAlphaIs400(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/search", map[string]any{
		"query": "q",
		"alpha": 1.5,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), errors.ErrCodeInvalidAlpha)
}

func TestChat_AnswersAndRecordsSession(t *testing.T) {
	f := newFixture(t)
	f.index(t, "Passwords rotate every ninety days.")
	f.client.responses = []*llm.ChatResponse{{
		Message: llm.Message{Role: "assistant", Content: "Every ninety days [1]."},
	}}

	rec := f.do(t, http.MethodPost, "/chat", map[string]any{
		"session_id": "http-session",
		"query":      "how often do passwords rotate?",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var answer chat.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Equal(t, "http-session", answer.SessionID)
	assert.Contains(t, answer.Content, "ninety days")

	// The transcript is now retrievable.
	rec = f.do(t, http.MethodGet, "/chat/http-session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "how often do passwords rotate?")
}

func TestChat_EmptyQueryIs400(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/chat", map[string]any{"query": ""})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetHistory_UnknownSessionIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/chat/no-such-session", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), errors.ErrCodeSessionNotFound)
}

func TestClearHistory_RemovesSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.history.Append(context.Background(), &store.Message{
		SessionID: "gone-soon", Role: store.RoleUser, Content: "hello",
	}))

	rec := f.do(t, http.MethodDelete, "/chat/gone-soon", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/chat/gone-soon", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.history.Append(context.Background(), &store.Message{
		SessionID: "s-a", Role: store.RoleUser, Content: "hi",
	}))

	rec := f.do(t, http.MethodGet, "/sessions", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "s-a")
}

func TestIngestFolder_IngestsAndReports(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"),
		[]byte("# Notes\n\nThe cache warms up during the first request."), 0644))

	rec := f.do(t, http.MethodPost, "/ingest-folder", map[string]any{"folder": dir})

	require.Equal(t, http.StatusOK, rec.Code)
	var report ingest.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Ingested)
	assert.Greater(t, report.Chunks, 0)
}

func TestIngestFolder_MissingFolderIs400(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/ingest-folder", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
