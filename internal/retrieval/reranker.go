package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/minhdn/ragserve/internal/errors"
)

// Cross-encoder sidecar defaults.
const (
	DefaultRerankerEndpoint = "http://localhost:9380"
	DefaultRerankerModel    = "ms-marco-minilm-l6-v2"
	DefaultRerankerTimeout  = 30 * time.Second
)

// Reranker scores query-candidate pairs with a cross-encoder. Unlike the
// bi-encoder embedding channel it sees query and candidate together, which
// is slower but considerably more accurate on the short list it receives.
type Reranker interface {
	// ScorePairs returns one relevance score per candidate, in the same
	// order as candidates.
	ScorePairs(ctx context.Context, query string, candidates []string) ([]float64, error)

	// Available reports whether the reranker can serve requests.
	Available(ctx context.Context) bool

	Close() error
}

// NoopReranker returns mildly decreasing scores so the incoming order is
// preserved. Used when reranking is disabled.
type NoopReranker struct{}

var _ Reranker = (*NoopReranker)(nil)

func (n *NoopReranker) ScorePairs(_ context.Context, _ string, candidates []string) ([]float64, error) {
	scores := make([]float64, len(candidates))
	for i := range candidates {
		scores[i] = 1.0 - float64(i)*0.01
	}
	return scores, nil
}

func (n *NoopReranker) Available(_ context.Context) bool { return true }

func (n *NoopReranker) Close() error { return nil }

// HTTPRerankerConfig configures the cross-encoder sidecar client.
type HTTPRerankerConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration

	// SkipHealthCheck bypasses the startup probe, for tests.
	SkipHealthCheck bool
}

// HTTPReranker talks to a cross-encoder model served over HTTP. The
// sidecar exposes POST /rerank taking a query and a document list and
// returning one score per document.
type HTTPReranker struct {
	client *http.Client
	config HTTPRerankerConfig

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// NewHTTPReranker creates the client and probes the sidecar's /health
// endpoint unless SkipHealthCheck is set.
func NewHTTPReranker(ctx context.Context, cfg HTTPRerankerConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRerankerModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}

	r := &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
	}

	if !cfg.SkipHealthCheck {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if !r.Available(probeCtx) {
			return nil, errors.New(errors.ErrCodeRerankFailed,
				fmt.Sprintf("reranker not reachable at %s", cfg.Endpoint), nil)
		}
	}

	slog.Debug("reranker_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model))

	return r, nil
}

// ScorePairs sends the query and candidates to the sidecar and returns the
// scores in candidate order.
func (r *HTTPReranker) ScorePairs(ctx context.Context, query string, candidates []string) ([]float64, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, errors.New(errors.ErrCodeRerankFailed, "reranker is closed", nil)
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return []float64{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     r.config.Model,
		Query:     query,
		Documents: candidates,
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeRerankFailed, "failed to marshal rerank request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.ErrCodeRerankFailed, "failed to create rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeRerankFailed, "rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.ErrCodeRerankFailed,
			fmt.Sprintf("reranker returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.New(errors.ErrCodeRerankFailed, "failed to decode rerank response", err)
	}
	if len(result.Scores) != len(candidates) {
		return nil, errors.New(errors.ErrCodeRerankFailed,
			fmt.Sprintf("reranker returned %d scores for %d candidates", len(result.Scores), len(candidates)), nil)
	}

	return result.Scores, nil
}

// Available probes the sidecar's health endpoint.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false
	}
	r.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.client.CloseIdleConnections()
	return nil
}
