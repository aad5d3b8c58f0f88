// Package lifecycle manages the local Ollama install backing the
// embeddings provider: availability detection, model listing, and model
// pulls, so first runs work without manual setup.
package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultHost is the local Ollama endpoint.
	DefaultHost = "http://localhost:11434"

	probeTimeout = 2 * time.Second
)

// PullProgress reports one step of a streaming model pull.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
	Percent   float64
}

// OllamaManager probes and prepares an Ollama instance.
type OllamaManager struct {
	host   string
	client *http.Client
}

// NewOllamaManager creates a manager for host. Empty means localhost.
func NewOllamaManager(host string) *OllamaManager {
	if host == "" {
		host = DefaultHost
	}
	return &OllamaManager{
		host:   strings.TrimRight(host, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Host returns the managed endpoint.
func (m *OllamaManager) Host() string { return m.host }

// IsRunning reports whether the Ollama API responds. Connection errors
// mean "not running", not failure.
func (m *OllamaManager) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the locally available model names.
func (m *OllamaManager) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama at %s: %w", m.host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode ollama model list: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, model := range result.Models {
		names[i] = model.Name
	}
	return names, nil
}

// HasModel reports whether model is available, matching either the full
// tag or the base name.
func (m *OllamaManager) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := m.ListModels(ctx)
	if err != nil {
		return false, err
	}

	want := strings.ToLower(model)
	wantBase := strings.SplitN(want, ":", 2)[0]
	for _, name := range models {
		have := strings.ToLower(name)
		if have == want || strings.SplitN(have, ":", 2)[0] == wantBase {
			return true, nil
		}
	}
	return false, nil
}

// PullModel downloads model if missing, streaming progress through
// progressFunc when set.
func (m *OllamaManager) PullModel(ctx context.Context, model string, progressFunc func(PullProgress)) error {
	has, err := m.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	body, err := json.Marshal(map[string]any{"name": model, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.host+"/api/pull", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Pulls stream for minutes; no client timeout.
	pullClient := &http.Client{}
	resp, err := pullClient.Do(req)
	if err != nil {
		return fmt.Errorf("start model pull: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("pull %s failed with status %d: %s", model, resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var step struct {
			Status    string `json:"status"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &step); err != nil {
			continue
		}
		if step.Error != "" {
			return fmt.Errorf("pull %s: %s", model, step.Error)
		}
		if progressFunc != nil {
			percent := 0.0
			if step.Total > 0 {
				percent = float64(step.Completed) / float64(step.Total) * 100
			}
			progressFunc(PullProgress{
				Status:    step.Status,
				Total:     step.Total,
				Completed: step.Completed,
				Percent:   percent,
			})
		}
	}
	return scanner.Err()
}

// EnsureModel verifies Ollama is reachable and the model is present,
// pulling it when missing. Callers fall back to static embeddings when
// this fails.
func (m *OllamaManager) EnsureModel(ctx context.Context, model string, progressFunc func(PullProgress)) error {
	if !m.IsRunning(ctx) {
		return fmt.Errorf("ollama is not reachable at %s", m.host)
	}
	return m.PullModel(ctx, model, progressFunc)
}
