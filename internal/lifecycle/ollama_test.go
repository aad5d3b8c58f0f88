package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeOllama(t *testing.T, models []string, pulls *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			type model struct {
				Name string `json:"name"`
			}
			list := make([]model, len(models))
			for i, name := range models {
				list[i] = model{Name: name}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"models": list})
		case "/api/pull":
			var req struct {
				Name string `json:"name"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if pulls != nil {
				*pulls = append(*pulls, req.Name)
			}
			fmt.Fprintln(w, `{"status":"pulling","total":100,"completed":50}`)
			fmt.Fprintln(w, `{"status":"success","total":100,"completed":100}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestIsRunning(t *testing.T) {
	srv := fakeOllama(t, nil, nil)
	defer srv.Close()

	assert.True(t, NewOllamaManager(srv.URL).IsRunning(context.Background()))
	assert.False(t, NewOllamaManager("http://127.0.0.1:1").IsRunning(context.Background()))
}

func TestHasModel_MatchesBaseName(t *testing.T) {
	srv := fakeOllama(t, []string{"qwen3-embedding:0.6b", "llama3:8b"}, nil)
	defer srv.Close()
	m := NewOllamaManager(srv.URL)

	has, err := m.HasModel(context.Background(), "qwen3-embedding:0.6b")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = m.HasModel(context.Background(), "llama3")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = m.HasModel(context.Background(), "mistral")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPullModel_SkipsPresentStreamsMissing(t *testing.T) {
	var pulls []string
	srv := fakeOllama(t, []string{"llama3:8b"}, &pulls)
	defer srv.Close()
	m := NewOllamaManager(srv.URL)

	// Present model: no pull issued.
	require.NoError(t, m.PullModel(context.Background(), "llama3", nil))
	assert.Empty(t, pulls)

	// Missing model: pulled with progress callbacks.
	var progress []PullProgress
	require.NoError(t, m.PullModel(context.Background(), "mistral", func(p PullProgress) {
		progress = append(progress, p)
	}))
	assert.Equal(t, []string{"mistral"}, pulls)
	require.Len(t, progress, 2)
	assert.Equal(t, 100.0, progress[1].Percent)
}

func TestEnsureModel_UnreachableHostFails(t *testing.T) {
	m := NewOllamaManager("http://127.0.0.1:1")

	err := m.EnsureModel(context.Background(), "any", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}
