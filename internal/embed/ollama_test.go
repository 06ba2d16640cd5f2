package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves the two endpoints the embedder uses.
func fakeOllama(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": "nomic-embed-text:latest"}},
		})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = 3
			vec[1] = 4
			out[i] = vec
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_ResolvesModelAndDims(t *testing.T) {
	// Given a server with nomic-embed-text:latest installed
	srv := fakeOllama(t, 8)

	// When the embedder is created with the untagged model name
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer e.Close()

	// Then it resolves the tagged name and detects dimensions
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.Equal(t, 8, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_NormalizesVectors(t *testing.T) {
	srv := fakeOllama(t, 8)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "evil.example.com")
	require.NoError(t, err)
	require.Len(t, vec, 8)

	// Raw vector is (3,4,0,...); unit-normalized it becomes (0.6, 0.8).
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)
}

func TestOllamaEmbedder_EmptyTextZeroVector(t *testing.T) {
	srv := fakeOllama(t, 4)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"  ", "real.example.com"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, make([]float32, 4), vecs[0])
	assert.NotEqual(t, make([]float32, 4), vecs[1])
}

func TestOllamaEmbedder_ServerDown(t *testing.T) {
	// When no server listens at the host
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: "http://127.0.0.1:1",
	})

	// Then construction fails rather than returning a broken embedder
	assert.Error(t, err)
}
