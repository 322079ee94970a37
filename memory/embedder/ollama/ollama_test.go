package ollama_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/memory-agent/memory/embedder/ollama"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestOllamaEmbedder(t *testing.T) {
	var gotModel, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel, gotPrompt = req.Model, req.Prompt
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[3,4]}`))
	}))
	defer srv.Close()

	e := ollama.New(ollama.Config{BaseURL: srv.URL + "/api", Model: "all-minilm", Dimensions: 2})
	assert.Equal(t, 2, e.Dimensions())

	vec, err := e.Embed(context.Background(), "User likes pizza")
	require.NoError(t, err)
	assert.Equal(t, "all-minilm", gotModel)
	assert.Equal(t, "User likes pizza", gotPrompt)
	require.Len(t, vec, 2)
	assert.InDelta(t, 1.0, norm(vec), 1e-5)
}

func TestOllamaEmbedder_Defaults(t *testing.T) {
	e := ollama.New(ollama.Config{})
	assert.Equal(t, 768, e.Dimensions())
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := ollama.New(ollama.Config{BaseURL: srv.URL + "/api"})
	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama embed")
}
