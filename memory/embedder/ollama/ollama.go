// Package ollama adapts chromem-go's Ollama embedding function to the
// memory.Embedder interface.
package ollama

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// Config configures the Ollama embedder.
type Config struct {
	BaseURL    string // Ollama API URL, e.g. "http://localhost:11434/api"
	Model      string // Embedding model (default: nomic-embed-text)
	Dimensions int    // Vector size reported by Dimensions (default: 768)
}

// Embedder generates embeddings through a local Ollama server.
type Embedder struct {
	embed      chromem.EmbeddingFunc
	dimensions int
}

// New creates an Ollama embedder.
func New(cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 768
	}
	return &Embedder{
		embed:      chromem.NewEmbeddingFuncOllama(cfg.Model, cfg.BaseURL),
		dimensions: cfg.Dimensions,
	}
}

// Embed converts text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	return vec, nil
}

// Dimensions returns the configured vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
