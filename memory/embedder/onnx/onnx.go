//go:build onnx

// Package onnx embeds text locally with a sentence-transformer model
// (all-MiniLM-L6-v2 by default) through ONNX Runtime. Build with -tags onnx.
package onnx

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// maxSeqLen is the fixed sequence length fed to the model.
const maxSeqLen = 128

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath points at libonnxruntime. Empty uses the loader default.
	LibraryPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int
}

// Embedder generates embeddings using ONNX Runtime.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *wordPieceTokenizer
	dimensions int

	// ONNX sessions are not safe for concurrent Run calls.
	mu sync.Mutex
}

// New loads the tokenizer and model and opens an inference session.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx embedder: ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	tokenizer, err := loadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	log.Printf("[ONNX] Loaded %s (%d dims, vocab %d)", cfg.ModelPath, cfg.Dimensions, len(tokenizer.vocab))

	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts text to a unit-length embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, attentionMask := e.tokenizer.encode(text, maxSeqLen)
	tokenTypeIDs := make([]int64, maxSeqLen)

	shape := ort.NewShape(1, maxSeqLen)
	var inputs []ort.Value
	for _, data := range [][]int64{inputIDs, attentionMask, tokenTypeIDs} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			destroyAll(inputs)
			return nil, fmt.Errorf("create input tensor: %w", err)
		}
		inputs = append(inputs, t)
	}
	defer destroyAll(inputs)

	// Outputs are allocated by Run.
	outputs := []ort.Value{nil}

	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer destroyAll(outputs)

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok || out == nil {
		return nil, fmt.Errorf("unexpected onnx output type %T", outputs[0])
	}

	embedding, err := pool(out.GetData(), out.GetShape(), attentionMask, e.dimensions)
	if err != nil {
		return nil, err
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// pool extracts a sentence vector. Outputs already shaped [1, dims] are
// copied; [1, seq, dims] outputs are mean-pooled over attended tokens.
func pool(data []float32, shape ort.Shape, mask []int64, dims int) ([]float32, error) {
	switch len(shape) {
	case 2:
		if len(data) < dims {
			return nil, fmt.Errorf("output dimension mismatch: got %d, expected %d", len(data), dims)
		}
		vec := make([]float32, dims)
		copy(vec, data[:dims])
		return vec, nil

	case 3:
		if shape[0] != 1 {
			return nil, fmt.Errorf("expected batch size 1, got %d", shape[0])
		}
		if shape[2] != int64(dims) {
			return nil, fmt.Errorf("hidden size mismatch: got %d, expected %d", shape[2], dims)
		}

		vec := make([]float32, dims)
		var attended float32
		for i := 0; i < int(shape[1]) && i < len(mask); i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			row := data[i*dims : (i+1)*dims]
			for j, v := range row {
				vec[j] += v
			}
		}
		if attended > 0 {
			for j := range vec {
				vec[j] /= attended
			}
		}
		return vec, nil

	default:
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
