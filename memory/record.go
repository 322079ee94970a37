package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Record is one long-term memory about a user.
type Record struct {
	Key       string
	Namespace Namespace

	// Content is the memory itself, such as a user preference.
	Content string
	// Context records when or how the memory was collected.
	Context string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SearchResult is a record returned by a similarity search.
type SearchResult struct {
	Record
	Score float32
}

// Value is the stored payload of a record.
type Value struct {
	Content string `json:"content"`
	Context string `json:"context"`
}

// Value returns the record's payload.
func (r Record) Value() Value {
	return Value{Content: r.Content, Context: r.Context}
}

// FormatForEmbedding returns the text embedded for this record.
func (r Record) FormatForEmbedding() string {
	if r.Context == "" {
		return r.Content
	}
	return r.Content + "\n" + r.Context
}

// Format renders the result as a prompt line: [key]: value (similarity: score).
func (r SearchResult) Format() string {
	value, err := json.Marshal(r.Value())
	if err != nil {
		value = []byte(r.Content)
	}
	return fmt.Sprintf("[%s]: %s (similarity: %.4f)", r.Key, value, r.Score)
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
