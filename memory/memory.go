package memory

import (
	"context"
	"errors"
	"net/url"
)

// DefaultTag is the category tag under which user memories are namespaced.
const DefaultTag = "memories"

// ErrNotFound is returned when a key does not exist in a namespace.
var ErrNotFound = errors.New("memory: record not found")

// Namespace partitions records. Reads and writes for one namespace never
// observe or touch another.
type Namespace struct {
	Tag    string
	UserID string
}

// UserNamespace returns the namespace holding a user's memories.
func UserNamespace(userID string) Namespace {
	return Namespace{Tag: DefaultTag, UserID: userID}
}

// String returns a collision-free rendering usable as a collection name.
// Both parts are escaped so a "/" inside either cannot alias another namespace.
func (n Namespace) String() string {
	return url.PathEscape(n.Tag) + "/" + url.PathEscape(n.UserID)
}

// Store is the vector storage backend.
// Implementations: chromem (embedded, default) and sqlite (file-backed).
type Store interface {
	// Put upserts a record with its embedding. An existing record under the
	// same key in the same namespace is overwritten.
	Put(ctx context.Context, ns Namespace, rec Record, embedding []float32) error

	// Search returns up to limit records of ns ordered by descending similarity.
	Search(ctx context.Context, ns Namespace, embedding []float32, limit int) ([]SearchResult, error)

	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, ns Namespace, key string) (Record, error)

	// Count returns the number of records in ns.
	Count(ctx context.Context, ns Namespace) (int, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to embedding vectors.
// Implementations: mock (testing/offline), ollama, onnx, and cached as a wrapper.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
