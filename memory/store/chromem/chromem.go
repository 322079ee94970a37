package chromem

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/memory-agent/memory"
)

// Metadata keys stored alongside each document.
const (
	metaTag       = "tag"
	metaUserID    = "user_id"
	metaContext   = "context"
	metaCreatedAt = "created_at"
	metaUpdatedAt = "updated_at"
)

// ChromemStore wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database.
type ChromemStore struct {
	db          *chromem.DB
	collections map[memory.Namespace]*chromem.Collection // One collection per namespace
	mu          sync.RWMutex
}

// New creates an in-memory chromem store.
func New() (*ChromemStore, error) {
	return &ChromemStore{
		db:          chromem.NewDB(),
		collections: make(map[memory.Namespace]*chromem.Collection),
	}, nil
}

// NewPersistent creates a chromem store persisted under path. Collections
// written by a previous process are picked up on first use.
func NewPersistent(path string, compress bool) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db %s: %w", path, err)
	}
	return &ChromemStore{
		db:          db,
		collections: make(map[memory.Namespace]*chromem.Collection),
	}, nil
}

// collection returns the collection for a namespace, creating it on demand.
// Each namespace gets its own collection for isolation.
func (s *ChromemStore) collection(ns memory.Namespace) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[ns]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[ns]; exists {
		return col, nil
	}

	// We always provide embeddings, so no embedding func is configured.
	col, err := s.db.GetOrCreateCollection(ns.String(), map[string]string{
		metaTag:    ns.Tag,
		metaUserID: ns.UserID,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", ns, err)
	}

	s.collections[ns] = col
	return col, nil
}

// Put upserts a record. chromem replaces a document with the same ID.
func (s *ChromemStore) Put(ctx context.Context, ns memory.Namespace, rec memory.Record, embedding []float32) error {
	col, err := s.collection(ns)
	if err != nil {
		return err
	}

	log.Printf("[CHROMEM] Storing memory: id=%s, namespace=%s", rec.Key, ns)

	doc := chromem.Document{
		ID:        rec.Key,
		Content:   rec.Content,
		Embedding: embedding,
		Metadata: map[string]string{
			metaTag:       ns.Tag,
			metaUserID:    ns.UserID,
			metaContext:   rec.Context,
			metaCreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
			metaUpdatedAt: rec.UpdatedAt.Format(time.RFC3339Nano),
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search retrieves records by vector similarity.
func (s *ChromemStore) Search(ctx context.Context, ns memory.Namespace, embedding []float32, limit int) ([]memory.SearchResult, error) {
	col, err := s.collection(ns)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size
	n := col.Count()
	if n == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}

	where := map[string]string{
		metaUserID: ns.UserID,
	}
	results, err := col.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]memory.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, memory.SearchResult{
			Record: toRecord(ns, r.ID, r.Content, r.Metadata),
			Score:  r.Similarity,
		})
	}

	log.Printf("[CHROMEM] Query on %s returned %d of %d documents", ns, len(out), n)
	return out, nil
}

// Get retrieves a specific record by key.
func (s *ChromemStore) Get(ctx context.Context, ns memory.Namespace, key string) (memory.Record, error) {
	col, err := s.collection(ns)
	if err != nil {
		return memory.Record{}, err
	}
	if col.Count() == 0 {
		return memory.Record{}, memory.ErrNotFound
	}

	doc, err := col.GetByID(ctx, key)
	if err != nil {
		if isNotFoundError(err) {
			return memory.Record{}, memory.ErrNotFound
		}
		return memory.Record{}, fmt.Errorf("get document %s: %w", key, err)
	}
	return toRecord(ns, doc.ID, doc.Content, doc.Metadata), nil
}

// Count returns the number of records in the namespace.
func (s *ChromemStore) Count(ctx context.Context, ns memory.Namespace) (int, error) {
	col, err := s.collection(ns)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Close releases resources. Persistent collections are written on each
// AddDocument, so there is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

func toRecord(ns memory.Namespace, id string, content string, meta map[string]string) memory.Record {
	createdAt, _ := time.Parse(time.RFC3339Nano, meta[metaCreatedAt])
	updatedAt, _ := time.Parse(time.RFC3339Nano, meta[metaUpdatedAt])
	return memory.Record{
		Key:       id,
		Namespace: ns,
		Content:   content,
		Context:   meta[metaContext],
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// isNotFoundError checks if a chromem error means the ID is absent.
func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
