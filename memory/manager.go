package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"
)

// Manager embeds text and delegates storage to a Store. It is the only
// component that sees the Embedder.
type Manager struct {
	store    Store
	embedder Embedder
	config   *Config
	now      func() time.Time
}

// NewManager creates a new Manager.
func NewManager(store Store, embedder Embedder, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig
	}
	return &Manager{
		store:    store,
		embedder: embedder,
		config:   config,
		now:      time.Now,
	}
}

// Search embeds query and returns up to limit records of ns, best first.
// Results keep the store's ordering.
func (m *Manager) Search(ctx context.Context, ns Namespace, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = m.config.DefaultLimit
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := m.store.Search(ctx, ns, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}

	if m.config.MinSimilarity > -1 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= m.config.MinSimilarity {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	log.Printf("[MEMORY] Retrieved %d memories for %s, query: %q", len(results), ns, truncateLog(query, 50))
	return results, nil
}

// Save upserts a record under key. The creation time of an existing record
// is preserved; everything else is overwritten.
func (m *Manager) Save(ctx context.Context, ns Namespace, key string, content string, memContext string) (Record, error) {
	if key == "" {
		return Record{}, fmt.Errorf("save memory: empty key")
	}

	now := m.now().UTC()
	rec := Record{
		Key:       key,
		Namespace: ns,
		Content:   content,
		Context:   memContext,
		CreatedAt: now,
		UpdatedAt: now,
	}

	existing, err := m.store.Get(ctx, ns, key)
	switch {
	case err == nil:
		rec.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
	default:
		return Record{}, fmt.Errorf("load existing memory %s: %w", key, err)
	}

	embedding, err := m.embedder.Embed(ctx, rec.FormatForEmbedding())
	if err != nil {
		return Record{}, fmt.Errorf("embed memory: %w", err)
	}

	if err := m.store.Put(ctx, ns, rec, embedding); err != nil {
		return Record{}, fmt.Errorf("store memory %s: %w", key, err)
	}

	log.Printf("[MEMORY] Stored memory %s in %s", key, ns)
	return rec, nil
}

// Get returns the record stored under key.
func (m *Manager) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	return m.store.Get(ctx, ns, key)
}

// FormatResults renders search results as a <memories> block for prompt
// injection. It returns "" when there is nothing to show.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, r.Format())
	}
	return "\n<memories>\n" + strings.Join(lines, "\n") + "\n</memories>"
}

// truncateLog keeps the first maxLen runes of s for logging.
func truncateLog(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

// Config holds Manager configuration.
type Config struct {
	// DefaultLimit is used when Search is called with limit <= 0.
	// Default: 10
	DefaultLimit int

	// MinSimilarity drops results scoring below it. Cosine scores live in
	// [-1, 1], so -1 keeps everything.
	// Default: -1
	MinSimilarity float32
}

// DefaultConfig keeps every result the store returns.
var DefaultConfig = &Config{
	DefaultLimit:  10,
	MinSimilarity: -1,
}
