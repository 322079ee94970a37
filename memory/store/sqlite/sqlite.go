// Package sqlite provides a file-backed memory store on SQLite.
//
// Embeddings are stored as little-endian float32 blobs and ranked by cosine
// similarity in process, which is adequate for per-user namespaces holding
// at most a few thousand records.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/becomeliminal/memory-agent/memory"
)

// Store manages record persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; serialise through one connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewWithDB creates a store using an existing database connection.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			tag TEXT NOT NULL,
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			content TEXT NOT NULL,
			context TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tag, user_id, key)
		);

		CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(tag, user_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts a record. created_at of an existing row is kept.
func (s *Store) Put(ctx context.Context, ns memory.Namespace, rec memory.Record, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (tag, user_id, key, content, context, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tag, user_id, key) DO UPDATE SET
			content = excluded.content,
			context = excluded.context,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`, ns.Tag, ns.UserID, rec.Key, rec.Content, rec.Context, encodeEmbedding(embedding),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key, err)
	}

	log.Printf("[SQLITE] Stored memory: id=%s, namespace=%s", rec.Key, ns)
	return nil
}

// Search scores every record of the namespace and returns the best limit.
func (s *Store) Search(ctx context.Context, ns memory.Namespace, embedding []float32, limit int) ([]memory.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, content, context, embedding, created_at, updated_at
		FROM memories WHERE tag = ? AND user_id = ?
	`, ns.Tag, ns.UserID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var results []memory.SearchResult
	for rows.Next() {
		var (
			rec                  memory.Record
			blob                 []byte
			createdAt, updatedAt string
		)
		if err := rows.Scan(&rec.Key, &rec.Content, &rec.Context, &blob, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec.Namespace = ns
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		results = append(results, memory.SearchResult{
			Record: rec,
			Score:  memory.CosineSimilarity(embedding, decodeEmbedding(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get retrieves a record by key.
func (s *Store) Get(ctx context.Context, ns memory.Namespace, key string) (memory.Record, error) {
	var (
		createdAt, updatedAt string
		rec                  = memory.Record{Key: key, Namespace: ns}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content, context, created_at, updated_at
		FROM memories WHERE tag = ? AND user_id = ? AND key = ?
	`, ns.Tag, ns.UserID, key).Scan(&rec.Content, &rec.Context, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Record{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("get %s: %w", key, err)
	}

	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

// Count returns the number of records in the namespace.
func (s *Store) Count(ctx context.Context, ns memory.Namespace) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE tag = ? AND user_id = ?`,
		ns.Tag, ns.UserID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}
