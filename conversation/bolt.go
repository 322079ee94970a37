package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/becomeliminal/memory-agent/core"
)

var threadsBucket = []byte("threads")

// BoltCheckpointer stores each thread as a JSON array of messages in a
// single BoltDB file.
type BoltCheckpointer struct {
	db *bolt.DB
}

// OpenBolt opens or creates the checkpoint database at path.
func OpenBolt(path string) (*BoltCheckpointer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(threadsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create threads bucket: %w", err)
	}
	log.Printf("[CHECKPOINT] Opened %s", path)
	return &BoltCheckpointer{db: db}, nil
}

func (c *BoltCheckpointer) Load(ctx context.Context, threadID string) (*State, error) {
	var msgs []core.Message
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(threadsBucket).Get([]byte(threadID))
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, &msgs)
	})
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	return NewState(msgs...), nil
}

func (c *BoltCheckpointer) Save(ctx context.Context, threadID string, state *State) error {
	enc, err := json.Marshal(state.Messages())
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", threadID, err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(threadsBucket).Put([]byte(threadID), enc)
	})
	if err != nil {
		return fmt.Errorf("save thread %s: %w", threadID, err)
	}
	return nil
}

// Close releases the database file lock.
func (c *BoltCheckpointer) Close() error {
	return c.db.Close()
}
