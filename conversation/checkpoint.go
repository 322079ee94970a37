package conversation

import (
	"context"
	"sync"

	"github.com/becomeliminal/memory-agent/core"
)

// Checkpointer persists thread histories between turns.
type Checkpointer interface {
	// Load returns the saved state of a thread, or an empty state if the
	// thread has never been saved.
	Load(ctx context.Context, threadID string) (*State, error)
	Save(ctx context.Context, threadID string, state *State) error
	Close() error
}

// MemoryCheckpointer keeps thread histories in process memory.
type MemoryCheckpointer struct {
	mu      sync.RWMutex
	threads map[string][]core.Message
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{threads: make(map[string][]core.Message)}
}

func (c *MemoryCheckpointer) Load(ctx context.Context, threadID string) (*State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return NewState(c.threads[threadID]...), nil
}

func (c *MemoryCheckpointer) Save(ctx context.Context, threadID string, state *State) error {
	msgs := state.Messages()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[threadID] = msgs
	return nil
}

func (c *MemoryCheckpointer) Close() error { return nil }
