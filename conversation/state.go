// Package conversation holds the append-only message history of a thread
// and the checkpointers that persist it between turns.
package conversation

import (
	"sync"

	"github.com/becomeliminal/memory-agent/core"
)

// State is the ordered message history of one thread. Messages are only
// ever appended.
type State struct {
	mu       sync.RWMutex
	messages []core.Message
}

// NewState creates a state seeded with the given messages.
func NewState(seed ...core.Message) *State {
	s := &State{}
	s.messages = append(s.messages, seed...)
	return s
}

// Append adds messages to the end of the history.
func (s *State) Append(msgs ...core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the full history.
func (s *State) Messages() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Last returns the most recent message.
func (s *State) Last() (core.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return core.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Tail returns a copy of the last n messages, or all of them when fewer exist.
func (s *State) Tail(n int) []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := len(s.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]core.Message, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out
}

// Len returns the number of messages.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
