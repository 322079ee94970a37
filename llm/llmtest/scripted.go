// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/becomeliminal/memory-agent/core"
	"github.com/becomeliminal/memory-agent/llm"
	"github.com/becomeliminal/memory-agent/tools"
)

// ErrExhausted is returned once every scripted response has been consumed.
var ErrExhausted = errors.New("llmtest: no scripted responses left")

// Request is one recorded Invoke call.
type Request struct {
	Selector string
	Messages []core.Message
	Tools    []tools.Definition
}

// Response is a scripted reply. A non-nil Err is returned instead of Message.
type Response struct {
	Message core.Message
	Err     error
}

// Scripted replays queued responses in order and records every request.
// It satisfies both llm.Resolver and llm.ChatModel; Resolve returns a view
// that remembers the selector it was resolved with.
type Scripted struct {
	mu        sync.Mutex
	responses []Response
	requests  []Request
	// Repeat, when set, is returned after the queue runs dry.
	Repeat *Response
}

var (
	_ llm.Resolver  = (*Scripted)(nil)
	_ llm.ChatModel = (*Scripted)(nil)
)

// New queues the given assistant messages.
func New(msgs ...core.Message) *Scripted {
	s := &Scripted{}
	for _, m := range msgs {
		s.Push(m)
	}
	return s
}

// Push queues one assistant message.
func (s *Scripted) Push(m core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, Response{Message: m})
}

// PushError queues a failure.
func (s *Scripted) PushError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, Response{Err: err})
}

// Resolve accepts any selector.
func (s *Scripted) Resolve(selector string) (llm.ChatModel, error) {
	return &resolved{s: s, selector: selector}, nil
}

// Invoke pops the next scripted response.
func (s *Scripted) Invoke(ctx context.Context, messages []core.Message, available []tools.Definition) (core.Message, error) {
	return s.invoke(ctx, "", messages, available)
}

// Requests returns a copy of the recorded requests.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Remaining returns the number of queued responses not yet consumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}

func (s *Scripted) invoke(ctx context.Context, selector string, messages []core.Message, available []tools.Definition) (core.Message, error) {
	if err := ctx.Err(); err != nil {
		return core.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]core.Message, len(messages))
	copy(snapshot, messages)
	s.requests = append(s.requests, Request{Selector: selector, Messages: snapshot, Tools: available})

	if len(s.responses) == 0 {
		if s.Repeat != nil {
			return s.Repeat.Message, s.Repeat.Err
		}
		return core.Message{}, ErrExhausted
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next.Message, next.Err
}

type resolved struct {
	s        *Scripted
	selector string
}

func (r *resolved) Invoke(ctx context.Context, messages []core.Message, available []tools.Definition) (core.Message, error) {
	return r.s.invoke(ctx, r.selector, messages, available)
}
