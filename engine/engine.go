// Package engine runs the memory agent's two-step loop: generate a reply
// with recalled memories in the system prompt, then persist any memories the
// model asked to save and generate again.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/memory-agent/config"
	"github.com/becomeliminal/memory-agent/conversation"
	"github.com/becomeliminal/memory-agent/core"
	"github.com/becomeliminal/memory-agent/llm"
	"github.com/becomeliminal/memory-agent/memory"
	"github.com/becomeliminal/memory-agent/tools"
)

var (
	// ErrMaxIterations is returned when a turn keeps requesting tool calls
	// past the configured number of generate steps.
	ErrMaxIterations = errors.New("exceeded maximum generate steps")

	// ErrUnknownTool is returned when the model calls a tool that was not offered.
	ErrUnknownTool = errors.New("unknown tool")
)

const (
	// DefaultMaxIterations bounds the generate steps of one turn.
	DefaultMaxIterations = 20

	// RetrievalWindow is how many trailing messages form the memory query.
	RetrievalWindow = 3

	// RetrievalLimit is the number of memories recalled per generate step.
	RetrievalLimit = 10
)

// Step names a node of the turn state machine.
type Step string

const (
	StepGenerate Step = "generate"
	StepPersist  Step = "persist"
	StepEnd      Step = "end"
)

// Memory is the part of memory.Manager the engine needs.
type Memory interface {
	Search(ctx context.Context, ns memory.Namespace, query string, limit int) ([]memory.SearchResult, error)
	Save(ctx context.Context, ns memory.Namespace, key string, content string, memContext string) (memory.Record, error)
}

// Engine drives turns against a memory backend and a set of chat models.
type Engine struct {
	memory        Memory
	models        llm.Resolver
	maxIterations int
	now           func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithMaxIterations bounds the generate steps per turn. Zero or less means
// unbounded.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		e.maxIterations = n
	}
}

// WithClock overrides the time source used for the prompt timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine.
func New(mem Memory, models llm.Resolver, opts ...Option) *Engine {
	e := &Engine{
		memory:        mem,
		models:        models,
		maxIterations: DefaultMaxIterations,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result summarises a completed turn.
type Result struct {
	// Reply is the content of the final assistant message.
	Reply string

	// Steps is the number of generate steps taken.
	Steps int

	// RecordsWritten counts memory upserts across all persist steps.
	RecordsWritten int
}

// SelectNextStep routes to persist when the last message requests tool
// calls and ends the turn otherwise.
func SelectNextStep(state *conversation.State) Step {
	last, ok := state.Last()
	if ok && last.HasToolCalls() {
		return StepPersist
	}
	return StepEnd
}

// Run executes one turn on state, which should already end with the new
// user message. On error the history holds every step that completed.
func (e *Engine) Run(ctx context.Context, state *conversation.State, cfg *config.AgentConfig) (*Result, error) {
	res := &Result{}
	step := StepGenerate

	for step != StepEnd {
		switch step {
		case StepGenerate:
			if e.maxIterations > 0 && res.Steps >= e.maxIterations {
				log.Printf("[ENGINE] Turn for %s stopped after %d generate steps", cfg.UserID(), res.Steps)
				return nil, fmt.Errorf("%w (%d)", ErrMaxIterations, e.maxIterations)
			}
			if err := e.Generate(ctx, state, cfg); err != nil {
				return nil, err
			}
			res.Steps++
			step = SelectNextStep(state)

		case StepPersist:
			last, _ := state.Last()
			if err := e.Persist(ctx, state, cfg); err != nil {
				return nil, err
			}
			res.RecordsWritten += len(last.ToolCalls)
			step = StepGenerate
		}
	}

	if last, ok := state.Last(); ok {
		res.Reply = last.Content
	}
	config.Debugf("[ENGINE] Turn for %s finished: %d steps, %d records written", cfg.UserID(), res.Steps, res.RecordsWritten)
	return res, nil
}

// Generate recalls memories relevant to the recent conversation, renders the
// system prompt, invokes the configured model and appends its reply.
func (e *Engine) Generate(ctx context.Context, state *conversation.State, cfg *config.AgentConfig) error {
	ns := memory.UserNamespace(cfg.UserID())

	query := RetrievalQuery(state.Tail(RetrievalWindow))
	recalled, err := e.memory.Search(ctx, ns, query, RetrievalLimit)
	if err != nil {
		return fmt.Errorf("search memories: %w", err)
	}

	system := RenderSystemPrompt(cfg.SystemPrompt(), memory.FormatResults(recalled), e.now())

	model, err := e.models.Resolve(cfg.Model())
	if err != nil {
		return fmt.Errorf("resolve model: %w", err)
	}

	history := state.Messages()
	messages := make([]core.Message, 0, len(history)+1)
	messages = append(messages, core.NewSystemMessage(system))
	messages = append(messages, history...)

	reply, err := model.Invoke(ctx, messages, []tools.Definition{tools.SaveMemoryDefinition})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", cfg.Model(), err)
	}
	if reply.Role == "" {
		reply.Role = core.RoleAssistant
	}

	state.Append(reply)
	config.Debugf("[ENGINE] Generated reply with %d memories in context, %d tool calls", len(recalled), len(reply.ToolCalls))
	return nil
}

// Persist executes the tool calls of the last message concurrently. Results
// are appended in call order, each linked to its call ID. If any call fails
// the remaining writes are cancelled and nothing is appended.
func (e *Engine) Persist(ctx context.Context, state *conversation.State, cfg *config.AgentConfig) error {
	last, ok := state.Last()
	if !ok || !last.HasToolCalls() {
		return nil
	}

	ns := memory.UserNamespace(cfg.UserID())
	results := make([]core.Message, len(last.ToolCalls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range last.ToolCalls {
		g.Go(func() error {
			key, err := e.saveMemory(gctx, ns, call)
			if err != nil {
				return fmt.Errorf("tool call %s: %w", call.ID, err)
			}
			results[i] = core.NewToolMessage(call.ID, "Stored memory "+key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("persist memories: %w", err)
	}

	state.Append(results...)
	log.Printf("[ENGINE] Persisted %d memories for %s", len(results), cfg.UserID())
	return nil
}

// saveMemory validates one save_memory_record call and upserts it. The key
// is the supplied record_id or a fresh UUID.
func (e *Engine) saveMemory(ctx context.Context, ns memory.Namespace, call core.ToolCall) (string, error) {
	if call.Name != tools.SaveMemoryToolName {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	in, err := tools.ParseSaveMemoryInput(call.Arguments)
	if err != nil {
		return "", err
	}

	key := in.RecordID
	if key == "" {
		key = uuid.NewString()
	}

	if _, err := e.memory.Save(ctx, ns, key, in.Content, in.Context); err != nil {
		return "", err
	}
	return key, nil
}
