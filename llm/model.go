// Package llm invokes chat models. A model is addressed by a
// provider/model-name selector and resolved through a Registry of providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/becomeliminal/memory-agent/config"
	"github.com/becomeliminal/memory-agent/core"
	"github.com/becomeliminal/memory-agent/tools"
)

// ErrUnknownProvider is returned when no provider is registered for a selector.
var ErrUnknownProvider = errors.New("unknown model provider")

// ChatModel is the interface every provider implements.
type ChatModel interface {
	// Invoke sends the conversation and the tools the model may call, and
	// returns the assistant message. The message carries zero or more tool
	// calls, each with a provider-assigned ID.
	Invoke(ctx context.Context, messages []core.Message, available []tools.Definition) (core.Message, error)
}

// Resolver turns a model selector into a ChatModel.
type Resolver interface {
	Resolve(selector string) (ChatModel, error)
}

// Factory builds a model for a provider given the model name.
type Factory func(modelName string) (ChatModel, error)

// Registry routes selectors to provider factories.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Factory // provider name → factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Factory)}
}

// Register adds or replaces the factory for a provider name.
func (r *Registry) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider] = f
}

// Providers returns the registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Resolve splits the selector and builds the model from its provider.
func (r *Registry) Resolve(selector string) (ChatModel, error) {
	provider, name, err := config.ParseModel(selector)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	f, ok := r.providers[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q in %q", ErrUnknownProvider, provider, selector)
	}

	m, err := f(name)
	if err != nil {
		return nil, fmt.Errorf("create %s model %s: %w", provider, name, err)
	}
	return m, nil
}
