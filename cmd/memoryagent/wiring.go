package main

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/memory-agent/config"
	"github.com/becomeliminal/memory-agent/conversation"
	"github.com/becomeliminal/memory-agent/engine"
	"github.com/becomeliminal/memory-agent/llm"
	"github.com/becomeliminal/memory-agent/memory"
	"github.com/becomeliminal/memory-agent/memory/embedder/cached"
	"github.com/becomeliminal/memory-agent/memory/embedder/mock"
	"github.com/becomeliminal/memory-agent/memory/embedder/ollama"
	"github.com/becomeliminal/memory-agent/memory/store/chromem"
	"github.com/becomeliminal/memory-agent/memory/store/sqlite"
)

// agentEnv bundles everything a command needs and releases it on close.
type agentEnv struct {
	settings     *config.Settings
	manager      *memory.Manager
	models       llm.Resolver
	engine       *engine.Engine
	checkpointer conversation.Checkpointer

	closers []func() error
}

// openAgent wires the store, embedder, model providers, engine and
// checkpointer described by settings.
func openAgent(settings *config.Settings) (*agentEnv, error) {
	env := &agentEnv{settings: settings}

	store, err := buildStore(settings.Store)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, store.Close)

	embedder, closeEmbedder, err := buildEmbedder(settings)
	if err != nil {
		env.close()
		return nil, err
	}
	if closeEmbedder != nil {
		env.closers = append(env.closers, closeEmbedder)
	}

	env.manager = memory.NewManager(store, embedder, nil)
	env.models = buildRegistry(settings)

	if settings.CheckpointPath != "" {
		ckpt, err := conversation.OpenBolt(settings.CheckpointPath)
		if err != nil {
			env.close()
			return nil, err
		}
		env.checkpointer = ckpt
	} else {
		env.checkpointer = conversation.NewMemoryCheckpointer()
	}
	env.closers = append(env.closers, env.checkpointer.Close)

	env.engine = engine.New(env.manager, env.models, engine.WithMaxIterations(settings.MaxIterations))

	log.Printf("[MEMORY] Memory system configured (%s + %s)", settings.Store.Backend, settings.Embedder.Kind)
	return env, nil
}

// close releases resources in reverse order of acquisition.
func (e *agentEnv) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func buildStore(s config.StoreSettings) (memory.Store, error) {
	switch s.Backend {
	case "", "chromem":
		if s.Path == "" {
			return chromem.New()
		}
		return chromem.NewPersistent(s.Path, s.Compress)
	case "sqlite":
		return sqlite.New(s.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.Backend)
	}
}

// buildEmbedder returns the configured embedder, wrapped in a cache when
// embedder.cache_size is set, and an optional close function.
func buildEmbedder(settings *config.Settings) (memory.Embedder, func() error, error) {
	s := settings.Embedder

	var (
		inner   memory.Embedder
		closeFn func() error
		err     error
	)
	switch s.Kind {
	case "", "mock":
		inner = mock.NewWithDimensions(s.Dimensions)
	case "ollama":
		baseURL := s.BaseURL
		if baseURL == "" {
			baseURL = strings.TrimSuffix(settings.Ollama.URL, "/") + "/api"
		}
		inner = ollama.New(ollama.Config{BaseURL: baseURL, Model: s.Model, Dimensions: s.Dimensions})
	case "onnx":
		inner, closeFn, err = newONNXEmbedder(s)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown embedder kind %q", s.Kind)
	}

	if s.CacheSize <= 0 {
		return inner, closeFn, nil
	}

	c, err := cached.New(inner, s.CacheSize)
	if err != nil {
		if closeFn != nil {
			_ = closeFn()
		}
		return nil, nil, err
	}
	return c, func() error {
		c.Close()
		if closeFn != nil {
			return closeFn()
		}
		return nil
	}, nil
}

// buildRegistry registers the anthropic and ollama providers.
func buildRegistry(settings *config.Settings) *llm.Registry {
	var opts []option.RequestOption
	if settings.Anthropic.APIKey != "" {
		opts = append(opts, option.WithAPIKey(settings.Anthropic.APIKey))
	}
	if settings.Anthropic.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.Anthropic.BaseURL))
	}

	reg := llm.NewRegistry()
	reg.Register("anthropic", llm.AnthropicFactory(llm.NewAnthropicClient(opts...), settings.Anthropic.MaxTokens))
	reg.Register("ollama", llm.OllamaFactory(llm.NewOllamaClient(settings.Ollama.URL)))
	return reg
}
