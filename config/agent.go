// Package config holds agent configuration: the per-conversation AgentConfig
// resolved from explicit values and the environment, and the service-level
// Settings loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// DefaultUserID is used when no user is given explicitly or via USER_ID.
	DefaultUserID = "default"

	// DefaultModel is the model selector in provider/model-name form.
	DefaultModel = "anthropic/claude-sonnet-4-5-20250929"
)

// DefaultSystemPrompt is the base prompt. {user_info} receives the retrieved
// memory block and {time} the current timestamp.
const DefaultSystemPrompt = "You are a helpful and friendly chatbot. Get to know the user! " +
	"Ask questions! Be spontaneous! \n{user_info}\n\nSystem Time: {time}"

// ErrInvalidModel is returned for selectors not in provider/model-name form.
var ErrInvalidModel = errors.New("invalid model selector")

// AgentConfig identifies the user and the model for one conversation.
// It is immutable once built by NewAgentConfig.
type AgentConfig struct {
	userID       string
	model        string
	systemPrompt string
}

// Option sets an explicit AgentConfig value.
type Option func(*AgentConfig)

// WithUserID sets the user whose memories are read and written.
func WithUserID(id string) Option {
	return func(c *AgentConfig) {
		c.userID = id
	}
}

// WithModel sets the model selector (provider/model-name).
func WithModel(model string) Option {
	return func(c *AgentConfig) {
		c.model = model
	}
}

// WithSystemPrompt sets the system prompt template.
func WithSystemPrompt(prompt string) Option {
	return func(c *AgentConfig) {
		c.systemPrompt = prompt
	}
}

// envBinding maps one field to the environment variable that may override it.
type envBinding struct {
	key   string
	def   string
	field func(*AgentConfig) *string
}

var envBindings = []envBinding{
	{key: "USER_ID", def: DefaultUserID, field: func(c *AgentConfig) *string { return &c.userID }},
	{key: "MODEL", def: DefaultModel, field: func(c *AgentConfig) *string { return &c.model }},
	{key: "SYSTEM_PROMPT", def: DefaultSystemPrompt, field: func(c *AgentConfig) *string { return &c.systemPrompt }},
}

// NewAgentConfig applies opts over the defaults, then replaces every field
// still holding its default with the matching environment variable, if set.
// Explicit non-default values always win over the environment.
func NewAgentConfig(opts ...Option) *AgentConfig {
	c := &AgentConfig{
		userID:       DefaultUserID,
		model:        DefaultModel,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resolve(os.LookupEnv)
	return c
}

func (c *AgentConfig) resolve(lookup func(string) (string, bool)) {
	for _, b := range envBindings {
		p := b.field(c)
		if *p != b.def {
			continue
		}
		if v, ok := lookup(b.key); ok {
			*p = v
		}
	}
}

// ForUser returns a copy of c for another user. The id is taken as given,
// without environment resolution.
func (c *AgentConfig) ForUser(id string) *AgentConfig {
	cp := *c
	cp.userID = id
	return &cp
}

// UserID returns the resolved user identifier.
func (c *AgentConfig) UserID() string { return c.userID }

// Model returns the resolved model selector.
func (c *AgentConfig) Model() string { return c.model }

// SystemPrompt returns the resolved system prompt template.
func (c *AgentConfig) SystemPrompt() string { return c.systemPrompt }

// String implements fmt.Stringer without dumping the prompt.
func (c *AgentConfig) String() string {
	return fmt.Sprintf("AgentConfig{user=%q model=%q}", c.userID, c.model)
}

// ParseModel splits a provider/model-name selector. Only the first slash
// separates the two, so model names may themselves contain slashes.
func ParseModel(selector string) (provider string, name string, err error) {
	provider, name, ok := strings.Cut(selector, "/")
	if !ok || provider == "" || name == "" {
		return "", "", fmt.Errorf("%w: %q (want provider/model-name)", ErrInvalidModel, selector)
	}
	return provider, name, nil
}
