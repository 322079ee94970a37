package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SettingsEnv names the environment variable pointing at a settings file.
const SettingsEnv = "MEMORY_AGENT_CONFIG"

// Settings holds service-level configuration for the CLI and server.
type Settings struct {
	Listen         ListenSettings   `yaml:"listen"`
	Store          StoreSettings    `yaml:"store"`
	Embedder       EmbedderSettings `yaml:"embedder"`
	Anthropic      AnthropicConfig  `yaml:"anthropic"`
	Ollama         OllamaConfig     `yaml:"ollama"`
	CheckpointPath string           `yaml:"checkpoint_path"` // Empty keeps threads in memory
	MaxIterations  int              `yaml:"max_iterations"`  // Generate steps per turn, 0 = unbounded
	LogLevel       string           `yaml:"log_level"`
}

// ListenSettings defines the server bind addresses.
type ListenSettings struct {
	Address  string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"` // 0 disables the gRPC health service
}

// StoreSettings selects the memory store backend.
type StoreSettings struct {
	// Backend is "chromem" (default) or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the persistence location. For chromem an empty path keeps
	// everything in memory; sqlite requires a path.
	Path string `yaml:"path"`
	// Compress enables gzip for persistent chromem collections.
	Compress bool `yaml:"compress"`
}

// EmbedderSettings selects how text is turned into vectors.
type EmbedderSettings struct {
	// Kind is "mock" (default), "ollama" or "onnx".
	Kind          string `yaml:"kind"`
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	Dimensions    int    `yaml:"dimensions"`
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
	// CacheSize bounds the embedding cache (entries). 0 disables caching.
	CacheSize int64 `yaml:"cache_size"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"` // Falls back to ANTHROPIC_API_KEY
	BaseURL   string `yaml:"base_url"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// OllamaConfig defines the Ollama chat endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// DefaultSettings returns the settings used when no file is present.
func DefaultSettings() *Settings {
	s := newSettings()
	s.applyDefaults()
	return s
}

// LoadSettings reads a YAML settings file. An empty path yields defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	s := newSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.applyDefaults()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// newSettings presets fields whose zero value is meaningful, so an explicit
// zero in the file survives unmarshalling.
func newSettings() *Settings {
	return &Settings{MaxIterations: 20}
}

func (s *Settings) applyDefaults() {
	if s.Listen.Port == 0 {
		s.Listen.Port = 8080
	}
	if s.Store.Backend == "" {
		s.Store.Backend = "chromem"
	}
	if s.Embedder.Kind == "" {
		s.Embedder.Kind = "mock"
	}
	if s.Embedder.Dimensions == 0 {
		s.Embedder.Dimensions = 384
	}
	if s.Anthropic.MaxTokens == 0 {
		s.Anthropic.MaxTokens = 4096
	}
	if s.Ollama.URL == "" {
		s.Ollama.URL = "http://localhost:11434"
	}
}

// Validate checks settings that cannot be defaulted.
func (s *Settings) Validate() error {
	switch s.Store.Backend {
	case "chromem":
	case "sqlite":
		if s.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q (valid: chromem, sqlite)", s.Store.Backend)
	}

	switch s.Embedder.Kind {
	case "mock", "ollama":
	case "onnx":
		if s.Embedder.ModelPath == "" {
			return fmt.Errorf("embedder.model_path is required for the onnx embedder")
		}
	default:
		return fmt.Errorf("unknown embedder.kind %q (valid: mock, ollama, onnx)", s.Embedder.Kind)
	}

	if s.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must not be negative")
	}
	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

// ListenAddr returns the HTTP bind address.
func (s *Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Listen.Address, s.Listen.Port)
}

// GRPCAddr returns the gRPC bind address, or "" when disabled.
func (s *Settings) GRPCAddr() string {
	if s.Listen.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Listen.Address, s.Listen.GRPCPort)
}
