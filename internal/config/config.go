// Package config loads lookout configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides, e.g. LOOKOUT_MODEL.
const EnvPrefix = "LOOKOUT"

// Config holds all configuration for the application
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Retriever  RetrieverConfig  `yaml:"retriever"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Server     ServerConfig     `yaml:"server"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Audit      AuditConfig      `yaml:"audit"`

	// Env carries secrets and deployment overrides. It is never written
	// back to the YAML file.
	Env Environment `yaml:"-"`
}

// ModelConfig selects the LLM backing every supervisor and worker.
type ModelConfig struct {
	// Provider is anthropic, azure-foundry, gemini or mock. Empty means
	// derive it from the model name.
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// GraphCacheSize bounds how many model-specific graphs are kept built.
	GraphCacheSize int `yaml:"graph_cache_size"`
}

// GatewayConfig describes how to reach the remote tool server.
type GatewayConfig struct {
	// Transport is stdio or http.
	Transport string   `yaml:"transport"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	URL       string   `yaml:"url"`
	// Disabled runs without remote tools; fetchers then only have the
	// documentation lookup.
	Disabled bool `yaml:"disabled"`
}

// RetrieverConfig configures the documentation index.
type RetrieverConfig struct {
	RulesDir       string `yaml:"rules_dir"`
	IndexPath      string `yaml:"index_path"`
	TopK           int    `yaml:"top_k"`
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	Embedder       string `yaml:"embedder"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// CheckpointConfig selects the conversation store backend.
type CheckpointConfig struct {
	// Backend is memory or sqlite.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// SupervisorConfig bounds routing and worker loops.
type SupervisorConfig struct {
	MaxHops           int `yaml:"max_hops"`
	FetcherToolRounds int `yaml:"fetcher_tool_rounds"`
	// AnalystDocLookups of 0 turns documentation lookups off.
	AnalystDocLookups int `yaml:"analyst_doc_lookups"`
}

// GuardrailsConfig lists input terms that are rejected before a turn runs.
type GuardrailsConfig struct {
	BlockedTerms []string `yaml:"blocked_terms"`
}

// ServerConfig configures `lookout serve`.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MCPEndpoint string `yaml:"mcp_endpoint"`
	Metrics     bool   `yaml:"metrics"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	TLSCAPath   string `yaml:"tls_ca_path"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

// AuditConfig configures the per-session JSONL audit log.
type AuditConfig struct {
	Dir string `yaml:"dir"`
}

// Environment holds values read from the process environment. Each field
// is looked up as LOOKOUT_<NAME> first and then as the bare name.
type Environment struct {
	Model                  string `envconfig:"MODEL"`
	AnthropicAPIKey        string `envconfig:"ANTHROPIC_API_KEY"`
	AzureFoundryEndpoint   string `envconfig:"AZURE_FOUNDRY_ENDPOINT"`
	AzureFoundryAPIKey     string `envconfig:"AZURE_FOUNDRY_API_KEY"`
	GeminiAPIKey           string `envconfig:"GEMINI_API_KEY"`
	DynatraceEnvironment   string `envconfig:"DT_ENVIRONMENT"`
	DynatracePlatformToken string `envconfig:"DT_PLATFORM_TOKEN"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".lookout")

	return &Config{
		Model: ModelConfig{
			Name:           "claude-sonnet-4-5-20250929",
			MaxTokens:      4096,
			GraphCacheSize: 4,
		},
		Gateway: GatewayConfig{
			Transport: "stdio",
			Command:   "npx",
			Args:      []string{"-y", "@dynatrace-oss/dynatrace-mcp-server@latest"},
		},
		Retriever: RetrieverConfig{
			RulesDir:       "dynatrace_rules",
			IndexPath:      filepath.Join(base, "rules_index.db"),
			TopK:           4,
			ChunkSize:      1200,
			ChunkOverlap:   100,
			Embedder:       "hash",
			EmbeddingModel: "text-embedding-004",
		},
		Checkpoint: CheckpointConfig{
			Backend: "memory",
			Path:    filepath.Join(base, "checkpoints.db"),
		},
		Supervisor: SupervisorConfig{
			MaxHops:           50,
			FetcherToolRounds: 6,
			AnalystDocLookups: 2,
		},
		Server: ServerConfig{
			Addr:        ":8089",
			MCPEndpoint: "/mcp",
			Metrics:     true,
		},
		Audit: AuditConfig{
			Dir: filepath.Join(base, "sessions"),
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
		}
		if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
			return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg.Env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Env.Model != "" {
		c.Model.Name = c.Env.Model
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model.Name) == "" {
		return NewConfigError("model.name must not be empty")
	}
	if c.Model.MaxTokens < 1 {
		return NewConfigError("model.max_tokens must be at least 1")
	}
	if c.Model.GraphCacheSize < 1 {
		return NewConfigError("model.graph_cache_size must be at least 1")
	}

	switch c.Gateway.Transport {
	case "stdio":
		if !c.Gateway.Disabled && c.Gateway.Command == "" {
			return NewConfigError("gateway.command must be set for the stdio transport")
		}
	case "http":
		if !c.Gateway.Disabled && c.Gateway.URL == "" {
			return NewConfigError("gateway.url must be set for the http transport")
		}
	default:
		return NewConfigError(fmt.Sprintf("gateway.transport %q is not supported (stdio, http)", c.Gateway.Transport))
	}

	if c.Retriever.TopK < 1 {
		return NewConfigError("retriever.top_k must be at least 1")
	}
	if c.Retriever.ChunkSize < 1 {
		return NewConfigError("retriever.chunk_size must be at least 1")
	}
	if c.Retriever.ChunkOverlap < 0 || c.Retriever.ChunkOverlap >= c.Retriever.ChunkSize {
		return NewConfigError("retriever.chunk_overlap must be between 0 and chunk_size")
	}
	if c.Retriever.Embedder != "hash" && c.Retriever.Embedder != "genai" {
		return NewConfigError(fmt.Sprintf("retriever.embedder %q is not supported (hash, genai)", c.Retriever.Embedder))
	}

	switch c.Checkpoint.Backend {
	case "memory":
	case "sqlite":
		if c.Checkpoint.Path == "" {
			return NewConfigError("checkpoint.path must be set for the sqlite backend")
		}
	default:
		return NewConfigError(fmt.Sprintf("checkpoint.backend %q is not supported (memory, sqlite)", c.Checkpoint.Backend))
	}

	if c.Supervisor.MaxHops < 1 {
		return NewConfigError("supervisor.max_hops must be at least 1")
	}
	if c.Supervisor.FetcherToolRounds < 1 {
		return NewConfigError("supervisor.fetcher_tool_rounds must be at least 1")
	}
	if c.Supervisor.AnalystDocLookups < 0 {
		return NewConfigError("supervisor.analyst_doc_lookups must not be negative")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
