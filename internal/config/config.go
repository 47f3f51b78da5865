// Package config loads and validates the engine's YAML configuration:
// MCP server definitions, connection mode, provider credentials and the
// agent loop tunables.
package config

import (
	"fmt"
	"time"

	"github.com/cadenza-ai/cadenza/internal/mcp"
)

// ConnectionMode names the MCP startup failure policy.
type ConnectionMode string

const (
	// ConnectionModeStrict requires every configured server to connect.
	ConnectionModeStrict ConnectionMode = "strict"

	// ConnectionModeLenient requires at least one successful connection
	// when any servers are configured.
	ConnectionModeLenient ConnectionMode = "lenient"
)

// Config is the root configuration document.
type Config struct {
	// Servers maps server name to MCP connection settings.
	Servers map[string]mcp.ServerConfig `yaml:"servers"`

	// ConnectionMode controls startup failure handling. Default lenient.
	ConnectionMode ConnectionMode `yaml:"connectionMode"`

	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ProvidersConfig holds LLM provider credentials and defaults.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`

	// Default selects which provider drives sessions when both are
	// configured: "anthropic" or "openai".
	Default string `yaml:"default"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
}

type OpenAIConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// AgentConfig tunes the run loop.
type AgentConfig struct {
	// MaxSteps bounds LLM round trips per run.
	MaxSteps int `yaml:"maxSteps"`

	MaxTokens int `yaml:"maxTokens"`

	// SystemPrompt is prepended to every run.
	SystemPrompt string `yaml:"systemPrompt"`

	EnableThinking bool `yaml:"enableThinking"`

	// ApprovalTimeout bounds how long a gated tool call waits for a
	// decision before resolving as cancelled.
	ApprovalTimeout time.Duration `yaml:"approvalTimeout"`

	// QueueLimit caps messages queued per session during an active run.
	QueueLimit int `yaml:"queueLimit"`

	// HistoryLimit caps conversation history length before compaction.
	// Zero disables compaction.
	HistoryLimit int `yaml:"historyLimit"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default info.
	Level string `yaml:"level"`

	// Format is "text" or "json". Default text.
	Format string `yaml:"format"`
}

// Default returns a config with all defaults applied and no servers.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ConnectionMode == "" {
		c.ConnectionMode = ConnectionModeLenient
	}
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = 8
	}
	if c.Agent.ApprovalTimeout <= 0 {
		c.Agent.ApprovalTimeout = 2 * time.Minute
	}
	if c.Agent.QueueLimit <= 0 {
		c.Agent.QueueLimit = 16
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the document for structural problems. Server configs
// validate individually so one bad server names itself in the error.
func (c *Config) Validate() error {
	switch c.ConnectionMode {
	case ConnectionModeStrict, ConnectionModeLenient:
	default:
		return fmt.Errorf("invalid connectionMode %q (want strict or lenient)", c.ConnectionMode)
	}

	switch c.Providers.Default {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("invalid default provider %q (want anthropic or openai)", c.Providers.Default)
	}

	for name, server := range c.Servers {
		if err := server.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}

	return nil
}

// RegistryMode maps the configured mode onto the registry's enum.
func (c *Config) RegistryMode() mcp.ConnectionMode {
	if c.ConnectionMode == ConnectionModeStrict {
		return mcp.ConnectionStrict
	}
	return mcp.ConnectionLenient
}
