// Package config loads agentchat configuration from YAML.
//
// A configuration names one model client, one or more agents and, for more
// than one agent, a round-robin team. ${VAR} placeholders are replaced from
// the environment before parsing. The credential itself is never stored in
// the file: client.api_key_env names the environment variable holding it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/model"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in client.provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// DefaultAPIKeyEnv is read when client.api_key_env is empty.
const DefaultAPIKeyEnv = "GEMINI_API_KEY"

// Context policy types accepted in agents[].context.type.
const (
	ContextUnbounded    = "unbounded"
	ContextBuffered     = "buffered"
	ContextTokenLimited = "token_limited"
)

// Config is the root configuration.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Agents  []AgentConfig `yaml:"agents"`
	Team    *TeamConfig   `yaml:"team,omitempty"`
	Task    string        `yaml:"task"`
	Retry   RetryConfig   `yaml:"retry"`
	Logging LoggingConfig `yaml:"logging"`
	Console ConsoleConfig `yaml:"console"`
}

// ClientConfig describes the connection descriptor.
type ClientConfig struct {
	Provider     string              `yaml:"provider"`
	Model        string              `yaml:"model"`
	BaseURL      string              `yaml:"base_url"`
	APIKeyEnv    string              `yaml:"api_key_env"`
	Capabilities *model.Capabilities `yaml:"capabilities,omitempty"` // Nil keeps the provider default
	Temperature  *float64            `yaml:"temperature,omitempty"`
	MaxTokens    int64               `yaml:"max_tokens"`
}

// AgentConfig describes one assistant agent.
type AgentConfig struct {
	Name              string        `yaml:"name"`
	Description       string        `yaml:"description"`
	SystemMessage     string        `yaml:"system_message"`
	Tools             []string      `yaml:"tools"`
	Stream            bool          `yaml:"model_client_stream"`
	ReflectOnToolUse  bool          `yaml:"reflect_on_tool_use"`
	MaxToolIterations int           `yaml:"max_tool_iterations"`
	ToolParallelism   int           `yaml:"tool_parallelism"`
	JSONOutput        bool          `yaml:"json_output"`
	Context           ContextConfig `yaml:"context"`
}

// ContextConfig selects an agent's model context policy.
type ContextConfig struct {
	Type      string `yaml:"type"`
	Size      int    `yaml:"size"`       // buffered
	MaxTokens int    `yaml:"max_tokens"` // token_limited
}

// TeamConfig describes the round-robin team.
type TeamConfig struct {
	Type        string             `yaml:"type"`
	MaxTurns    int                `yaml:"max_turns"`
	Termination *TerminationConfig `yaml:"termination,omitempty"`
}

// TerminationConfig describes optional early-stop conditions. Set
// conditions are combined with Or.
type TerminationConfig struct {
	TextMention string   `yaml:"text_mention"`
	MaxMessages int      `yaml:"max_messages"`
	SourceMatch []string `yaml:"source_match"`
}

// RetryConfig configures the retry middleware around the model.
type RetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConsoleConfig configures the console renderer.
type ConsoleConfig struct {
	Stats bool `yaml:"stats"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads, parses and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates configuration YAML. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	expanded := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		if value, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return value
		}
		return match
	})

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, &core.ConfigError{Field: "config", Message: "failed to parse config YAML", Err: err}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Client.Provider == "" {
		c.Client.Provider = ProviderOpenAI
	}
	if c.Client.APIKeyEnv == "" && c.Client.Provider != ProviderOllama {
		c.Client.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.Team != nil && c.Team.Type == "" {
		c.Team.Type = "round_robin"
	}
	for i := range c.Agents {
		if c.Agents[i].Context.Type == "" {
			c.Agents[i].Context.Type = ContextUnbounded
		}
	}
	if c.Retry.Enabled && c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for structural errors. It does not
// read the credential.
func (c *Config) Validate() error {
	switch c.Client.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama:
	default:
		return core.NewConfigError("client.provider", fmt.Sprintf("unknown provider %q", c.Client.Provider))
	}

	if len(c.Agents) == 0 {
		return core.NewConfigError("agents", "at least one agent is required")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		if strings.TrimSpace(a.Name) == "" {
			return core.NewConfigError(field+".name", "must not be empty")
		}
		if _, dup := seen[a.Name]; dup {
			return core.NewConfigError(field+".name", fmt.Sprintf("duplicate agent name %q", a.Name))
		}
		seen[a.Name] = struct{}{}

		switch a.Context.Type {
		case ContextUnbounded:
		case ContextBuffered:
			if a.Context.Size <= 0 {
				return core.NewConfigError(field+".context.size", "must be positive for a buffered context")
			}
		case ContextTokenLimited:
			if a.Context.MaxTokens <= 0 {
				return core.NewConfigError(field+".context.max_tokens", "must be positive for a token limited context")
			}
		default:
			return core.NewConfigError(field+".context.type", fmt.Sprintf("unknown context type %q", a.Context.Type))
		}
		if a.MaxToolIterations < 0 {
			return core.NewConfigError(field+".max_tool_iterations", "must not be negative")
		}
	}

	if len(c.Agents) > 1 && c.Team == nil {
		return core.NewConfigError("team", "a team is required for more than one agent")
	}
	if c.Team != nil {
		if c.Team.Type != "round_robin" {
			return core.NewConfigError("team.type", fmt.Sprintf("unknown team type %q", c.Team.Type))
		}
		if c.Team.MaxTurns < 0 {
			return core.NewConfigError("team.max_turns", "must not be negative")
		}
		if c.Team.MaxTurns == 0 && c.Team.Termination == nil {
			return core.NewConfigError("team.max_turns", "a positive max turns or a termination condition is required")
		}
	}

	if c.Retry.Enabled && c.Retry.MaxAttempts < 1 {
		return core.NewConfigError("retry.max_attempts", "must be positive")
	}
	return nil
}

// APIKey reads the credential from the environment variable named by
// api_key_env. A missing or empty variable is a *core.ConfigError wrapping
// core.ErrMissingCredential. Ollama needs no credential and yields "".
func (c *ClientConfig) APIKey() (string, error) {
	if c.Provider == ProviderOllama && c.APIKeyEnv == "" {
		return "", nil
	}
	name := c.APIKeyEnv
	if name == "" {
		name = DefaultAPIKeyEnv
	}
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", &core.ConfigError{
			Field:   "client.api_key_env",
			Message: fmt.Sprintf("environment variable %s is not set", name),
			Err:     core.ErrMissingCredential,
		}
	}
	return value, nil
}

// ErrUnknownPreset is returned by Preset for an unknown name.
var ErrUnknownPreset = errors.New("config: unknown preset")
