// Package config loads and validates the engine's YAML configuration:
// gateway credentials, runner tuning, session persistence, observability,
// and the agent roster.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Runner   RunnerConfig   `yaml:"runner"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Agents   []AgentConfig  `yaml:"agents"`

	// EntryAgent names the agent that receives the run input.
	EntryAgent string `yaml:"entry_agent"`
}

// GatewayConfig selects and configures the model backend.
type GatewayConfig struct {
	// Provider is "anthropic", "openai", or "scripted".
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// RunnerConfig tunes the execution loop.
type RunnerConfig struct {
	// GuardrailRetryBudget is the consecutive directive retries allowed per
	// output check.
	GuardrailRetryBudget int `yaml:"guardrail_retry_budget"`

	// MaxConcurrency caps simultaneously executing tool calls per run.
	MaxConcurrency int `yaml:"max_concurrency"`

	// ToolTimeout is the default per-call wall-clock limit.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// ToolTimeouts overrides the default for named tools.
	ToolTimeouts map[string]time.Duration `yaml:"tool_timeouts"`
}

// SessionsConfig selects conversation persistence.
type SessionsConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Ignored for the memory backend.
	Path string `yaml:"path"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// TracingConfig controls OpenTelemetry export. Tracing is disabled when
// Endpoint is empty.
type TracingConfig struct {
	ServiceName    string  `yaml:"service_name"`
	Endpoint       string  `yaml:"endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	EnableInsecure bool    `yaml:"enable_insecure"`
}

// AgentConfig declares one agent of the roster.
type AgentConfig struct {
	Name         string   `yaml:"name"`
	Instructions string   `yaml:"instructions"`
	StepLimit    int      `yaml:"step_limit"`
	Handoffs     []string `yaml:"handoffs"`

	// KeepTranscript disables context isolation for handoffs out of this
	// agent.
	KeepTranscript bool `yaml:"keep_transcript"`

	// OutputSchema is an inline JSON Schema the agent's final output must
	// conform to.
	OutputSchema string `yaml:"output_schema"`
}

// Load reads, expands, parses, and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = "anthropic"
	}
	if cfg.Runner.MaxConcurrency == 0 {
		cfg.Runner.MaxConcurrency = 5
	}
	if cfg.Runner.ToolTimeout == 0 {
		cfg.Runner.ToolTimeout = 30 * time.Second
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "ensemble"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.EntryAgent == "" && len(cfg.Agents) > 0 {
		cfg.EntryAgent = cfg.Agents[0].Name
	}
}

// Validate checks internal consistency: agent names are unique, handoffs
// resolve within the roster, and the entry agent exists.
func (c *Config) Validate() error {
	switch c.Gateway.Provider {
	case "anthropic", "openai", "scripted":
	default:
		return fmt.Errorf("unknown gateway provider %q", c.Gateway.Provider)
	}
	switch c.Sessions.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}
	if c.Sessions.Backend == "sqlite" && c.Sessions.Path == "" {
		return fmt.Errorf("sessions backend sqlite requires a path")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	names := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent name is required")
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		if a.Instructions == "" {
			return fmt.Errorf("agent %q has no instructions", a.Name)
		}
		names[a.Name] = true
	}
	for _, a := range c.Agents {
		for _, h := range a.Handoffs {
			if !names[h] {
				return fmt.Errorf("agent %q hands off to unknown agent %q", a.Name, h)
			}
		}
	}
	if !names[c.EntryAgent] {
		return fmt.Errorf("entry agent %q is not in the roster", c.EntryAgent)
	}
	return nil
}
