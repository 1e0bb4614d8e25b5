package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/harun/tether/internal/logger"
)

// Config represents the main tether configuration
type Config struct {
	Agent     AgentConfig     `json:"agent" mapstructure:"agent"`
	AI        AIConfig        `json:"ai" mapstructure:"ai"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Workspace WorkspaceConfig `json:"workspace" mapstructure:"workspace"`
	Tools     ToolsConfig     `json:"tools" mapstructure:"tools"`
	Session   SessionConfig   `json:"session" mapstructure:"session"`
	Chat      ChatConfig      `json:"chat" mapstructure:"chat"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentConfig configures model calls
type AgentConfig struct {
	Provider     string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model        string  `json:"model" mapstructure:"model"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTurns     int     `json:"max_turns" mapstructure:"max_turns"`
	MaxRetries   int     `json:"max_retries" mapstructure:"max_retries"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// StoreConfig selects the thread store and its retention
type StoreConfig struct {
	Driver          string `json:"driver" mapstructure:"driver"` // jsonl, sqlite, memory
	Path            string `json:"path" mapstructure:"path"`
	Retention       string `json:"retention" mapstructure:"retention"` // Go duration, "0" disables cleanup
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// WorkspaceConfig roots the filesystem tools
type WorkspaceConfig struct {
	Root        string `json:"root" mapstructure:"root"`
	VirtualMode bool   `json:"virtual_mode" mapstructure:"virtual_mode"`
}

// ToolsConfig holds tool gating and access policy
type ToolsConfig struct {
	InterruptOn []string `json:"interrupt_on" mapstructure:"interrupt_on"`
	Allow       []string `json:"allow" mapstructure:"allow"`
	Deny        []string `json:"deny" mapstructure:"deny"`
	Timeout     int      `json:"timeout" mapstructure:"timeout"` // seconds
}

// SessionConfig holds controller behavior
type SessionConfig struct {
	BusyPolicy string `json:"busy_policy" mapstructure:"busy_policy"` // reject, error
}

// ChatConfig holds chat server configuration
type ChatConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig enables OpenTelemetry span export
type TracingConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	File    string `json:"file" mapstructure:"file"` // span output, stderr when empty
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-5",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxTurns:    25,
			MaxRetries:  3,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Store: StoreConfig{
			Driver:          "jsonl",
			Retention:       "720h",
			CleanupSchedule: "@daily",
		},
		Workspace: WorkspaceConfig{
			Root:        ".",
			VirtualMode: true,
		},
		Tools: ToolsConfig{
			InterruptOn: []string{"write_file", "edit_file"},
			Allow:       []string{},
			Deny:        []string{},
			Timeout:     30,
		},
		Session: SessionConfig{
			BusyPolicy: "reject",
		},
		Chat: ChatConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config with API keys masked
func (c *Config) String() string {
	masked := *c
	masked.AI.Profiles = make([]AIProfile, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		if p.APIKey != "" {
			p.APIKey = "***"
		}
		masked.AI.Profiles[i] = p
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// RetentionDuration parses store.retention. Zero disables cleanup.
func (c *Config) RetentionDuration() (time.Duration, error) {
	if c.Store.Retention == "" || c.Store.Retention == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Store.Retention)
	if err != nil {
		return 0, fmt.Errorf("invalid store.retention %q: %w", c.Store.Retention, err)
	}
	return d, nil
}

// StorePath returns the configured store path, or the driver default under DataDir.
func (c *Config) StorePath() string {
	if c.Store.Path != "" || c.DataDir == "" {
		return c.Store.Path
	}
	switch c.Store.Driver {
	case "sqlite":
		return filepath.Join(c.DataDir, "threads.db")
	case "memory":
		return ""
	default:
		return filepath.Join(c.DataDir, "threads")
	}
}

// LoggerConfig maps logging settings onto the logger package.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: c.Logging.Redaction,
		MaxSize:   c.Logging.MaxSize,
		MaxAge:    c.Logging.MaxAge,
		Compress:  c.Logging.Compress,
	}
}
