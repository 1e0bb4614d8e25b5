package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/harun/tether/pkg/session"
)

// ErrNoCredentials is returned when no AI profile carries an API key.
var ErrNoCredentials = errors.New("no AI credentials configured (set ai.profiles or ANTHROPIC_API_KEY / OPENAI_API_KEY)")

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates a provider name
func (v *Validator) ValidateProvider(provider string) error {
	if _, ok := providerKeyEnv[provider]; !ok {
		return fmt.Errorf("invalid provider: %q (must be one of: anthropic, openai)", provider)
	}
	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateMaxTurns validates the model/tool round limit
func (v *Validator) ValidateMaxTurns(turns int) error {
	if turns <= 0 {
		return fmt.Errorf("max turns must be positive, got %d", turns)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateStoreDriver validates a thread store driver name
func (v *Validator) ValidateStoreDriver(driver string) error {
	switch driver {
	case "jsonl", "sqlite", "memory":
		return nil
	}
	return fmt.Errorf("invalid store driver: %q (must be one of: jsonl, sqlite, memory)", driver)
}

// ValidateSchedule validates a cron expression or descriptor
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateBusyPolicy validates the session busy policy
func (v *Validator) ValidateBusyPolicy(policy string) error {
	_, err := session.ParseBusyPolicy(policy)
	return err
}

// ValidatePort validates a listen port
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateToolNames rejects blank entries in a tool list
func (v *Validator) ValidateToolNames(field string, names []string) error {
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s[%d]: tool name cannot be empty", field, i)
		}
	}
	return nil
}

// ValidateConfig validates the entire configuration
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(v.ValidateProvider(cfg.Agent.Provider))
	add(v.ValidateModel(cfg.Agent.Model))
	add(v.ValidateTemperature(cfg.Agent.Temperature))
	add(v.ValidateMaxTokens(cfg.Agent.MaxTokens))
	add(v.ValidateMaxTurns(cfg.Agent.MaxTurns))
	if cfg.Agent.MaxRetries < 0 {
		add(fmt.Errorf("max retries cannot be negative, got %d", cfg.Agent.MaxRetries))
	}

	seen := make(map[string]bool)
	for i, p := range cfg.AI.Profiles {
		if p.ID == "" {
			add(fmt.Errorf("ai.profiles[%d]: id is required", i))
		} else if seen[p.ID] {
			add(fmt.Errorf("ai.profiles[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if err := v.ValidateProvider(p.Provider); err != nil {
			add(fmt.Errorf("ai.profiles[%d]: %w", i, err))
			continue
		}
		if p.APIKey != "" {
			if err := v.ValidateAPIKey(p.APIKey, p.Provider); err != nil {
				add(fmt.Errorf("ai.profiles[%d]: %w", i, err))
			}
		}
	}

	add(v.ValidateStoreDriver(cfg.Store.Driver))
	add(v.ValidateSchedule(cfg.Store.CleanupSchedule))
	if _, err := cfg.RetentionDuration(); err != nil {
		add(err)
	}

	add(v.ValidateToolNames("tools.interrupt_on", cfg.Tools.InterruptOn))
	add(v.ValidateToolNames("tools.allow", cfg.Tools.Allow))
	add(v.ValidateToolNames("tools.deny", cfg.Tools.Deny))
	if cfg.Tools.Timeout < 0 {
		add(fmt.Errorf("tools.timeout cannot be negative, got %d", cfg.Tools.Timeout))
	}

	add(v.ValidateBusyPolicy(cfg.Session.BusyPolicy))
	add(v.ValidatePort(cfg.Chat.Port))
	add(v.ValidateLogLevel(cfg.Logging.Level))

	return errs
}

// RequireCredentials reports ErrNoCredentials unless some profile has a key.
func (c *Config) RequireCredentials() error {
	for _, p := range c.AI.Profiles {
		if p.APIKey != "" {
			return nil
		}
	}
	return ErrNoCredentials
}
