package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. TETHER_AGENT_MODEL.
	EnvPrefix = "TETHER"

	configDirName  = ".tether"
	configFileName = "tether.json"
)

// Provider API key variables consulted when a profile carries no key.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string

	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// LoadEnvFile loads a .env file, overriding variables already set.
// A missing file is an error only when required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Overload(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load loads the configuration from file and environment.
// A missing config file yields defaults plus environment overrides.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	l.mu.Lock()
	l.v = v
	l.mu.Unlock()

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, configDirName)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "tether.log")
	}

	applyKeyFallback(cfg)
	return cfg, nil
}

// applyKeyFallback fills empty profile keys from provider variables and
// synthesizes a profile per available key when none are configured.
func applyKeyFallback(cfg *Config) {
	if len(cfg.AI.Profiles) == 0 {
		for _, provider := range []string{cfg.Agent.Provider, "anthropic", "openai"} {
			key := os.Getenv(providerKeyEnv[provider])
			if key == "" || hasProvider(cfg.AI.Profiles, provider) {
				continue
			}
			cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
				ID:       provider,
				Provider: provider,
				APIKey:   key,
				Priority: len(cfg.AI.Profiles) + 1,
			})
		}
		return
	}

	for i := range cfg.AI.Profiles {
		p := &cfg.AI.Profiles[i]
		if p.APIKey == "" {
			p.APIKey = os.Getenv(providerKeyEnv[p.Provider])
		}
	}
}

func hasProvider(profiles []AIProfile, provider string) bool {
	for _, p := range profiles {
		if p.Provider == provider {
			return true
		}
	}
	return false
}

// setDefaults registers every leaf of cfg so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	setLeaves(v, "", tree)
	return nil
}

func setLeaves(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			setLeaves(v, key, nested)
			continue
		}
		v.SetDefault(key, value)
	}
}

// Watch re-decodes the config file whenever it is written and hands the
// result to onChange. Load must have found a config file first.
func (l *Loader) Watch(onChange func(*Config, error)) error {
	l.mu.Lock()
	v := l.v
	l.mu.Unlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file loaded to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		onChange(decode(v))
	})
	v.WatchConfig()
	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
