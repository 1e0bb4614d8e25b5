package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harun/tether/internal/config"
	"github.com/harun/tether/internal/logger"
)

// environment is the loaded configuration and process logger for one command.
type environment struct {
	cfg    *config.Config
	loader *config.Loader
	log    *logger.Logger
}

func (o *rootOptions) load(cmd *cobra.Command) (*environment, error) {
	if err := config.LoadEnvFile(o.envFile, cmd.Flags().Changed("env-file")); err != nil {
		return nil, err
	}

	loader := config.NewLoader(o.cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = cmd.ErrOrStderr()
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &environment{cfg: cfg, loader: loader, log: log}, nil
}

func (e *environment) Close() {
	_ = e.log.Close()
}

// newEncoder writes indented JSON with non-ASCII and HTML characters unescaped.
func newEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc
}
