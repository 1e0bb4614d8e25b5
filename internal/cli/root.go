package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/harun/tether/pkg/agent"
)

const version = "0.1.0"

type rootOptions struct {
	cfgFile   string
	logLevel  string
	envFile   string
	providers agent.ProviderCreator
}

// Option customizes the command tree
type Option func(*rootOptions)

// WithProviderFactory replaces the LLM provider factory used by run and serve.
func WithProviderFactory(f agent.ProviderCreator) Option {
	return func(o *rootOptions) {
		o.providers = f
	}
}

// NewRootCmd builds the tether command tree
func NewRootCmd(opts ...Option) *cobra.Command {
	o := &rootOptions{}
	for _, opt := range opts {
		opt(o)
	}

	cmd := &cobra.Command{
		Use:   "tether",
		Short: "Tether - conversational agent sessions with human approval",
		Long: `Tether runs tool-using agent conversations as persistent threads.
Calls to gated tools pause the thread until a human approves, edits or
rejects them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&o.cfgFile, "config", "", "config file (default is $HOME/.tether/tether.json)")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&o.envFile, "env-file", "", "env file loaded with override (default is .env when present)")

	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newRunCmd(o),
		newHistoryCmd(o),
		newStatusCmd(o),
		newThreadsCmd(o),
		newNewThreadCmd(),
		newServeCmd(o),
	)
	return cmd
}

// Execute runs the command tree. This is called by main.main().
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
