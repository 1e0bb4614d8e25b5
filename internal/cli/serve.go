package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/tether/internal/config"
	"github.com/harun/tether/internal/daemon"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket chat server",
		Long: `Run the chat server in the foreground with thread cleanup and
config hot reload. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := o.load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if cmd.Flags().Changed("host") {
				env.cfg.Chat.Host = host
			}
			if cmd.Flags().Changed("port") {
				env.cfg.Chat.Port = port
			}

			d, err := daemon.New(env.cfg, env.log, daemon.WithProviderFactory(o.providers))
			if err != nil {
				return err
			}

			log := env.log.Zerolog()
			overrides := *env.cfg
			if err := env.loader.Watch(func(next *config.Config, err error) {
				if err != nil {
					log.Warn().Err(err).Msg("Ignoring unreadable config change")
					return
				}
				if o.logLevel != "" {
					next.Logging.Level = o.logLevel
				}
				next.Chat = overrides.Chat
				if err := next.Validate(); err != nil {
					log.Warn().Err(err).Msg("Ignoring invalid config change")
					return
				}
				d.ApplyConfig(next)
			}); err != nil {
				log.Info().Err(err).Msg("Config hot reload disabled")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides chat.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides chat.port)")
	return cmd
}

