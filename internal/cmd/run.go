package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kinesphere/resync/internal/app"
	"github.com/kinesphere/resync/internal/cmd/cmdutil"
)

const (
	RunCmdLiteral = "run"
	RunCmdExample = `# Run with a config file
resync run --config resync.toml

# Override the socket endpoint from the environment
RESYNC_SOCKET_URL=wss://api.example.com/ws resync run`
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:     RunCmdLiteral,
		Short:   "Run the queue and socket until interrupted",
		Long:    "Loads the persisted queue, delivers it whenever the network is available, and keeps the websocket connected until SIGINT or SIGTERM.",
		Example: RunCmdExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdutil.LoadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, app.WithLogOutput(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}
}
