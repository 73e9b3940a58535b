// Package cmd implements the resync command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kinesphere/resync/internal/cmd/cmdutil"
	"github.com/kinesphere/resync/internal/cmd/queue"
)

const (
	CliName = "resync"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           CliName,
		Short:         "resync replays offline API requests and keeps a live socket open",
		Long:          "resync persists mutating API requests while offline, replays them when connectivity returns, and maintains a reconnecting websocket to the backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String(cmdutil.FlagConfig, "", "Path to a TOML configuration file")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(queue.NewQueueCmd())
	return rootCmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Oops. An error occurred while executing %s: %v\n", CliName, err)
		os.Exit(1)
	}
}
