// Package cmdutil holds helpers shared by the resync subcommands.
package cmdutil

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kinesphere/resync/internal/app"
	"github.com/kinesphere/resync/internal/config"
	"github.com/kinesphere/resync/pkg/connectivity"
)

const (
	FlagConfig = "config"
)

// LoadConfig reads the file named by the inherited --config flag.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// OpenOffline builds the app with connectivity forced offline and loads the
// persisted queue, so a command can inspect or edit it without delivering.
// The caller must call the returned close function.
func OpenOffline(ctx context.Context, cmd *cobra.Command) (*app.App, func(), error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg,
		app.WithLogOutput(cmd.ErrOrStderr()),
		app.WithConnectivity(connectivity.NewManual(false)),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := a.Queue.Initialize(ctx); err != nil {
		_ = a.Close()
		return nil, nil, fmt.Errorf("failed to load queue: %w", err)
	}
	return a, func() {
		_ = a.Queue.Close()
		_ = a.Close()
	}, nil
}
