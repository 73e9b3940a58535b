package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kinesphere/resync/internal/app"
	"github.com/kinesphere/resync/internal/cmd/cmdutil"
	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/store"
)

const (
	TokenCmdLiteral = "token"
	TokenCmdExample = `# Store the credential used by the socket and the API client
resync token set eyJhbGciOi...

# Forget it, for example on logout
resync token clear`
)

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:     TokenCmdLiteral,
		Short:   "Manage the stored credential",
		Example: TokenCmdExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "set <token>",
		Short: "Store the credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s store.Store) error {
				if args[0] == "" {
					return constants.ErrNoCredential
				}
				if err := s.Set(cmd.Context(), constants.CredentialKey, args[0]); err != nil {
					return fmt.Errorf("failed to store credential: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Credential stored")
				return nil
			})
		},
	})

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s store.Store) error {
				err := s.Remove(cmd.Context(), constants.CredentialKey)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("failed to remove credential: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Credential removed")
				return nil
			})
		},
	})

	return tokenCmd
}

func withStore(cmd *cobra.Command, fn func(store.Store) error) error {
	cfg, err := cmdutil.LoadConfig(cmd)
	if err != nil {
		return err
	}
	s, closeStore, err := app.OpenStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(s)
}
