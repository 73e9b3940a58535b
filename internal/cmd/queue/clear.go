package queue

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kinesphere/resync/internal/cmd/cmdutil"
)

const (
	ClearCmdLiteral = "clear"
)

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   ClearCmdLiteral,
		Short: "Drop every pending request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := cmdutil.OpenOffline(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			n := a.Queue.Size()
			a.Queue.Clear(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d pending requests\n", n)
			return nil
		},
	}
}
