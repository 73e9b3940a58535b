package queue

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kinesphere/resync/internal/cmd/cmdutil"
)

const (
	ListCmdLiteral = "list"
	ListCmdExample = `# List pending requests
resync queue list --config resync.toml`
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     ListCmdLiteral,
		Short:   "List pending requests in delivery order",
		Example: ListCmdExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := cmdutil.OpenOffline(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			items := a.Queue.Items()
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending requests")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMETHOD\tENDPOINT\tATTEMPTS\tENQUEUED")
			for _, r := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					r.ID, r.Method, r.Endpoint, r.Attempts, r.MaxAttempts, r.EnqueuedAt().UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
