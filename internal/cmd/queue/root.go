// Package queue implements the "resync queue" subcommands.
package queue

import (
	"github.com/spf13/cobra"
)

const (
	QueueCmdLiteral = "queue"
	QueueCmdExample = `# Show pending requests
resync queue list

# Queue a request for delivery on the next run
resync queue add POST /v1/likes '{"postId":"p1"}'

# Drop everything pending
resync queue clear`
)

// NewQueueCmd builds the queue command and its subcommands.
func NewQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:     QueueCmdLiteral,
		Short:   "Inspect and edit the offline request queue",
		Long:    "These commands work on the persisted queue directly and never deliver anything.",
		Example: QueueCmdExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	queueCmd.AddCommand(newListCmd())
	queueCmd.AddCommand(newAddCmd())
	queueCmd.AddCommand(newClearCmd())
	return queueCmd
}
