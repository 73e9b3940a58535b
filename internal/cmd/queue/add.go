package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kinesphere/resync/internal/cmd/cmdutil"
	rq "github.com/kinesphere/resync/pkg/queue"
)

const (
	AddCmdLiteral = "add"
	AddCmdExample = `# Queue a like
resync queue add POST /v1/likes '{"postId":"p1"}'

# Queue a delete without a body
resync queue add DELETE /v1/posts/42`
)

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:     AddCmdLiteral + " <method> <endpoint> [json]",
		Short:   "Append a request to the queue",
		Long:    "Appends a request to the persisted queue. Method is one of GET, POST, PATCH or DELETE.",
		Example: AddCmdExample,
		Args:    cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := rq.Method(strings.ToUpper(args[0]))
			var payload any
			if len(args) == 3 {
				payload = json.RawMessage(args[2])
			}

			a, closeApp, err := cmdutil.OpenOffline(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			if err := a.Queue.Enqueue(cmd.Context(), args[1], method, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s %s (%d pending)\n", method, args[1], a.Queue.Size())
			return nil
		},
	}
}
