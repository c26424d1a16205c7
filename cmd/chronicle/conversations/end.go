package conversationscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/conversation"
)

const endLongDesc string = `Record why a live conversation ended.

Reasons are user_stopped, inactivity_timeout and upload_complete. Ending a
conversation twice is an error.

Examples:
  chronicle conversations end 6f1c...
  chronicle conversations end 6f1c... --reason inactivity_timeout`

const endShortDesc string = "End a live conversation"

func newEndCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "end <id>",
		Short: endShortDesc,
		Long:  endLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			conv, err := s.Service.EndConversation(cmd.Context(), args[0], conversation.EndReason(reason))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\n  %s Ended %s (%s)\n\n",
				cliui.SuccessMark, cliui.IDStyle.Render(conv.ID), conv.EndReason)
			return nil
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().StringVar(&reason, "reason", string(conversation.EndReasonUserStopped), "Why the conversation ended")

	return cmd
}
