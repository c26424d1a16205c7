// Package conversationscmder provides the conversations command for listing,
// reading and closing recorded conversations.
package conversationscmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/config"
)

const conversationsLongDesc string = `Browse recorded conversations.

  chronicle conversations list          List conversations, newest first
  chronicle conversations show <id>     Show the active transcript and memories
  chronicle conversations end <id>      Record why a live conversation ended`

const conversationsShortDesc string = "Browse recorded conversations"

func NewConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   conversationsShortDesc,
		Long:    conversationsLongDesc,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newEndCmd())

	return cmd
}

func openStack(cmd *cobra.Command) (*stack.Stack, error) {
	cfg, err := stack.LoadConfig(cmd, config.StackFlags)
	if err != nil {
		return nil, err
	}
	return stack.Open(cmd.Context(), cfg, stack.Options{
		ConfigDir: stack.ConfigDir(cmd),
		Logger:    stack.NewLogger(cmd),
	})
}
