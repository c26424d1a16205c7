// Package versionscmder provides the versions command for listing,
// inspecting, activating and deleting transcript and memory versions.
package versionscmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/config"
	"github.com/papercomputeco/chronicle/pkg/conversation"
)

const versionsLongDesc string = `Manage a conversation's transcript and memory versions.

Every transcription and extraction creates an immutable version. One version
of each kind is active; activating an older one rolls the conversation back
without deleting anything.

  chronicle versions list <conversation>                   List versions
  chronicle versions show <conversation> <kind> <id>       Show one version
  chronicle versions activate <conversation> <kind> <id>   Roll to a version
  chronicle versions delete <conversation> <kind> <id>     Delete an inactive version

<kind> is transcript or memory.`

const versionsShortDesc string = "Manage transcript and memory versions"

func NewVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: versionsShortDesc,
		Long:  versionsLongDesc,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newActivateCmd())
	cmd.AddCommand(newDeleteCmd())

	return cmd
}

// openStack opens a queue-only stack; search is opened for commands that
// change which memories are active.
func openStack(cmd *cobra.Command, search bool) (*stack.Stack, error) {
	cfg, err := stack.LoadConfig(cmd, config.StackFlags)
	if err != nil {
		return nil, err
	}
	return stack.Open(cmd.Context(), cfg, stack.Options{
		ConfigDir: stack.ConfigDir(cmd),
		Search:    search,
		Logger:    stack.NewLogger(cmd),
	})
}

// versionArgs parses "<conversation> <kind> <id>".
func versionArgs(args []string) (string, conversation.VersionKind, string, error) {
	kind, err := conversation.ParseVersionKind(args[1])
	if err != nil {
		return "", "", "", err
	}
	return args[0], kind, args[2], nil
}

func completeKind(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 1 {
		return []string{string(conversation.KindTranscript), string(conversation.KindMemory)}, cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}
