package versionscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/conversation"
)

const activateLongDesc string = `Make a version the active one of its kind.

Activating a memory version also updates the search index to the activated
memory set. Activating a transcript version leaves memories untouched; run
"chronicle reprocess memory" to extract from it.

Examples:
  chronicle versions activate 6f1c... memory 0d4e...
  chronicle versions activate 6f1c... transcript 91ab...`

const activateShortDesc string = "Roll a conversation to a version"

func newActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "activate <conversation> <kind> <id>",
		Short:             activateShortDesc,
		Long:              activateLongDesc,
		Args:              cobra.ExactArgs(3),
		ValidArgsFunction: completeKind,
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, kind, id, err := versionArgs(args)
			if err != nil {
				return err
			}

			s, err := openStack(cmd, kind == conversation.KindMemory)
			if err != nil {
				return err
			}
			defer s.Close()

			if kind == conversation.KindMemory {
				err = s.Service.ActivateMemoryVersion(cmd.Context(), convID, id)
			} else {
				err = s.Service.ActivateTranscriptVersion(cmd.Context(), convID, id)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\n  %s Activated %s version %s\n\n",
				cliui.SuccessMark, kind, cliui.IDStyle.Render(id))
			return nil
		},
	}

	stack.AddFlags(cmd)

	return cmd
}
