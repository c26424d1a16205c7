package versionscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
)

const deleteLongDesc string = `Delete an inactive version.

The active version cannot be deleted, nor can a transcript version that a
memory version was extracted from.

Examples:
  chronicle versions delete 6f1c... transcript 91ab...`

const deleteShortDesc string = "Delete an inactive version"

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "delete <conversation> <kind> <id>",
		Short:             deleteShortDesc,
		Long:              deleteLongDesc,
		Args:              cobra.ExactArgs(3),
		ValidArgsFunction: completeKind,
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, kind, id, err := versionArgs(args)
			if err != nil {
				return err
			}

			s, err := openStack(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Service.DeleteVersion(cmd.Context(), convID, kind, id); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\n  %s Deleted %s version %s\n\n",
				cliui.SuccessMark, kind, cliui.IDStyle.Render(id))
			return nil
		},
	}

	stack.AddFlags(cmd)

	return cmd
}
