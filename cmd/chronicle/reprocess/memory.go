package reprocesscmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/jobs"
)

const memoryLongDesc string = `Extract a conversation's memories again.

Extraction runs against the active transcript version, or against
--transcript-version, which need not be active. The new memory version is
activated when extraction succeeds.

Examples:
  chronicle reprocess memory 6f1c...
  chronicle reprocess memory 6f1c... --transcript-version 91ab... --wait`

const memoryShortDesc string = "Extract memories again"

func newMemoryCmd() *cobra.Command {
	cmder := &reprocessCommander{}
	var transcriptVersion string

	cmd := &cobra.Command{
		Use:   "memory <conversation>",
		Short: memoryShortDesc,
		Long:  memoryLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0], "Extracting memories", func(s *stack.Stack) (*jobs.Job, error) {
				return s.Service.ReprocessMemory(cmd.Context(), args[0], transcriptVersion)
			})
		},
	}
	cmder.addFlags(cmd)
	cmd.Flags().StringVar(&transcriptVersion, "transcript-version", "", "Transcript version to extract from (default: the active one)")

	return cmd
}
