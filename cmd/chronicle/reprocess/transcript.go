package reprocesscmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/jobs"
)

const transcriptLongDesc string = `Transcribe a conversation's stored audio again.

The new transcript version is activated when transcription succeeds, and
memory extraction is then queued against it. Memory versions are untouched
until that extraction completes.

Examples:
  chronicle reprocess transcript 6f1c...
  chronicle reprocess transcript 6f1c... --wait -o json`

const transcriptShortDesc string = "Transcribe a conversation again"

func newTranscriptCmd() *cobra.Command {
	cmder := &reprocessCommander{}

	cmd := &cobra.Command{
		Use:   "transcript <conversation>",
		Short: transcriptShortDesc,
		Long:  transcriptLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0], "Transcribing", func(s *stack.Stack) (*jobs.Job, error) {
				return s.Service.ReprocessTranscript(cmd.Context(), args[0])
			})
		},
	}
	cmder.addFlags(cmd)

	return cmd
}
