package conversationscmder

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/conversation"
)

const showLongDesc string = `Show a conversation with its active transcript and memories.

Examples:
  chronicle conversations show 6f1c...
  chronicle conversations show 6f1c... -o yaml`

const showShortDesc string = "Show a conversation"

// showOutput is the structured form of conversations show.
type showOutput struct {
	Conversation *conversation.Conversation      `json:"conversation"`
	Transcript   *conversation.TranscriptVersion `json:"transcript,omitempty"`
	Memories     []*conversation.Memory          `json:"memories"`
}

func newShowCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: showShortDesc,
		Long:  showLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != cliui.FormatText && !cliui.Structured(output) {
				return fmt.Errorf("unsupported output format: %q", output)
			}

			s, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			conv, err := s.Service.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}

			res := showOutput{Conversation: conv, Memories: []*conversation.Memory{}}
			if conv.ActiveTranscriptVersionID != "" {
				v, err := s.Service.GetVersion(ctx, conv.ID, conversation.KindTranscript, conv.ActiveTranscriptVersionID)
				if err != nil {
					return err
				}
				res.Transcript = v.Transcript
			}
			if conv.ActiveMemoryVersionID != "" {
				v, err := s.Service.GetVersion(ctx, conv.ID, conversation.KindMemory, conv.ActiveMemoryVersionID)
				if err != nil {
					return err
				}
				res.Memories = v.Memory.Memories
			}

			out := cmd.OutOrStdout()
			if cliui.Structured(output) {
				return cliui.Encode(out, output, res)
			}

			fmt.Fprintln(out)
			cliui.KV(out, "Conversation:", conv.ID)
			cliui.KV(out, "User:", conv.UserID)
			cliui.KV(out, "Created:", conv.CreatedAt.Local().Format(time.DateTime))
			if conv.EndedAt != nil {
				cliui.KV(out, "Ended:", fmt.Sprintf("%s (%s)", formatTime(conv.EndedAt), conv.EndReason))
			}
			if conv.IsFixture {
				cliui.KV(out, "Fixture:", "true")
			}

			md := ""
			if conv.Title != "" {
				md += "# " + conv.Title + "\n\n"
			}
			if conv.Summary != "" {
				md += conv.Summary + "\n\n"
			}
			if conv.DetailedSummary != "" {
				md += "## Details\n\n" + conv.DetailedSummary + "\n\n"
			}
			md += "## Memories\n\n" + cliui.MemoriesMarkdown(res.Memories) + "\n"
			if res.Transcript != nil {
				md += "## Transcript\n\n" + cliui.TranscriptMarkdown(res.Transcript.Segments)
			} else {
				md += "## Transcript\n\n_Not transcribed yet._\n"
			}
			cliui.PrintMarkdown(out, md)
			return nil
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")

	return cmd
}
