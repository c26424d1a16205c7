package versionscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
)

const showLongDesc string = `Show one version in full.

Transcript versions print their speaker turns and memory versions their
memories, rendered as markdown. Use -o json or -o yaml for the raw record.

Examples:
  chronicle versions show 6f1c... transcript 91ab...
  chronicle versions show 6f1c... memory 0d4e... -o yaml`

const showShortDesc string = "Show one version"

func newShowCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:               "show <conversation> <kind> <id>",
		Short:             showShortDesc,
		Long:              showLongDesc,
		Args:              cobra.ExactArgs(3),
		ValidArgsFunction: completeKind,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != cliui.FormatText && !cliui.Structured(output) {
				return fmt.Errorf("unsupported output format: %q", output)
			}
			convID, kind, id, err := versionArgs(args)
			if err != nil {
				return err
			}

			s, err := openStack(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.Service.GetVersion(cmd.Context(), convID, kind, id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cliui.Structured(output) {
				return cliui.Encode(out, output, v)
			}

			fmt.Fprintln(out)
			cliui.KV(out, "Version:", id)
			cliui.KV(out, "Kind:", string(kind))
			cliui.KV(out, "Active:", fmt.Sprintf("%t", v.Active))
			if v.Transcript != nil {
				cliui.KV(out, "Source:", string(v.Transcript.Source))
				cliui.KV(out, "Created:", v.Transcript.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				cliui.PrintMarkdown(out, cliui.TranscriptMarkdown(v.Transcript.Segments))
			}
			if v.Memory != nil {
				cliui.KV(out, "Transcript:", v.Memory.TranscriptVersionID)
				cliui.KV(out, "Created:", v.Memory.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				cliui.PrintMarkdown(out, cliui.MemoriesMarkdown(v.Memory.Memories))
			}
			return nil
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")

	return cmd
}
