package versionscmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/conversation"
)

const listLongDesc string = `List a conversation's versions, oldest first.

The active version of each kind is marked.

Examples:
  chronicle versions list 6f1c...
  chronicle versions list 6f1c... --kind memory -o json`

const listShortDesc string = "List versions of a conversation"

func newListCmd() *cobra.Command {
	var kind, output string

	cmd := &cobra.Command{
		Use:   "list <conversation>",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, args[0], kind, output)
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().StringVar(&kind, "kind", "", "Only list transcript or memory versions")
	cmd.Flags().StringVarP(&output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")

	return cmd
}

func runList(cmd *cobra.Command, conversationID, kind, output string) error {
	if output != cliui.FormatText && !cliui.Structured(output) {
		return fmt.Errorf("unsupported output format: %q", output)
	}
	kinds := []conversation.VersionKind{conversation.KindTranscript, conversation.KindMemory}
	if kind != "" {
		k, err := conversation.ParseVersionKind(kind)
		if err != nil {
			return err
		}
		kinds = []conversation.VersionKind{k}
	}

	s, err := openStack(cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()

	versions := []conversation.VersionInfo{}
	for _, k := range kinds {
		vs, err := s.Service.ListVersions(cmd.Context(), conversationID, k)
		if err != nil {
			return err
		}
		versions = append(versions, vs...)
	}

	out := cmd.OutOrStdout()
	if cliui.Structured(output) {
		return cliui.Encode(out, output, versions)
	}
	printVersions(out, versions)
	return nil
}

func printVersions(w io.Writer, versions []conversation.VersionInfo) {
	if len(versions) == 0 {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No versions yet."))
		return
	}

	fmt.Fprintf(w, "\n  %s\n", cliui.HeaderStyle.Render(fmt.Sprintf("  %-10s %-36s %-20s %s", "KIND", "ID", "CREATED", "DETAIL")))
	for _, v := range versions {
		detail := fmt.Sprintf("%s, %d segments", v.Source, v.SegmentCount)
		if v.Kind == conversation.KindMemory {
			detail = fmt.Sprintf("%d memories from %s", v.MemoryCount, cliui.Truncate(v.TranscriptVersionID, 9))
		}
		fmt.Fprintf(w, "  %s %-10s %s %s %s\n",
			cliui.Active(v.Active),
			v.Kind,
			cliui.IDStyle.Render(fmt.Sprintf("%-36s", v.ID)),
			cliui.DimStyle.Render(v.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			detail,
		)
	}
	fmt.Fprintln(w)
}
