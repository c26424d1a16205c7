package conversationscmder

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/conversation"
)

const listLongDesc string = `List conversations, newest first.

Fixture conversations are hidden unless --include-fixtures is given.

Examples:
  chronicle conversations list
  chronicle conversations list --user ada --limit 5 -o json`

const listShortDesc string = "List conversations"

func newListCmd() *cobra.Command {
	var (
		userID          string
		includeFixtures bool
		limit           int
		output          string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != cliui.FormatText && !cliui.Structured(output) {
				return fmt.Errorf("unsupported output format: %q", output)
			}

			s, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			convs, err := s.Service.ListConversations(cmd.Context(), conversation.Filter{
				UserID:          userID,
				IncludeFixtures: includeFixtures,
				Limit:           limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cliui.Structured(output) {
				if convs == nil {
					convs = []*conversation.Conversation{}
				}
				return cliui.Encode(out, output, convs)
			}
			printConversations(out, convs)
			return nil
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().StringVar(&userID, "user", "", "Only list conversations of this user")
	cmd.Flags().BoolVar(&includeFixtures, "include-fixtures", false, "Include test fixture conversations")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of conversations to list (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")

	return cmd
}

func printConversations(w io.Writer, convs []*conversation.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No conversations."))
		return
	}

	fmt.Fprintf(w, "\n  %s\n", cliui.HeaderStyle.Render(fmt.Sprintf("%-36s %-12s %-16s %s", "ID", "USER", "CREATED", "TITLE")))
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = cliui.DimStyle.Render("untitled")
			if c.ActiveTranscriptVersionID == "" {
				title = cliui.DimStyle.Render("not transcribed")
			}
		}
		fmt.Fprintf(w, "  %s %-12s %s %s\n",
			cliui.IDStyle.Render(fmt.Sprintf("%-36s", c.ID)),
			cliui.Truncate(c.UserID, 12),
			cliui.DimStyle.Render(c.CreatedAt.Local().Format("2006-01-02 15:04")),
			title,
		)
	}
	fmt.Fprintln(w)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format(time.DateTime)
}
