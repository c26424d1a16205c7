package jobscmder

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/jobs"
)

const listLongDesc string = `List jobs, newest first.

Examples:
  chronicle jobs list
  chronicle jobs list --status failed
  chronicle jobs list --type memory_extraction --conversation 6f1c... -o yaml`

const listShortDesc string = "List jobs"

type listCommander struct {
	types          []string
	statuses       []string
	conversationID string
	limit          int
	offset         int
	output         string
}

func newListCmd() *cobra.Command {
	cmder := &listCommander{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().StringSliceVar(&cmder.types, "type", nil, "Only list jobs of these types")
	cmd.Flags().StringSliceVar(&cmder.statuses, "status", nil, "Only list jobs with these statuses")
	cmd.Flags().StringVar(&cmder.conversationID, "conversation", "", "Only list jobs of this conversation")
	cmd.Flags().IntVar(&cmder.limit, "limit", 50, "Maximum number of jobs to list (0 for all)")
	cmd.Flags().IntVar(&cmder.offset, "offset", 0, "Number of jobs to skip")
	cmd.Flags().StringVarP(&cmder.output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")

	return cmd
}

func (c *listCommander) run(cmd *cobra.Command) error {
	if c.output != cliui.FormatText && !cliui.Structured(c.output) {
		return fmt.Errorf("unsupported output format: %q", c.output)
	}
	types, err := parseTypes(c.types)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.statuses)
	if err != nil {
		return err
	}

	s, err := openStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := s.Service.ListJobs(cmd.Context(), jobs.Filter{
		Types:          types,
		Statuses:       statuses,
		ConversationID: c.conversationID,
		Limit:          c.limit,
		Offset:         c.offset,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cliui.Structured(c.output) {
		if list == nil {
			list = []*jobs.Job{}
		}
		return cliui.Encode(out, c.output, list)
	}
	printJobs(out, list, time.Now())
	return nil
}

func printJobs(w io.Writer, list []*jobs.Job, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No jobs."))
		return
	}

	fmt.Fprintf(w, "\n  %s\n", cliui.HeaderStyle.Render(fmt.Sprintf("%-36s %-18s %-10s %-8s %-36s %s",
		"ID", "TYPE", "STATUS", "ATTEMPTS", "CONVERSATION", "AGE")))
	for _, j := range list {
		fmt.Fprintf(w, "  %s %-18s %s %-8s %-36s %s\n",
			cliui.IDStyle.Render(fmt.Sprintf("%-36s", j.ID)),
			j.Type,
			padStatus(j.Status, 10),
			fmt.Sprintf("%d/%d", j.AttemptCount, j.MaxAttempts),
			j.Payload.ConversationID,
			formatAge(now.Sub(j.EnqueuedAt)),
		)
	}
	fmt.Fprintln(w)
}

// padStatus renders a coloured status padded to width cells.
func padStatus(s jobs.Status, width int) string {
	return cliui.Status(string(s)) + strings.Repeat(" ", max(width-len(s), 0))
}

// formatAge renders d at the coarsest useful unit.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(max(d, 0).Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
