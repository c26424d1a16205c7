package jobscmder

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
)

const getLongDesc string = `Show one job.

The result holds the stage's output on success, or diagnostics such as the
raw model response when a memory extraction could not be parsed.

Examples:
  chronicle jobs get 2b7e...
  chronicle jobs get 2b7e... -o json`

const getShortDesc string = "Show one job"

func newGetCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: getShortDesc,
		Long:  getLongDesc,
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

			job, err := s.Service.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cliui.Structured(output) {
				return cliui.Encode(out, output, job)
			}

			fmt.Fprintln(out)
			cliui.KV(out, "Job:", job.ID)
			cliui.KV(out, "Type:", string(job.Type))
			fmt.Fprintf(out, "  %s %s\n", cliui.KeyStyle.Render(fmt.Sprintf("%-19s", "Status:")), cliui.Status(string(job.Status)))
			cliui.KV(out, "Conversation:", job.Payload.ConversationID)
			if job.Payload.SourceVersionID != "" {
				cliui.KV(out, "Transcript version:", job.Payload.SourceVersionID)
			}
			cliui.KV(out, "Attempts:", fmt.Sprintf("%d/%d", job.AttemptCount, job.MaxAttempts))
			cliui.KV(out, "Enqueued:", job.EnqueuedAt.Local().Format(time.DateTime))
			if job.FinishedAt != nil {
				cliui.KV(out, "Finished:", job.FinishedAt.Local().Format(time.DateTime))
			} else if job.AvailableAt.After(time.Now()) {
				cliui.KV(out, "Retry at:", job.AvailableAt.Local().Format(time.DateTime))
			}
			if job.WorkerID != "" {
				cliui.KV(out, "Worker:", job.WorkerID)
			}
			if job.LastError != "" {
				cliui.KV(out, "Last error:", job.LastError)
			}
			if len(job.Result) > 0 {
				fmt.Fprintf(out, "\n  %s\n", cliui.KeyStyle.Render("Result:"))
				if err := cliui.Encode(out, cliui.FormatYAML, job.Result); err != nil {
					return err
				}
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")

	return cmd
}
