// Package reprocesscmder provides the reprocess command, which queues a new
// transcript or memory version for an existing conversation.
package reprocesscmder

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/config"
	"github.com/papercomputeco/chronicle/pkg/jobs"
)

const reprocessLongDesc string = `Reprocess a conversation.

Reprocessing never edits an existing version. It queues a job that creates a
new version, which becomes active when the job succeeds. Earlier versions
stay available for "chronicle versions activate".

Use subcommands to choose the stage:
  chronicle reprocess transcript <conversation>   Transcribe the stored audio again
  chronicle reprocess memory <conversation>       Extract memories again

Examples:
  chronicle reprocess transcript 6f1c...
  chronicle reprocess memory 6f1c... --transcript-version 91ab...
  chronicle reprocess memory 6f1c... --wait`

const reprocessShortDesc string = "Queue a new transcript or memory version"

func NewReprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: reprocessShortDesc,
		Long:  reprocessLongDesc,
	}

	cmd.AddCommand(newTranscriptCmd())
	cmd.AddCommand(newMemoryCmd())

	return cmd
}

// reprocessCommander holds the flags shared by both subcommands.
type reprocessCommander struct {
	wait   bool
	output string

	out io.Writer
}

func (c *reprocessCommander) addFlags(cmd *cobra.Command) {
	stack.AddFlags(cmd)
	stack.AddWorkerFlags(cmd)
	cmd.Flags().BoolVar(&c.wait, "wait", false, "Process the job with local workers and wait for the result")
	cmd.Flags().StringVarP(&c.output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")
}

// run opens the stack, queues a job with enqueue and reports it, optionally
// waiting for the conversation to settle.
func (c *reprocessCommander) run(cmd *cobra.Command, conversationID, msg string, enqueue func(*stack.Stack) (*jobs.Job, error)) error {
	if c.output != cliui.FormatText && !cliui.Structured(c.output) {
		return fmt.Errorf("unsupported output format: %q", c.output)
	}
	c.out = cmd.OutOrStdout()

	cfg, err := stack.LoadConfig(cmd, slices.Concat(config.StackFlags, stack.WorkerFlags))
	if err != nil {
		return err
	}

	s, err := stack.Open(cmd.Context(), cfg, stack.Options{
		ConfigDir: stack.ConfigDir(cmd),
		Workers:   c.wait,
		Search:    c.wait,
		Logger:    stack.NewLogger(cmd),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	job, err := enqueue(s)
	if err != nil {
		return err
	}

	if !c.wait {
		if cliui.Structured(c.output) {
			return cliui.Encode(c.out, c.output, job)
		}
		fmt.Fprintf(c.out, "\n  %s Queued %s\n\n", cliui.SuccessMark, cliui.ValueStyle.Render(string(job.Type)))
		cliui.KV(c.out, "Conversation:", job.Payload.ConversationID)
		if job.Payload.SourceVersionID != "" {
			cliui.KV(c.out, "Transcript version:", job.Payload.SourceVersionID)
		}
		cliui.KV(c.out, "Job:", job.ID)
		fmt.Fprintln(c.out)
		return nil
	}

	all, err := s.Await(cmd.Context(), cmd.ErrOrStderr(), msg, conversationID)
	if err != nil {
		return err
	}

	conv, err := s.Service.GetConversation(cmd.Context(), conversationID)
	if err != nil {
		return err
	}
	if cliui.Structured(c.output) {
		return cliui.Encode(c.out, c.output, map[string]any{
			"conversation": conv,
			"jobs":         all,
		})
	}

	fmt.Fprintln(c.out)
	cliui.KV(c.out, "Transcript version:", cliui.OrNone(conv.ActiveTranscriptVersionID))
	cliui.KV(c.out, "Memory version:", cliui.OrNone(conv.ActiveMemoryVersionID))
	stack.PrintJobs(c.out, all)
	fmt.Fprintln(c.out)

	return stack.Failed(all)
}
