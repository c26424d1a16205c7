// Package uploadcmder provides the upload command for queueing a recording.
package uploadcmder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/config"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
)

type uploadCommander struct {
	fixture bool
	wait    bool
	output  string

	out io.Writer
}

const uploadLongDesc string = `Upload a recorded conversation.

Stores the audio, records an ended conversation for it and queues
transcription. Memory extraction is queued when transcription completes.

Without --wait the jobs are processed by a running "chronicle serve" or
"chronicle serve worker" sharing the same storage. With --wait, local
workers process the recording and the command returns once both stages
are done.

Examples:
  chronicle upload standup.wav
  chronicle upload call.m4a --user ada --wait
  chronicle upload fixture.mp3 --fixture -o yaml`

const uploadShortDesc string = "Upload a recorded conversation"

func NewUploadCmd() *cobra.Command {
	cmder := &uploadCommander{}

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: uploadShortDesc,
		Long:  uploadLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd, args[0])
		},
	}

	stack.AddFlags(cmd)
	stack.AddWorkerFlags(cmd)
	config.AddStringFlag(cmd, config.Flags, config.FlagUser, new(string))
	cmd.Flags().BoolVar(&cmder.fixture, "fixture", false, "Mark the conversation as a test fixture")
	cmd.Flags().BoolVar(&cmder.wait, "wait", false, "Process the recording with local workers and wait for the result")
	cmd.Flags().StringVarP(&cmder.output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")

	return cmd
}

func (c *uploadCommander) run(cmd *cobra.Command, path string) error {
	if c.output != cliui.FormatText && !cliui.Structured(c.output) {
		return fmt.Errorf("unsupported output format: %q", c.output)
	}

	keys := slices.Concat(config.StackFlags, stack.WorkerFlags, []string{config.FlagUser})
	cfg, err := stack.LoadConfig(cmd, keys)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening recording: %w", err)
	}
	defer f.Close()

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

	res, err := s.Service.Upload(cmd.Context(), pipeline.UploadRequest{
		UserID:    cfg.Pipeline.DefaultUserID,
		Filename:  filepath.Base(path),
		Reader:    f,
		IsFixture: c.fixture,
	})
	if err != nil {
		return err
	}

	if !c.wait {
		if cliui.Structured(c.output) {
			return cliui.Encode(c.out, c.output, res)
		}
		fmt.Fprintf(c.out, "\n  %s Uploaded %s\n\n", cliui.SuccessMark, cliui.ValueStyle.Render(filepath.Base(path)))
		cliui.KV(c.out, "Conversation:", res.ConversationID)
		cliui.KV(c.out, "Job:", res.JobID)
		fmt.Fprintln(c.out)
		return nil
	}

	all, err := s.Await(cmd.Context(), cmd.ErrOrStderr(), "Transcribing and extracting memories", res.ConversationID)
	if err != nil {
		return err
	}

	conv, err := s.Service.GetConversation(cmd.Context(), res.ConversationID)
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
	cliui.KV(c.out, "Conversation:", conv.ID)
	if conv.Title != "" {
		cliui.KV(c.out, "Title:", conv.Title)
	}
	cliui.KV(c.out, "Transcript version:", cliui.OrNone(conv.ActiveTranscriptVersionID))
	cliui.KV(c.out, "Memory version:", cliui.OrNone(conv.ActiveMemoryVersionID))
	stack.PrintJobs(c.out, all)
	fmt.Fprintln(c.out)

	return stack.Failed(all)
}
