// Package jobscmder provides the jobs command for inspecting the pipeline
// job queue.
package jobscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/config"
	"github.com/papercomputeco/chronicle/pkg/jobs"
)

const jobsLongDesc string = `Inspect the pipeline job queue.

Every upload queues a transcription job, and every successful transcription
queues a memory extraction job. Failed attempts are retried with backoff
until the job's attempt budget is spent.

  chronicle jobs list     List jobs, newest first
  chronicle jobs get      Show one job with its last error and result
  chronicle jobs stats    Count jobs per status
  chronicle jobs top      Watch the queue live`

const jobsShortDesc string = "Inspect the job queue"

func NewJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: jobsShortDesc,
		Long:  jobsLongDesc,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newTopCmd())

	return cmd
}

func openStack(cmd *cobra.Command) (*stack.Stack, error) {
	cfg, err := stack.LoadConfig(cmd, config.StackFlags)
	if err != nil {
		return nil, err
	}
	return stack.Open(cmd.Context(), cfg, stack.Options{
		ConfigDir: stack.ConfigDir(cmd),
		Logger:    stack.NewLogger(cmd),
	})
}

func parseTypes(values []string) ([]jobs.Type, error) {
	out := make([]jobs.Type, 0, len(values))
	for _, v := range values {
		t := jobs.Type(v)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown job type %q (expected %s or %s)", v, jobs.TypeTranscription, jobs.TypeMemoryExtraction)
		}
		out = append(out, t)
	}
	return out, nil
}

func parseStatuses(values []string) ([]jobs.Status, error) {
	out := make([]jobs.Status, 0, len(values))
	for _, v := range values {
		s := jobs.Status(v)
		if !s.Valid() {
			return nil, fmt.Errorf("unknown job status %q", v)
		}
		out = append(out, s)
	}
	return out, nil
}
