package stack

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/jobs"
)

// waitPoll is how often WaitIdle checks the queue.
var waitPoll = 250 * time.Millisecond

// WaitIdle blocks until no job of the conversation is queued or processing
// and returns every job of the conversation, newest first. A stage handler
// enqueues its follow-up before its own job completes, so an idle
// conversation has no work left.
func (s *Stack) WaitIdle(ctx context.Context, conversationID string) ([]*jobs.Job, error) {
	pending := jobs.Filter{
		ConversationID: conversationID,
		Statuses:       []jobs.Status{jobs.StatusQueued, jobs.StatusProcessing},
		Limit:          1,
	}

	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()

	for {
		open, err := s.Store.ListJobs(ctx, pending)
		if err != nil {
			return nil, err
		}
		if len(open) == 0 {
			return s.Store.ListJobs(ctx, jobs.Filter{ConversationID: conversationID})
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Await starts the local workers and waits, behind a spinner on w showing
// msg, until the conversation has no open jobs.
func (s *Stack) Await(ctx context.Context, w io.Writer, msg, conversationID string) ([]*jobs.Job, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	var all []*jobs.Job
	err := cliui.Step(w, msg, func() error {
		var err error
		all, err = s.WaitIdle(ctx, conversationID)
		return err
	})
	return all, err
}

// Failed returns an error naming the first failed job of all.
func Failed(all []*jobs.Job) error {
	for _, j := range all {
		if j.Status == jobs.StatusFailed {
			return fmt.Errorf("%s job %s failed: %s", j.Type, j.ID, j.LastError)
		}
	}
	return nil
}

// PrintJobs writes one status line per job.
func PrintJobs(w io.Writer, all []*jobs.Job) {
	for _, j := range all {
		line := fmt.Sprintf("%-18s %s", j.Type, cliui.Status(string(j.Status)))
		if j.LastError != "" {
			line += "  " + cliui.DimStyle.Render(j.LastError)
		}
		fmt.Fprintf(w, "  %s\n", line)
	}
}
