package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/papercomputeco/chronicle/pkg/eventstream"
	"github.com/papercomputeco/chronicle/pkg/jobs"
)

// PanicError is recorded when a handler panics. It is never retried.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// process runs one claimed job to a recorded outcome.
func (p *Pool) process(ctx context.Context, workerID string, job *jobs.Job) {
	log := p.logger.With(
		"worker_id", workerID,
		"job_id", job.ID,
		"job_type", job.Type,
		"conversation_id", job.Payload.ConversationID,
		"attempt", job.AttemptCount,
	)
	log.Info("job claimed")
	start := time.Now()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.heartbeat(hbCtx, workerID, job.ID, log)
	}()

	result, err := p.run(ctx, job)

	stopHeartbeat()
	<-hbDone

	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the handler: leave the claim for recovery.
		log.Warn("job abandoned on shutdown", "error", err)
		return
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err == nil {
		p.complete(fctx, workerID, job, result, time.Since(start), log)
		return
	}
	p.fail(fctx, workerID, job, err, log)
}

// run calls the handler, converting a panic into a PanicError.
func (p *Pool) run(ctx context.Context, job *jobs.Job) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return p.config.Handlers[job.Type].Handle(ctx, job.Clone())
}

// heartbeat extends the lease every third of its duration until ctx ends.
func (p *Pool) heartbeat(ctx context.Context, workerID, jobID string, log *slog.Logger) {
	ticker := time.NewTicker(max(p.config.LeaseDuration/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.config.Store.Heartbeat(ctx, jobID, workerID, p.config.LeaseDuration); err != nil {
				if ctx.Err() == nil {
					log.Warn("failed to extend job lease", "error", err)
				}
			}
		}
	}
}

func (p *Pool) complete(ctx context.Context, workerID string, job *jobs.Job, result map[string]any, took time.Duration, log *slog.Logger) {
	if err := p.config.Store.Complete(ctx, job.ID, workerID, result); err != nil {
		log.Error("failed to record job completion", "error", err)
		return
	}
	log.Info("job completed", "duration", took.Round(time.Millisecond).String())

	event := p.jobEvent(eventstream.EventTypeJobCompleted, job, jobs.StatusCompleted)
	p.publish(ctx, event, log)
}

func (p *Pool) fail(ctx context.Context, workerID string, job *jobs.Job, handlerErr error, log *slog.Logger) {
	failure := jobs.Failure{Error: handlerErr.Error()}

	var panicErr *PanicError
	if errors.As(handlerErr, &panicErr) {
		failure.Diagnostic = map[string]any{"panic": fmt.Sprint(panicErr.Value), "stack": panicErr.Stack}
	} else {
		failure.Retryable, failure.Diagnostic = p.config.Classify(handlerErr)
	}
	if failure.Retryable {
		failure.RetryAt = time.Now().UTC().Add(p.config.Backoff.Delay(job.AttemptCount))
	}

	updated, err := p.config.Store.Fail(ctx, job.ID, workerID, failure)
	if err != nil {
		log.Error("failed to record job failure", "error", err, "handler_error", handlerErr)
		return
	}

	if updated.Status == jobs.StatusQueued {
		log.Warn("job attempt failed, retrying",
			"error", handlerErr,
			"retry_at", updated.AvailableAt,
		)
		event := p.jobEvent(eventstream.EventTypeJobRetrying, updated, jobs.StatusQueued)
		event.Error = failure.Error
		p.publish(ctx, event, log)
		return
	}

	if panicErr != nil {
		log.Error("job handler panicked", "error", handlerErr, "stack", panicErr.Stack)
	} else {
		log.Error("job failed", "error", handlerErr, "retryable", failure.Retryable)
	}
	event := p.jobEvent(eventstream.EventTypeJobFailed, updated, jobs.StatusFailed)
	event.Error = failure.Error
	p.publish(ctx, event, log)
}

func (p *Pool) jobEvent(eventType string, job *jobs.Job, status jobs.Status) *eventstream.Event {
	event := eventstream.NewEvent(eventType)
	event.ConversationID = job.Payload.ConversationID
	event.JobID = job.ID
	event.JobType = string(job.Type)
	event.Status = string(status)
	event.Attempt = job.AttemptCount
	return event
}

func (p *Pool) publish(ctx context.Context, event *eventstream.Event, log *slog.Logger) {
	if err := p.config.Publisher.Publish(ctx, event); err != nil {
		log.Warn("failed to publish job event", "event_type", event.EventType, "error", err)
	}
}
