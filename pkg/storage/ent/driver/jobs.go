package entdriver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

const (
	jobsTable = "jobs"

	// claimBatch is how many candidates one claim round tries.
	claimBatch = 8

	// claimRounds bounds retries when every candidate was taken by another
	// worker between select and update.
	claimRounds = 4
)

var jobColumns = []string{
	"id", "type", "status", "payload", "enqueued_at", "available_at",
	"started_at", "finished_at", "attempt_count", "max_attempts",
	"worker_id", "lease_expires_at", "last_error", "result",
}

func scanJob(rows entsql.ColumnScanner) (*jobs.Job, error) {
	var (
		j                        jobs.Job
		typ, status              string
		payload, result          []byte
		started, finished, lease sql.NullTime
		worker, lastErr          sql.NullString
	)
	if err := rows.Scan(
		&j.ID, &typ, &status, &payload, &j.EnqueuedAt, &j.AvailableAt,
		&started, &finished, &j.AttemptCount, &j.MaxAttempts,
		&worker, &lease, &lastErr, &result,
	); err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	j.Type = jobs.Type(typ)
	j.Status = jobs.Status(status)
	j.EnqueuedAt = j.EnqueuedAt.UTC()
	j.AvailableAt = j.AvailableAt.UTC()
	j.StartedAt = timePtr(started)
	j.FinishedAt = timePtr(finished)
	j.LeaseExpiresAt = timePtr(lease)
	j.WorkerID = worker.String
	j.LastError = lastErr.String

	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	res, err := unmarshalMap(result)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
	}
	j.Result = res
	return &j, nil
}

// Enqueue persists a new queued job.
func (ed *EntDriver) Enqueue(ctx context.Context, jobType jobs.Type, payload jobs.Payload, opts ...jobs.EnqueueOption) (*jobs.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	now := ed.now()
	j := &jobs.Job{
		ID:          newID(),
		Type:        jobType,
		Payload:     payload,
		Status:      jobs.StatusQueued,
		EnqueuedAt:  now,
		AvailableAt: now,
		MaxAttempts: jobs.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(j)
	}

	payloadJSON, err := marshalJSON(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	query, args := ed.builder().Insert(jobsTable).
		Columns("id", "type", "status", "conversation_id", "payload", "enqueued_at", "available_at", "attempt_count", "max_attempts").
		Values(j.ID, string(j.Type), string(j.Status), nullString(payload.ConversationID), payloadJSON, j.EnqueuedAt, j.AvailableAt, 0, j.MaxAttempts).
		Query()
	if _, err := exec(ctx, ed.drv, query, args); err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	return j, nil
}

// ClaimNext claims the oldest available queued job of the given types. The
// claim is a compare-and-swap on the queued status, so concurrent workers
// in any number of processes never claim the same job.
func (ed *EntDriver) ClaimNext(ctx context.Context, workerID string, types []jobs.Type, lease time.Duration) (*jobs.Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	typeArgs := make([]any, len(types))
	for i, t := range types {
		typeArgs[i] = string(t)
	}

	for round := 0; round < claimRounds; round++ {
		now := ed.now()
		b := ed.builder()
		query, args := b.Select("id").From(b.Table(jobsTable)).
			Where(entsql.And(
				entsql.EQ("status", string(jobs.StatusQueued)),
				entsql.In("type", typeArgs...),
				entsql.LTE("available_at", now),
			)).
			OrderBy(entsql.Asc("enqueued_at"), entsql.Asc("id")).
			Limit(claimBatch).
			Query()

		var candidates []string
		err := queryRows(ctx, ed.drv, query, args, func(rows entsql.ColumnScanner) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			candidates = append(candidates, id)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to select claimable jobs: %w", err)
		}
		if len(candidates) == 0 {
			return nil, nil
		}

		for _, id := range candidates {
			expires := now.Add(lease)
			query, args := ed.builder().Update(jobsTable).
				Set("status", string(jobs.StatusProcessing)).
				Set("worker_id", workerID).
				Set("started_at", now).
				Set("lease_expires_at", expires).
				Add("attempt_count", 1).
				Where(entsql.And(
					entsql.EQ("id", id),
					entsql.EQ("status", string(jobs.StatusQueued)),
				)).
				Query()
			n, err := exec(ctx, ed.drv, query, args)
			if err != nil {
				return nil, fmt.Errorf("failed to claim job: %w", err)
			}
			if n == 1 {
				return ed.GetJob(ctx, id)
			}
		}
	}
	return nil, nil
}

// ownedUpdate applies an update to a processing job held by workerID and
// reports why it did not apply when no row matched.
func (ed *EntDriver) ownedUpdate(ctx context.Context, q querier, id, workerID string, update *entsql.UpdateBuilder) error {
	query, args := update.Where(entsql.And(
		entsql.EQ("id", id),
		entsql.EQ("status", string(jobs.StatusProcessing)),
		entsql.EQ("worker_id", workerID),
	)).Query()

	n, err := exec(ctx, q, query, args)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 1 {
		return nil
	}

	j, err := ed.getJob(ctx, q, id)
	if err != nil {
		return err
	}
	if j.Status != jobs.StatusProcessing {
		return fmt.Errorf("job %s is %s: %w", id, j.Status, storage.ErrInvalidTransition)
	}
	return storage.ConflictError{Kind: storage.KindJob, ID: id, Reason: "claimed by another worker"}
}

// Heartbeat extends the lease of an owned job.
func (ed *EntDriver) Heartbeat(ctx context.Context, id, workerID string, lease time.Duration) error {
	update := ed.builder().Update(jobsTable).
		Set("lease_expires_at", ed.now().Add(lease))
	return ed.ownedUpdate(ctx, ed.drv, id, workerID, update)
}

// Complete marks an owned job completed.
func (ed *EntDriver) Complete(ctx context.Context, id, workerID string, result map[string]any) error {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	update := ed.builder().Update(jobsTable).
		Set("status", string(jobs.StatusCompleted)).
		Set("finished_at", ed.now()).
		Set("result", resultJSON).
		SetNull("last_error").
		SetNull("worker_id").
		SetNull("lease_expires_at")
	return ed.ownedUpdate(ctx, ed.drv, id, workerID, update)
}

// Fail ends the current attempt of an owned job.
func (ed *EntDriver) Fail(ctx context.Context, id, workerID string, failure jobs.Failure) (*jobs.Job, error) {
	diagnostic, err := marshalJSON(failure.Diagnostic)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job diagnostic: %w", err)
	}

	var out *jobs.Job
	err = ed.withTx(ctx, func(tx querier) error {
		j, err := ed.getJob(ctx, tx, id)
		if err != nil {
			return err
		}

		now := ed.now()
		update := ed.builder().Update(jobsTable).
			Set("last_error", failure.Error).
			Set("result", diagnostic).
			SetNull("worker_id").
			SetNull("lease_expires_at")

		if failure.Retryable && j.AttemptsRemaining() {
			retryAt := failure.RetryAt.UTC()
			if retryAt.IsZero() {
				retryAt = now
			}
			update.Set("status", string(jobs.StatusQueued)).Set("available_at", retryAt)
		} else {
			update.Set("status", string(jobs.StatusFailed)).Set("finished_at", now)
		}

		if err := ed.ownedUpdate(ctx, tx, id, workerID, update); err != nil {
			return err
		}
		out, err = ed.getJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RequeueStale recovers processing jobs whose claim is no longer live.
func (ed *EntDriver) RequeueStale(ctx context.Context, q jobs.StaleQuery) (int, error) {
	now := q.Now.UTC()
	stale := entsql.Or(
		entsql.IsNull("lease_expires_at"),
		entsql.LT("lease_expires_at", now),
	)
	if q.OwnerPrefix != "" {
		stale = entsql.Or(stale, entsql.HasPrefix("worker_id", q.OwnerPrefix))
	}
	processing := entsql.EQ("status", string(jobs.StatusProcessing))

	touched := 0
	err := ed.withTx(ctx, func(tx querier) error {
		// Exhausted jobs fail first so the requeue below only sees the rest.
		query, args := ed.builder().Update(jobsTable).
			Set("status", string(jobs.StatusFailed)).
			Set("finished_at", now).
			Set("last_error", jobs.StaleClaimExhausted).
			SetNull("worker_id").
			SetNull("lease_expires_at").
			Where(entsql.And(processing, stale, entsql.ColumnsGTE("attempt_count", "max_attempts"))).
			Query()
		failed, err := exec(ctx, tx, query, args)
		if err != nil {
			return fmt.Errorf("failed to fail exhausted stale jobs: %w", err)
		}

		query, args = ed.builder().Update(jobsTable).
			Set("status", string(jobs.StatusQueued)).
			Set("available_at", now).
			SetNull("worker_id").
			SetNull("lease_expires_at").
			Where(entsql.And(processing, stale)).
			Query()
		requeued, err := exec(ctx, tx, query, args)
		if err != nil {
			return fmt.Errorf("failed to requeue stale jobs: %w", err)
		}

		touched = int(failed + requeued)
		return nil
	})
	return touched, err
}

func (ed *EntDriver) getJob(ctx context.Context, q querier, id string) (*jobs.Job, error) {
	b := ed.builder()
	query, args := b.Select(jobColumns...).From(b.Table(jobsTable)).
		Where(entsql.EQ("id", id)).
		Query()

	var found *jobs.Job
	err := queryRows(ctx, q, query, args, func(rows entsql.ColumnScanner) error {
		j, err := scanJob(rows)
		found = j
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if found == nil {
		return nil, storage.NotFoundError{Kind: storage.KindJob, ID: id}
	}
	return found, nil
}

// GetJob retrieves a job by id.
func (ed *EntDriver) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	return ed.getJob(ctx, ed.drv, id)
}

// ListJobs returns matching jobs, newest first.
func (ed *EntDriver) ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error) {
	b := ed.builder()
	sel := b.Select(jobColumns...).From(b.Table(jobsTable))

	var preds []*entsql.Predicate
	if len(filter.Types) > 0 {
		vals := make([]any, len(filter.Types))
		for i, t := range filter.Types {
			vals[i] = string(t)
		}
		preds = append(preds, entsql.In("type", vals...))
	}
	if len(filter.Statuses) > 0 {
		vals := make([]any, len(filter.Statuses))
		for i, s := range filter.Statuses {
			vals[i] = string(s)
		}
		preds = append(preds, entsql.In("status", vals...))
	}
	if filter.ConversationID != "" {
		preds = append(preds, entsql.EQ("conversation_id", filter.ConversationID))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	sel.OrderBy(entsql.Desc("enqueued_at"), entsql.Desc("id"))
	switch {
	case filter.Limit > 0:
		sel.Limit(filter.Limit)
	case filter.Offset > 0:
		// SQLite rejects OFFSET without LIMIT.
		sel.Limit(math.MaxInt32)
	}
	if filter.Offset > 0 {
		sel.Offset(filter.Offset)
	}

	query, args := sel.Query()
	out := []*jobs.Job{}
	err := queryRows(ctx, ed.drv, query, args, func(rows entsql.ColumnScanner) error {
		j, err := scanJob(rows)
		if err != nil {
			return err
		}
		out = append(out, j)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return out, nil
}

// Stats counts jobs per status.
func (ed *EntDriver) Stats(ctx context.Context) (jobs.Stats, error) {
	b := ed.builder()
	query, args := b.Select("status", entsql.Count("*")).From(b.Table(jobsTable)).
		GroupBy("status").
		Query()

	var s jobs.Stats
	err := queryRows(ctx, ed.drv, query, args, func(rows entsql.ColumnScanner) error {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return err
		}
		s.Add(jobs.Status(status), n)
		return nil
	})
	if err != nil {
		return jobs.Stats{}, fmt.Errorf("failed to count jobs: %w", err)
	}
	return s, nil
}
