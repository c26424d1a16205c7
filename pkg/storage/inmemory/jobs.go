package inmemory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

// Enqueue persists a new queued job.
func (d *Driver) Enqueue(_ context.Context, jobType jobs.Type, payload jobs.Payload, opts ...jobs.EnqueueOption) (*jobs.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
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
	j = j.Clone()

	d.jobTable[j.ID] = j
	d.track(j.ID)
	return j.Clone(), nil
}

// ClaimNext claims the oldest available queued job of the given types.
func (d *Driver) ClaimNext(_ context.Context, workerID string, types []jobs.Type, lease time.Duration) (*jobs.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var next *jobs.Job
	for _, j := range d.jobTable {
		if j.Status != jobs.StatusQueued || j.AvailableAt.After(now) {
			continue
		}
		if !(jobs.Filter{Types: types}).Matches(j) {
			continue
		}
		if next == nil || d.created[j.ID] < d.created[next.ID] {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	expires := now.Add(lease)
	started := now
	next.Status = jobs.StatusProcessing
	next.WorkerID = workerID
	next.StartedAt = &started
	next.LeaseExpiresAt = &expires
	next.AttemptCount++
	return next.Clone(), nil
}

// ownedLocked returns the processing job id held by workerID.
func (d *Driver) ownedLocked(id, workerID string) (*jobs.Job, error) {
	j, ok := d.jobTable[id]
	if !ok {
		return nil, storage.NotFoundError{Kind: storage.KindJob, ID: id}
	}
	if j.Status != jobs.StatusProcessing {
		return nil, fmt.Errorf("job %s is %s: %w", id, j.Status, storage.ErrInvalidTransition)
	}
	if j.WorkerID != workerID {
		return nil, storage.ConflictError{Kind: storage.KindJob, ID: id, Reason: "claimed by another worker"}
	}
	return j, nil
}

// Heartbeat extends the lease of an owned job.
func (d *Driver) Heartbeat(_ context.Context, id, workerID string, lease time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, err := d.ownedLocked(id, workerID)
	if err != nil {
		return err
	}
	expires := d.now().Add(lease)
	j.LeaseExpiresAt = &expires
	return nil
}

// Complete marks an owned job completed.
func (d *Driver) Complete(_ context.Context, id, workerID string, result map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, err := d.ownedLocked(id, workerID)
	if err != nil {
		return err
	}

	finished := d.now()
	j.Status = jobs.StatusCompleted
	j.FinishedAt = &finished
	j.Result = result
	j.LastError = ""
	releaseClaim(j)
	return nil
}

// Fail ends the current attempt of an owned job.
func (d *Driver) Fail(_ context.Context, id, workerID string, failure jobs.Failure) (*jobs.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, err := d.ownedLocked(id, workerID)
	if err != nil {
		return nil, err
	}

	j.LastError = failure.Error
	j.Result = failure.Diagnostic
	releaseClaim(j)

	if failure.Retryable && j.AttemptsRemaining() {
		j.Status = jobs.StatusQueued
		j.AvailableAt = failure.RetryAt.UTC()
		if j.AvailableAt.IsZero() {
			j.AvailableAt = d.now()
		}
		return j.Clone(), nil
	}

	finished := d.now()
	j.Status = jobs.StatusFailed
	j.FinishedAt = &finished
	return j.Clone(), nil
}

// RequeueStale recovers processing jobs whose claim is no longer live.
func (d *Driver) RequeueStale(_ context.Context, q jobs.StaleQuery) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	touched := 0
	for _, j := range d.jobTable {
		if j.Status != jobs.StatusProcessing {
			continue
		}
		expired := j.LeaseExpiresAt == nil || j.LeaseExpiresAt.Before(q.Now)
		owned := q.OwnerPrefix != "" && strings.HasPrefix(j.WorkerID, q.OwnerPrefix)
		if !expired && !owned {
			continue
		}

		releaseClaim(j)
		if j.AttemptsRemaining() {
			j.Status = jobs.StatusQueued
			j.AvailableAt = q.Now
		} else {
			finished := q.Now
			j.Status = jobs.StatusFailed
			j.FinishedAt = &finished
			j.LastError = jobs.StaleClaimExhausted
		}
		touched++
	}
	return touched, nil
}

func releaseClaim(j *jobs.Job) {
	j.WorkerID = ""
	j.LeaseExpiresAt = nil
}

// GetJob retrieves a job by id.
func (d *Driver) GetJob(_ context.Context, id string) (*jobs.Job, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	j, ok := d.jobTable[id]
	if !ok {
		return nil, storage.NotFoundError{Kind: storage.KindJob, ID: id}
	}
	return j.Clone(), nil
}

// ListJobs returns matching jobs, newest first.
func (d *Driver) ListJobs(_ context.Context, filter jobs.Filter) ([]*jobs.Job, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*jobs.Job, 0, len(d.jobTable))
	for _, j := range d.jobTable {
		if filter.Matches(j) {
			out = append(out, j.Clone())
		}
	}
	sortByCreation(d, out, func(j *jobs.Job) string { return j.ID }, true)

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*jobs.Job{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Stats counts jobs per status.
func (d *Driver) Stats(_ context.Context) (jobs.Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var s jobs.Stats
	for _, j := range d.jobTable {
		s.Add(j.Status, 1)
	}
	return s, nil
}
