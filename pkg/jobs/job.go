// Package jobs defines the durable unit of asynchronous work driven through
// the conversation pipeline: its type, payload, lifecycle status, and the
// transition rules every job store must enforce.
//
// A job moves along exactly these edges:
//
//	queued -> processing -> completed
//	                    \-> failed
//	                    \-> queued   (retryable failure or stale-claim requeue)
//
// Nothing else is reachable. Stores validate every write with CanTransition.
package jobs

import (
	"time"
)

// Type identifies which stage handler executes a job.
type Type string

const (
	// TypeTranscription turns stored audio into a transcript version.
	TypeTranscription Type = "transcription"

	// TypeMemoryExtraction turns a transcript version into a memory version.
	TypeMemoryExtraction Type = "memory_extraction"
)

// AllTypes returns every job type known to the pipeline.
func AllTypes() []Type {
	return []Type{TypeTranscription, TypeMemoryExtraction}
}

// Valid reports whether t is a known job type.
func (t Type) Valid() bool {
	switch t {
	case TypeTranscription, TypeMemoryExtraction:
		return true
	}
	return false
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusQueued
	}
	return false
}

// Payload carries the inputs of a job. Which fields are meaningful depends
// on the job type: transcription jobs use AudioReference, memory extraction
// jobs use SourceVersionID (the transcript version to extract from).
type Payload struct {
	ConversationID  string            `json:"conversation_id"`
	SourceVersionID string            `json:"source_version_id,omitempty"`
	AudioReference  string            `json:"audio_reference,omitempty"`
	Params          map[string]string `json:"params,omitempty"`
}

// Job is a persisted unit of work.
type Job struct {
	ID      string  `json:"id"`
	Type    Type    `json:"type"`
	Payload Payload `json:"payload"`
	Status  Status  `json:"status"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	AvailableAt time.Time  `json:"available_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	AttemptCount int `json:"attempt_count"`
	MaxAttempts  int `json:"max_attempts"`

	// WorkerID and LeaseExpiresAt identify the current claim while the job
	// is processing. Both are cleared when the job leaves processing.
	WorkerID       string     `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	LastError string         `json:"last_error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// AttemptsRemaining reports whether another attempt is allowed after the
// current one.
func (j *Job) AttemptsRemaining() bool {
	return j.AttemptCount < j.MaxAttempts
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	c := *j
	if j.Payload.Params != nil {
		c.Payload.Params = make(map[string]string, len(j.Payload.Params))
		for k, v := range j.Payload.Params {
			c.Payload.Params[k] = v
		}
	}
	if j.Result != nil {
		c.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			c.Result[k] = v
		}
	}
	c.StartedAt = cloneTime(j.StartedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	c.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Failure describes how a processing job ended unsuccessfully.
type Failure struct {
	// Error is recorded as the job's last_error.
	Error string

	// Retryable requeues the job when attempts remain.
	Retryable bool

	// RetryAt is when a requeued job becomes claimable again.
	RetryAt time.Time

	// Diagnostic is stored as the job result, e.g. raw provider output.
	Diagnostic map[string]any
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Types          []Type
	Statuses       []Status
	ConversationID string
	Limit          int
	Offset         int
}

// Matches reports whether j satisfies every non-zero criterion of f.
func (f Filter) Matches(j *Job) bool {
	if len(f.Types) > 0 && !containsType(f.Types, j.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, j.Status) {
		return false
	}
	if f.ConversationID != "" && j.Payload.ConversationID != f.ConversationID {
		return false
	}
	return true
}

func containsType(ts []Type, t Type) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

func containsStatus(ss []Status, s Status) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Stats counts jobs per status.
type Stats struct {
	Queued     int `json:"queued_jobs"`
	Processing int `json:"processing_jobs"`
	Completed  int `json:"completed_jobs"`
	Failed     int `json:"failed_jobs"`
}

// Total is the number of jobs across all statuses.
func (s Stats) Total() int {
	return s.Queued + s.Processing + s.Completed + s.Failed
}

// Add increments the counter for status by n.
func (s *Stats) Add(status Status, n int) {
	switch status {
	case StatusQueued:
		s.Queued += n
	case StatusProcessing:
		s.Processing += n
	case StatusCompleted:
		s.Completed += n
	case StatusFailed:
		s.Failed += n
	}
}

// StaleQuery selects processing jobs whose claim is no longer live.
type StaleQuery struct {
	// Now is compared against each job's lease expiry.
	Now time.Time

	// OwnerPrefix, when set, additionally matches every processing job
	// whose worker id starts with it regardless of lease. A node passes its
	// own id at startup since none of its previous claims can still be live.
	OwnerPrefix string
}

// StaleClaimExhausted is the last_error recorded when a stale job has no
// attempts left.
const StaleClaimExhausted = "stale claim: attempts exhausted"

// EnqueueOption adjusts a job before it is persisted.
type EnqueueOption func(*Job)

// WithMaxAttempts overrides the attempt budget of the enqueued job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// WithAvailableAt delays the first claim until t.
func WithAvailableAt(t time.Time) EnqueueOption {
	return func(j *Job) {
		j.AvailableAt = t.UTC()
	}
}

// DefaultMaxAttempts is used when no attempt budget is given.
const DefaultMaxAttempts = 3
