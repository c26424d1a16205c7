// Package storage defines the durable stores behind the conversation
// pipeline. A Driver is both the job store and the version store; backends
// implement it in memory, on SQLite, or on Postgres.
package storage

import (
	"context"
	"time"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/jobs"
)

// JobStore persists jobs and enforces their lifecycle transitions.
type JobStore interface {
	// Enqueue persists a new queued job and returns it. The job is durable
	// before Enqueue returns.
	Enqueue(ctx context.Context, jobType jobs.Type, payload jobs.Payload, opts ...jobs.EnqueueOption) (*jobs.Job, error)

	// ClaimNext atomically moves the oldest claimable queued job of one of
	// the given types to processing on behalf of workerID, holding a lease
	// for the given duration. It returns nil, nil when nothing is claimable.
	// Concurrent callers never receive the same job.
	ClaimNext(ctx context.Context, workerID string, types []jobs.Type, lease time.Duration) (*jobs.Job, error)

	// Heartbeat extends the lease of a processing job owned by workerID.
	Heartbeat(ctx context.Context, id, workerID string, lease time.Duration) error

	// Complete moves a processing job owned by workerID to completed.
	Complete(ctx context.Context, id, workerID string, result map[string]any) error

	// Fail ends the current attempt of a processing job owned by workerID.
	// A retryable failure with attempts remaining requeues the job,
	// anything else moves it to failed.
	Fail(ctx context.Context, id, workerID string, failure jobs.Failure) (*jobs.Job, error)

	// RequeueStale recovers processing jobs whose claim is no longer live
	// and returns how many jobs it touched.
	RequeueStale(ctx context.Context, q jobs.StaleQuery) (int, error)

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, id string) (*jobs.Job, error)

	// ListJobs returns jobs matching the filter, newest first.
	ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error)

	// Stats counts jobs per status.
	Stats(ctx context.Context) (jobs.Stats, error)
}

// ConversationStore persists conversations.
type ConversationStore interface {
	// CreateConversation inserts c, assigning an id and created_at when unset.
	CreateConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error)

	// GetConversation retrieves a conversation by id.
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)

	// ListConversations returns conversations matching the filter, newest first.
	ListConversations(ctx context.Context, filter conversation.Filter) ([]*conversation.Conversation, error)

	// EndConversation records the end reason of an open conversation.
	EndConversation(ctx context.Context, id string, reason conversation.EndReason) (*conversation.Conversation, error)

	// UpdateConversationDetails sets the generated title and summaries.
	UpdateConversationDetails(ctx context.Context, id string, details conversation.Details) error
}

// VersionStore persists transcript and memory versions. Versions are
// append-only; activation is a separate atomic pointer swap on the
// conversation record.
type VersionStore interface {
	// CreateTranscriptVersion appends a new transcript version.
	CreateTranscriptVersion(ctx context.Context, conversationID string, segments []conversation.Segment, source conversation.Source) (*conversation.TranscriptVersion, error)

	// GetTranscriptVersion retrieves a transcript version of a conversation.
	GetTranscriptVersion(ctx context.Context, conversationID, versionID string) (*conversation.TranscriptVersion, error)

	// ActivateTranscriptVersion points the conversation at versionID.
	// Activating the already active version succeeds without change.
	ActivateTranscriptVersion(ctx context.Context, conversationID, versionID string) error

	// CreateMemoryVersion inserts the draft's new memories and the version
	// membership in one transaction.
	CreateMemoryVersion(ctx context.Context, draft conversation.MemoryVersionDraft) (*conversation.MemoryVersion, error)

	// GetMemoryVersion retrieves a memory version with its memories loaded.
	GetMemoryVersion(ctx context.Context, conversationID, versionID string) (*conversation.MemoryVersion, error)

	// ActivateMemoryVersion points the conversation at versionID.
	ActivateMemoryVersion(ctx context.Context, conversationID, versionID string) error

	// ActiveMemories returns the memories of the conversation's active
	// memory version, or nothing when none is active.
	ActiveMemories(ctx context.Context, conversationID string) ([]*conversation.Memory, error)

	// ListVersions returns the versions of one kind, oldest first.
	ListVersions(ctx context.Context, conversationID string, kind conversation.VersionKind) ([]conversation.VersionInfo, error)

	// DeleteVersion removes an inactive version.
	DeleteVersion(ctx context.Context, conversationID string, kind conversation.VersionKind, versionID string) error
}

// MemoryStore reads individual memories regardless of version.
type MemoryStore interface {
	// GetMemory retrieves a memory by id.
	GetMemory(ctx context.Context, id string) (*conversation.Memory, error)
}

// Driver is the full durable state of the pipeline.
type Driver interface {
	JobStore
	ConversationStore
	VersionStore
	MemoryStore

	// Close releases any resources held by the driver.
	Close() error
}
