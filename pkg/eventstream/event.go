package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeJobCompleted is emitted after a job reaches completed.
	EventTypeJobCompleted = "chronicle.job.completed"

	// EventTypeJobFailed is emitted after a job reaches failed.
	EventTypeJobFailed = "chronicle.job.failed"

	// EventTypeJobRetrying is emitted when a failed attempt is requeued.
	EventTypeJobRetrying = "chronicle.job.retrying"

	// EventTypeVersionActivated is emitted after a version becomes active.
	EventTypeVersionActivated = "chronicle.version.activated"
)

// Event is a transport-neutral pipeline lifecycle event.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	ConversationID string `json:"conversation_id,omitempty"`

	// Job events.
	JobID   string `json:"job_id,omitempty"`
	JobType string `json:"job_type,omitempty"`
	Status  string `json:"status,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`

	// Version events.
	VersionKind string `json:"version_kind,omitempty"`
	VersionID   string `json:"version_id,omitempty"`
}

// NewEvent stamps a new event of the given type.
func NewEvent(eventType string) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
	}
}
