// Package conversation holds the records the pipeline produces for one
// recorded audio session: the conversation itself, its immutable transcript
// and memory versions, and the fact-level memories those versions reference.
package conversation

import (
	"time"
)

// EndReason records why a recording session was closed.
type EndReason string

const (
	EndReasonUserStopped       EndReason = "user_stopped"
	EndReasonInactivityTimeout EndReason = "inactivity_timeout"
	EndReasonUploadComplete    EndReason = "upload_complete"
)

// Valid reports whether r is a known end reason.
func (r EndReason) Valid() bool {
	switch r {
	case EndReasonUserStopped, EndReasonInactivityTimeout, EndReasonUploadComplete:
		return true
	}
	return false
}

// Default title and summary used when generation fails or there is nothing
// to summarise.
const (
	DefaultTitle   = "Conversation"
	DefaultSummary = "No content"
)

// Details are the generated descriptions of a conversation.
type Details struct {
	Title           string
	Summary         string
	DetailedSummary string
}

// Conversation is one recorded audio session.
type Conversation struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	CreatedAt      time.Time  `json:"created_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndReason      EndReason  `json:"end_reason,omitempty"`
	AudioReference string     `json:"audio_reference,omitempty"`
	IsFixture      bool       `json:"is_fixture"`
	Title          string     `json:"title,omitempty"`
	Summary        string     `json:"summary,omitempty"`

	// DetailedSummary is a multi-paragraph account of the conversation.
	DetailedSummary string `json:"detailed_summary,omitempty"`

	// Active version pointers. Empty until the first version of that kind
	// is activated. Only the version store writes these.
	ActiveTranscriptVersionID string `json:"active_transcript_version_id,omitempty"`
	ActiveMemoryVersionID     string `json:"active_memory_version_id,omitempty"`
}

// Clone returns a copy of c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// Filter narrows conversation listings.
type Filter struct {
	UserID          string
	IncludeFixtures bool
	Limit           int
}

// Matches reports whether c satisfies f.
func (f Filter) Matches(c *Conversation) bool {
	if f.UserID != "" && c.UserID != f.UserID {
		return false
	}
	if c.IsFixture && !f.IncludeFixtures {
		return false
	}
	return true
}
