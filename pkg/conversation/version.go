package conversation

import (
	"fmt"
	"strings"
	"time"
)

// VersionKind distinguishes transcript versions from memory versions.
type VersionKind string

const (
	KindTranscript VersionKind = "transcript"
	KindMemory     VersionKind = "memory"
)

// ParseVersionKind accepts "transcript" or "memory".
func ParseVersionKind(s string) (VersionKind, error) {
	switch VersionKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTranscript:
		return KindTranscript, nil
	case KindMemory:
		return KindMemory, nil
	}
	return "", fmt.Errorf("unknown version kind %q (expected transcript or memory)", s)
}

// Source records which pipeline run produced a transcript version.
type Source string

const (
	SourceOriginal  Source = "original"
	SourceReprocess Source = "reprocess"
)

// Segment is one speaker turn of a transcript. Times are seconds from the
// start of the recording.
type Segment struct {
	SpeakerID string  `json:"speaker_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

// FullText joins segment texts with single spaces, skipping empty segments.
func FullText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		t := strings.TrimSpace(s.Text)
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// TranscriptVersion is an immutable transcript snapshot.
type TranscriptVersion struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	Source         Source    `json:"source"`
	Segments       []Segment `json:"segments"`
	FullText       string    `json:"full_text"`
}

// MemoryVersion is an immutable set of memories derived from one transcript
// version.
type MemoryVersion struct {
	ID                  string    `json:"id"`
	ConversationID      string    `json:"conversation_id"`
	TranscriptVersionID string    `json:"transcript_version_id"`
	CreatedAt           time.Time `json:"created_at"`
	MemoryIDs           []string  `json:"memory_ids"`

	// Memories is populated by reads that load the full set.
	Memories []*Memory `json:"memories,omitempty"`
}

// MemoryVersionDraft is the input to creating a memory version. Keep lists
// existing memory ids carried over unchanged; New holds rows to insert. The
// version's membership is Keep plus the ids assigned to New.
type MemoryVersionDraft struct {
	ConversationID      string
	TranscriptVersionID string
	Keep                []string
	New                 []*Memory
}

// VersionInfo summarises one version for listings.
type VersionInfo struct {
	ID        string      `json:"id"`
	Kind      VersionKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
	Active    bool        `json:"active"`

	// Transcript versions.
	Source       Source `json:"source,omitempty"`
	SegmentCount int    `json:"segment_count,omitempty"`

	// Memory versions.
	TranscriptVersionID string `json:"transcript_version_id,omitempty"`
	MemoryCount         int    `json:"memory_count"`
}
