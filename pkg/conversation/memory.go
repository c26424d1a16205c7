package conversation

import (
	"time"
)

// Memory is a fact-level statement extracted from a transcript. Memories are
// never edited in place: an update inserts a new row that supersedes the old
// one, and version membership decides what is active.
type Memory struct {
	ID                    string         `json:"id"`
	UserID                string         `json:"user_id"`
	Content               string         `json:"content"`
	CreatedAt             time.Time      `json:"created_at"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	SourceConversationID  string         `json:"source_conversation_id"`
	SourceMemoryVersionID string         `json:"source_memory_version_id"`

	// Supersedes is the id of the memory this one replaced through an update.
	Supersedes string `json:"supersedes,omitempty"`
}

// Clone returns a copy of m with its own metadata map.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Metadata = CloneMetadata(m.Metadata)
	return &cp
}

// CloneMetadata copies a metadata map one level deep.
func CloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// MergeMetadata returns base overlaid with override; keys in override win.
func MergeMetadata(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := CloneMetadata(base)
	if out == nil {
		out = make(map[string]any, len(override))
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
