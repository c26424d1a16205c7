// Package search defines the memory search index and the payload encoding
// shared by its implementations.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/papercomputeco/chronicle/pkg/conversation"
)

// DefaultLimit is the number of results returned when Query.Limit is unset.
const DefaultLimit = 10

// ErrEmptyQuery is returned when a search has no query text.
var ErrEmptyQuery = errors.New("search query text is required")

// Index stores active memories for retrieval. Implementations combine a
// ranking layer (vectors or token overlap) with the Query filters.
type Index interface {
	// Upsert stores m, replacing any entry with the same id.
	Upsert(ctx context.Context, m *conversation.Memory) error

	// Delete removes the memory with id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Search returns memories ranked by relevance to q.Text, best first.
	Search(ctx context.Context, q Query) ([]Result, error)

	Close() error
}

// Query selects and ranks memories.
type Query struct {
	Text string

	// UserID and ConversationID restrict results when set.
	UserID         string
	ConversationID string

	// Contains requires the memory content to contain this text.
	Contains string

	Limit          int
	ScoreThreshold float32
}

// Normalize validates q and fills defaults.
func (q Query) Normalize() (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, ErrEmptyQuery
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	return q, nil
}

// Result is a ranked memory.
type Result struct {
	Memory *conversation.Memory `json:"memory"`
	Score  float32              `json:"score"`
}

// Payload field names stored alongside each indexed memory.
const (
	FieldID             = "memory_id"
	FieldUserID         = "user_id"
	FieldConversationID = "conversation_id"
	FieldVersionID      = "memory_version_id"
	FieldCreatedAt      = "created_at"
	FieldSupersedes     = "supersedes"
	FieldMetadata       = "metadata"
	FieldContent        = "content"
)

// Payload flattens m into string fields. Metadata is stored as JSON.
func Payload(m *conversation.Memory) (map[string]string, error) {
	p := map[string]string{
		FieldID:             m.ID,
		FieldUserID:         m.UserID,
		FieldConversationID: m.SourceConversationID,
		FieldVersionID:      m.SourceMemoryVersionID,
		FieldCreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.Supersedes != "" {
		p[FieldSupersedes] = m.Supersedes
	}
	if len(m.Metadata) > 0 {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata for memory %s: %w", m.ID, err)
		}
		p[FieldMetadata] = string(raw)
	}
	return p, nil
}

// MemoryFromPayload rebuilds a memory from its content and Payload fields.
func MemoryFromPayload(content string, p map[string]string) (*conversation.Memory, error) {
	m := &conversation.Memory{
		ID:                    p[FieldID],
		UserID:                p[FieldUserID],
		Content:               content,
		SourceConversationID:  p[FieldConversationID],
		SourceMemoryVersionID: p[FieldVersionID],
		Supersedes:            p[FieldSupersedes],
	}
	if ts := p[FieldCreatedAt]; ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("decoding created_at for memory %s: %w", m.ID, err)
		}
		m.CreatedAt = t
	}
	if raw := p[FieldMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for memory %s: %w", m.ID, err)
		}
	}
	return m, nil
}

// Tokens lowercases s and splits it into words.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Matches reports whether m passes the filters in q, ignoring ranking.
func (q Query) Matches(m *conversation.Memory) bool {
	if q.UserID != "" && m.UserID != q.UserID {
		return false
	}
	if q.ConversationID != "" && m.SourceConversationID != q.ConversationID {
		return false
	}
	if q.Contains != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(q.Contains)) {
		return false
	}
	return true
}
