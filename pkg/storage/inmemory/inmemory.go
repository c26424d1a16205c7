// Package inmemory provides a storage.Driver kept entirely in process
// memory. It is used by tests and ephemeral runs; nothing survives a
// restart.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

// Driver implements storage.Driver using maps guarded by a single mutex, so
// every operation is atomic with respect to every other.
type Driver struct {
	mu sync.RWMutex

	jobTable      map[string]*jobs.Job
	conversations map[string]*conversation.Conversation
	transcripts   map[string]*conversation.TranscriptVersion
	memoryVers    map[string]*conversation.MemoryVersion
	memories      map[string]*conversation.Memory

	// seq orders records created within the same clock tick.
	seq     int64
	created map[string]int64

	// now is the clock; tests may replace it.
	now func() time.Time
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		jobTable:      make(map[string]*jobs.Job),
		conversations: make(map[string]*conversation.Conversation),
		transcripts:   make(map[string]*conversation.TranscriptVersion),
		memoryVers:    make(map[string]*conversation.MemoryVersion),
		memories:      make(map[string]*conversation.Memory),
		created:       make(map[string]int64),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the driver's time source.
func (d *Driver) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

// track records creation order for id. Callers hold the write lock.
func (d *Driver) track(id string) {
	d.seq++
	d.created[id] = d.seq
}

// sortByCreation orders items by insertion sequence. Callers hold a lock.
func sortByCreation[T any](d *Driver, items []T, id func(T) string, newestFirst bool) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := d.created[id(items[i])], d.created[id(items[j])]
		if newestFirst {
			return a > b
		}
		return a < b
	})
}

func newID() string {
	return uuid.NewString()
}

func (d *Driver) conversationLocked(id string) (*conversation.Conversation, error) {
	c, ok := d.conversations[id]
	if !ok {
		return nil, storage.NotFoundError{Kind: storage.KindConversation, ID: id}
	}
	return c, nil
}

// CreateConversation inserts c.
func (d *Driver) CreateConversation(_ context.Context, c *conversation.Conversation) (*conversation.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := c.Clone()
	if stored.ID == "" {
		stored.ID = newID()
	}
	if _, exists := d.conversations[stored.ID]; exists {
		return nil, storage.ConflictError{Kind: storage.KindConversation, ID: stored.ID, Reason: "already exists"}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = d.now()
	}
	stored.ActiveTranscriptVersionID = ""
	stored.ActiveMemoryVersionID = ""

	d.conversations[stored.ID] = stored
	d.track(stored.ID)
	return stored.Clone(), nil
}

// GetConversation retrieves a conversation by id.
func (d *Driver) GetConversation(_ context.Context, id string) (*conversation.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, err := d.conversationLocked(id)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// ListConversations returns matching conversations, newest first.
func (d *Driver) ListConversations(_ context.Context, filter conversation.Filter) ([]*conversation.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*conversation.Conversation, 0, len(d.conversations))
	for _, c := range d.conversations {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	sortByCreation(d, out, func(c *conversation.Conversation) string { return c.ID }, true)

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// EndConversation records why a conversation ended.
func (d *Driver) EndConversation(_ context.Context, id string, reason conversation.EndReason) (*conversation.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.conversationLocked(id)
	if err != nil {
		return nil, err
	}
	if c.EndedAt != nil {
		return nil, storage.ConflictError{Kind: storage.KindConversation, ID: id, Reason: "already ended"}
	}

	now := d.now()
	c.EndedAt = &now
	c.EndReason = reason
	return c.Clone(), nil
}

// UpdateConversationDetails sets the title and summaries.
func (d *Driver) UpdateConversationDetails(_ context.Context, id string, details conversation.Details) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.conversationLocked(id)
	if err != nil {
		return err
	}
	c.Title = details.Title
	c.Summary = details.Summary
	c.DetailedSummary = details.DetailedSummary
	return nil
}
