package inmemory

import (
	"context"
	"fmt"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

// CreateTranscriptVersion appends a transcript version.
func (d *Driver) CreateTranscriptVersion(_ context.Context, conversationID string, segments []conversation.Segment, source conversation.Source) (*conversation.TranscriptVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.conversationLocked(conversationID); err != nil {
		return nil, err
	}
	if source == "" {
		source = conversation.SourceOriginal
	}

	v := &conversation.TranscriptVersion{
		ID:             newID(),
		ConversationID: conversationID,
		CreatedAt:      d.now(),
		Source:         source,
		Segments:       append([]conversation.Segment(nil), segments...),
		FullText:       conversation.FullText(segments),
	}
	d.transcripts[v.ID] = v
	d.track(v.ID)
	return cloneTranscript(v), nil
}

func cloneTranscript(v *conversation.TranscriptVersion) *conversation.TranscriptVersion {
	cp := *v
	cp.Segments = append([]conversation.Segment(nil), v.Segments...)
	return &cp
}

func (d *Driver) transcriptLocked(conversationID, versionID string) (*conversation.TranscriptVersion, error) {
	v, ok := d.transcripts[versionID]
	if !ok || v.ConversationID != conversationID {
		return nil, storage.NotFoundError{Kind: storage.KindTranscript, ID: versionID}
	}
	return v, nil
}

// GetTranscriptVersion retrieves a transcript version of a conversation.
func (d *Driver) GetTranscriptVersion(_ context.Context, conversationID, versionID string) (*conversation.TranscriptVersion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, err := d.transcriptLocked(conversationID, versionID)
	if err != nil {
		return nil, err
	}
	return cloneTranscript(v), nil
}

// ActivateTranscriptVersion swaps the active transcript pointer.
func (d *Driver) ActivateTranscriptVersion(_ context.Context, conversationID, versionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.conversationLocked(conversationID)
	if err != nil {
		return err
	}
	if _, err := d.transcriptLocked(conversationID, versionID); err != nil {
		return err
	}
	c.ActiveTranscriptVersionID = versionID
	return nil
}

// CreateMemoryVersion inserts new memories and the version atomically.
func (d *Driver) CreateMemoryVersion(_ context.Context, draft conversation.MemoryVersionDraft) (*conversation.MemoryVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.conversationLocked(draft.ConversationID); err != nil {
		return nil, err
	}
	if _, err := d.transcriptLocked(draft.ConversationID, draft.TranscriptVersionID); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(draft.Keep)+len(draft.New))
	seen := make(map[string]bool, cap(ids))
	for _, id := range draft.Keep {
		if _, ok := d.memories[id]; !ok {
			return nil, storage.NotFoundError{Kind: storage.KindMemory, ID: id}
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	now := d.now()
	v := &conversation.MemoryVersion{
		ID:                  newID(),
		ConversationID:      draft.ConversationID,
		TranscriptVersionID: draft.TranscriptVersionID,
		CreatedAt:           now,
	}

	inserted := make([]*conversation.Memory, 0, len(draft.New))
	for _, m := range draft.New {
		if m == nil {
			return nil, fmt.Errorf("nil memory in draft")
		}
		row := m.Clone()
		if row.ID == "" {
			row.ID = newID()
		}
		if _, exists := d.memories[row.ID]; exists || seen[row.ID] {
			return nil, storage.ConflictError{Kind: storage.KindMemory, ID: row.ID, Reason: "already exists"}
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		row.SourceConversationID = draft.ConversationID
		row.SourceMemoryVersionID = v.ID
		seen[row.ID] = true
		ids = append(ids, row.ID)
		inserted = append(inserted, row)
	}

	for _, row := range inserted {
		d.memories[row.ID] = row
		d.track(row.ID)
	}
	v.MemoryIDs = ids
	d.memoryVers[v.ID] = v
	d.track(v.ID)

	return d.loadMemoryVersionLocked(v), nil
}

func (d *Driver) memoryVersionLocked(conversationID, versionID string) (*conversation.MemoryVersion, error) {
	v, ok := d.memoryVers[versionID]
	if !ok || v.ConversationID != conversationID {
		return nil, storage.NotFoundError{Kind: storage.KindMemoryVer, ID: versionID}
	}
	return v, nil
}

// loadMemoryVersionLocked copies v with its memories attached.
func (d *Driver) loadMemoryVersionLocked(v *conversation.MemoryVersion) *conversation.MemoryVersion {
	cp := *v
	cp.MemoryIDs = append([]string(nil), v.MemoryIDs...)
	cp.Memories = make([]*conversation.Memory, 0, len(v.MemoryIDs))
	for _, id := range v.MemoryIDs {
		if m, ok := d.memories[id]; ok {
			cp.Memories = append(cp.Memories, m.Clone())
		}
	}
	return &cp
}

// GetMemoryVersion retrieves a memory version with its memories.
func (d *Driver) GetMemoryVersion(_ context.Context, conversationID, versionID string) (*conversation.MemoryVersion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, err := d.memoryVersionLocked(conversationID, versionID)
	if err != nil {
		return nil, err
	}
	return d.loadMemoryVersionLocked(v), nil
}

// ActivateMemoryVersion swaps the active memory pointer.
func (d *Driver) ActivateMemoryVersion(_ context.Context, conversationID, versionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.conversationLocked(conversationID)
	if err != nil {
		return err
	}
	if _, err := d.memoryVersionLocked(conversationID, versionID); err != nil {
		return err
	}
	c.ActiveMemoryVersionID = versionID
	return nil
}

// ActiveMemories returns the active memory set of a conversation.
func (d *Driver) ActiveMemories(_ context.Context, conversationID string) ([]*conversation.Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, err := d.conversationLocked(conversationID)
	if err != nil {
		return nil, err
	}
	if c.ActiveMemoryVersionID == "" {
		return []*conversation.Memory{}, nil
	}
	v, ok := d.memoryVers[c.ActiveMemoryVersionID]
	if !ok {
		return []*conversation.Memory{}, nil
	}
	return d.loadMemoryVersionLocked(v).Memories, nil
}

// ListVersions lists versions of one kind, oldest first.
func (d *Driver) ListVersions(_ context.Context, conversationID string, kind conversation.VersionKind) ([]conversation.VersionInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, err := d.conversationLocked(conversationID)
	if err != nil {
		return nil, err
	}

	out := []conversation.VersionInfo{}
	switch kind {
	case conversation.KindTranscript:
		for _, v := range d.transcripts {
			if v.ConversationID != conversationID {
				continue
			}
			out = append(out, conversation.VersionInfo{
				ID:           v.ID,
				Kind:         kind,
				CreatedAt:    v.CreatedAt,
				Active:       v.ID == c.ActiveTranscriptVersionID,
				Source:       v.Source,
				SegmentCount: len(v.Segments),
			})
		}
	case conversation.KindMemory:
		for _, v := range d.memoryVers {
			if v.ConversationID != conversationID {
				continue
			}
			out = append(out, conversation.VersionInfo{
				ID:                  v.ID,
				Kind:                kind,
				CreatedAt:           v.CreatedAt,
				Active:              v.ID == c.ActiveMemoryVersionID,
				TranscriptVersionID: v.TranscriptVersionID,
				MemoryCount:         len(v.MemoryIDs),
			})
		}
	default:
		return nil, fmt.Errorf("unknown version kind %q", kind)
	}

	sortByCreation(d, out, func(v conversation.VersionInfo) string { return v.ID }, false)
	return out, nil
}

// DeleteVersion removes an inactive version. Memory rows are retained.
func (d *Driver) DeleteVersion(_ context.Context, conversationID string, kind conversation.VersionKind, versionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.conversationLocked(conversationID)
	if err != nil {
		return err
	}

	switch kind {
	case conversation.KindTranscript:
		if _, err := d.transcriptLocked(conversationID, versionID); err != nil {
			return err
		}
		if c.ActiveTranscriptVersionID == versionID {
			return storage.ConflictError{Kind: storage.KindTranscript, ID: versionID, Reason: "version is active"}
		}
		for _, mv := range d.memoryVers {
			if mv.TranscriptVersionID == versionID {
				return storage.ConflictError{Kind: storage.KindTranscript, ID: versionID, Reason: "referenced by memory version " + mv.ID}
			}
		}
		delete(d.transcripts, versionID)

	case conversation.KindMemory:
		if _, err := d.memoryVersionLocked(conversationID, versionID); err != nil {
			return err
		}
		if c.ActiveMemoryVersionID == versionID {
			return storage.ConflictError{Kind: storage.KindMemoryVer, ID: versionID, Reason: "version is active"}
		}
		delete(d.memoryVers, versionID)

	default:
		return fmt.Errorf("unknown version kind %q", kind)
	}

	delete(d.created, versionID)
	return nil
}

// GetMemory retrieves a memory by id.
func (d *Driver) GetMemory(_ context.Context, id string) (*conversation.Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.memories[id]
	if !ok {
		return nil, storage.NotFoundError{Kind: storage.KindMemory, ID: id}
	}
	return m.Clone(), nil
}
