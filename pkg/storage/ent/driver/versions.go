package entdriver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

const (
	transcriptVersionsTable = "transcript_versions"
	memoryVersionsTable     = "memory_versions"
	memoriesTable           = "memories"
	membersTable            = "memory_version_memories"
)

var (
	transcriptColumns = []string{"id", "conversation_id", "created_at", "source", "segments", "full_text"}
	memoryVerColumns  = []string{"id", "conversation_id", "transcript_version_id", "created_at"}
	memoryColumns     = []string{
		"id", "user_id", "content", "created_at", "metadata",
		"source_conversation_id", "source_memory_version_id", "supersedes",
	}
)

func scanTranscript(rows entsql.ColumnScanner) (*conversation.TranscriptVersion, error) {
	var (
		v        conversation.TranscriptVersion
		source   string
		segments []byte
	)
	if err := rows.Scan(&v.ID, &v.ConversationID, &v.CreatedAt, &source, &segments, &v.FullText); err != nil {
		return nil, fmt.Errorf("failed to scan transcript version: %w", err)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	v.Source = conversation.Source(source)
	v.Segments = []conversation.Segment{}
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &v.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
		}
	}
	return &v, nil
}

func scanMemory(rows entsql.ColumnScanner) (*conversation.Memory, error) {
	var (
		m          conversation.Memory
		metadata   []byte
		supersedes sql.NullString
	)
	if err := rows.Scan(
		&m.ID, &m.UserID, &m.Content, &m.CreatedAt, &metadata,
		&m.SourceConversationID, &m.SourceMemoryVersionID, &supersedes,
	); err != nil {
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.Supersedes = supersedes.String
	md, err := unmarshalMap(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory metadata: %w", err)
	}
	m.Metadata = md
	return &m, nil
}

// CreateTranscriptVersion appends a transcript version.
func (ed *EntDriver) CreateTranscriptVersion(ctx context.Context, conversationID string, segments []conversation.Segment, source conversation.Source) (*conversation.TranscriptVersion, error) {
	if source == "" {
		source = conversation.SourceOriginal
	}
	v := &conversation.TranscriptVersion{
		ID:             newID(),
		ConversationID: conversationID,
		CreatedAt:      ed.now(),
		Source:         source,
		Segments:       append([]conversation.Segment{}, segments...),
		FullText:       conversation.FullText(segments),
	}
	segmentsJSON, err := marshalJSON(v.Segments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal segments: %w", err)
	}

	err = ed.withTx(ctx, func(tx querier) error {
		if _, err := ed.getConversation(ctx, tx, conversationID, false); err != nil {
			return err
		}
		query, args := ed.builder().Insert(transcriptVersionsTable).
			Columns(transcriptColumns...).
			Values(v.ID, v.ConversationID, v.CreatedAt, string(v.Source), segmentsJSON, v.FullText).
			Query()
		if _, err := exec(ctx, tx, query, args); err != nil {
			return fmt.Errorf("failed to insert transcript version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (ed *EntDriver) getTranscript(ctx context.Context, q querier, conversationID, versionID string) (*conversation.TranscriptVersion, error) {
	b := ed.builder()
	query, args := b.Select(transcriptColumns...).From(b.Table(transcriptVersionsTable)).
		Where(entsql.And(entsql.EQ("id", versionID), entsql.EQ("conversation_id", conversationID))).
		Query()

	var found *conversation.TranscriptVersion
	err := queryRows(ctx, q, query, args, func(rows entsql.ColumnScanner) error {
		v, err := scanTranscript(rows)
		found = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript version: %w", err)
	}
	if found == nil {
		return nil, storage.NotFoundError{Kind: storage.KindTranscript, ID: versionID}
	}
	return found, nil
}

// GetTranscriptVersion retrieves a transcript version of a conversation.
func (ed *EntDriver) GetTranscriptVersion(ctx context.Context, conversationID, versionID string) (*conversation.TranscriptVersion, error) {
	return ed.getTranscript(ctx, ed.drv, conversationID, versionID)
}

// ActivateTranscriptVersion swaps the active transcript pointer.
func (ed *EntDriver) ActivateTranscriptVersion(ctx context.Context, conversationID, versionID string) error {
	return ed.withTx(ctx, func(tx querier) error {
		if _, err := ed.getConversation(ctx, tx, conversationID, true); err != nil {
			return err
		}
		if _, err := ed.getTranscript(ctx, tx, conversationID, versionID); err != nil {
			return err
		}
		return ed.setActive(ctx, tx, conversationID, "active_transcript_version_id", versionID)
	})
}

func (ed *EntDriver) setActive(ctx context.Context, q querier, conversationID, column, versionID string) error {
	query, args := ed.builder().Update(conversationsTable).
		Set(column, versionID).
		Where(entsql.EQ("id", conversationID)).
		Query()
	if _, err := exec(ctx, q, query, args); err != nil {
		return fmt.Errorf("failed to activate version: %w", err)
	}
	return nil
}

// existingMemoryIDs returns which of ids are present in the memories table.
func (ed *EntDriver) existingMemoryIDs(ctx context.Context, q querier, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}

	b := ed.builder()
	query, args := b.Select("id").From(b.Table(memoriesTable)).
		Where(entsql.In("id", vals...)).
		Query()
	err := queryRows(ctx, q, query, args, func(rows entsql.ColumnScanner) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		found[id] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up memories: %w", err)
	}
	return found, nil
}

// CreateMemoryVersion inserts new memories and the version atomically.
func (ed *EntDriver) CreateMemoryVersion(ctx context.Context, draft conversation.MemoryVersionDraft) (*conversation.MemoryVersion, error) {
	now := ed.now()
	v := &conversation.MemoryVersion{
		ID:                  newID(),
		ConversationID:      draft.ConversationID,
		TranscriptVersionID: draft.TranscriptVersionID,
		CreatedAt:           now,
	}

	err := ed.withTx(ctx, func(tx querier) error {
		if _, err := ed.getConversation(ctx, tx, draft.ConversationID, true); err != nil {
			return err
		}
		if _, err := ed.getTranscript(ctx, tx, draft.ConversationID, draft.TranscriptVersionID); err != nil {
			return err
		}

		kept, err := ed.existingMemoryIDs(ctx, tx, draft.Keep)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(draft.Keep)+len(draft.New))
		seen := make(map[string]bool, cap(ids))
		for _, id := range draft.Keep {
			if !kept[id] {
				return storage.NotFoundError{Kind: storage.KindMemory, ID: id}
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}

		rows := make([]*conversation.Memory, 0, len(draft.New))
		for _, m := range draft.New {
			if m == nil {
				return fmt.Errorf("nil memory in draft")
			}
			row := m.Clone()
			if row.ID == "" {
				row.ID = newID()
			}
			if seen[row.ID] {
				return storage.ConflictError{Kind: storage.KindMemory, ID: row.ID, Reason: "already exists"}
			}
			if row.CreatedAt.IsZero() {
				row.CreatedAt = now
			}
			row.CreatedAt = row.CreatedAt.UTC()
			row.SourceConversationID = draft.ConversationID
			row.SourceMemoryVersionID = v.ID
			seen[row.ID] = true
			ids = append(ids, row.ID)
			rows = append(rows, row)
		}

		newIDs := make([]string, len(rows))
		for i, row := range rows {
			newIDs[i] = row.ID
		}
		clash, err := ed.existingMemoryIDs(ctx, tx, newIDs)
		if err != nil {
			return err
		}
		for _, id := range newIDs {
			if clash[id] {
				return storage.ConflictError{Kind: storage.KindMemory, ID: id, Reason: "already exists"}
			}
		}

		query, args := ed.builder().Insert(memoryVersionsTable).
			Columns(memoryVerColumns...).
			Values(v.ID, v.ConversationID, v.TranscriptVersionID, v.CreatedAt).
			Query()
		if _, err := exec(ctx, tx, query, args); err != nil {
			return fmt.Errorf("failed to insert memory version: %w", err)
		}

		if len(rows) > 0 {
			insert := ed.builder().Insert(memoriesTable).Columns(memoryColumns...)
			for _, row := range rows {
				md, err := marshalJSON(row.Metadata)
				if err != nil {
					return fmt.Errorf("failed to marshal memory metadata: %w", err)
				}
				insert.Values(row.ID, row.UserID, row.Content, row.CreatedAt, md,
					row.SourceConversationID, row.SourceMemoryVersionID, nullString(row.Supersedes))
			}
			query, args := insert.Query()
			if _, err := exec(ctx, tx, query, args); err != nil {
				return fmt.Errorf("failed to insert memories: %w", err)
			}
		}

		if len(ids) > 0 {
			insert := ed.builder().Insert(membersTable).Columns("memory_version_id", "memory_id", "position")
			for i, id := range ids {
				insert.Values(v.ID, id, i)
			}
			query, args := insert.Query()
			if _, err := exec(ctx, tx, query, args); err != nil {
				return fmt.Errorf("failed to insert memory version members: %w", err)
			}
		}

		v.MemoryIDs = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ed.GetMemoryVersion(ctx, v.ConversationID, v.ID)
}

func (ed *EntDriver) getMemoryVersion(ctx context.Context, q querier, conversationID, versionID string) (*conversation.MemoryVersion, error) {
	b := ed.builder()
	query, args := b.Select(memoryVerColumns...).From(b.Table(memoryVersionsTable)).
		Where(entsql.And(entsql.EQ("id", versionID), entsql.EQ("conversation_id", conversationID))).
		Query()

	var found *conversation.MemoryVersion
	err := queryRows(ctx, q, query, args, func(rows entsql.ColumnScanner) error {
		var v conversation.MemoryVersion
		if err := rows.Scan(&v.ID, &v.ConversationID, &v.TranscriptVersionID, &v.CreatedAt); err != nil {
			return err
		}
		v.CreatedAt = v.CreatedAt.UTC()
		found = &v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get memory version: %w", err)
	}
	if found == nil {
		return nil, storage.NotFoundError{Kind: storage.KindMemoryVer, ID: versionID}
	}
	return found, nil
}

// versionMemories loads the members of a memory version in insertion order.
func (ed *EntDriver) versionMemories(ctx context.Context, q querier, versionID string) ([]*conversation.Memory, error) {
	b := ed.builder()
	m := b.Table(memoriesTable)
	mv := b.Table(membersTable)
	query, args := b.Select(m.Columns(memoryColumns...)...).
		From(m).
		Join(mv).On(m.C("id"), mv.C("memory_id")).
		Where(entsql.EQ(mv.C("memory_version_id"), versionID)).
		OrderBy(mv.C("position")).
		Query()

	out := []*conversation.Memory{}
	err := queryRows(ctx, q, query, args, func(rows entsql.ColumnScanner) error {
		mem, err := scanMemory(rows)
		if err != nil {
			return err
		}
		out = append(out, mem)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load version memories: %w", err)
	}
	return out, nil
}

// GetMemoryVersion retrieves a memory version with its memories.
func (ed *EntDriver) GetMemoryVersion(ctx context.Context, conversationID, versionID string) (*conversation.MemoryVersion, error) {
	v, err := ed.getMemoryVersion(ctx, ed.drv, conversationID, versionID)
	if err != nil {
		return nil, err
	}
	mems, err := ed.versionMemories(ctx, ed.drv, versionID)
	if err != nil {
		return nil, err
	}
	v.Memories = mems
	v.MemoryIDs = make([]string, len(mems))
	for i, m := range mems {
		v.MemoryIDs[i] = m.ID
	}
	return v, nil
}

// ActivateMemoryVersion swaps the active memory pointer.
func (ed *EntDriver) ActivateMemoryVersion(ctx context.Context, conversationID, versionID string) error {
	return ed.withTx(ctx, func(tx querier) error {
		if _, err := ed.getConversation(ctx, tx, conversationID, true); err != nil {
			return err
		}
		if _, err := ed.getMemoryVersion(ctx, tx, conversationID, versionID); err != nil {
			return err
		}
		return ed.setActive(ctx, tx, conversationID, "active_memory_version_id", versionID)
	})
}

// ActiveMemories returns the active memory set of a conversation.
func (ed *EntDriver) ActiveMemories(ctx context.Context, conversationID string) ([]*conversation.Memory, error) {
	c, err := ed.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c.ActiveMemoryVersionID == "" {
		return []*conversation.Memory{}, nil
	}
	return ed.versionMemories(ctx, ed.drv, c.ActiveMemoryVersionID)
}

// ListVersions lists versions of one kind, oldest first.
func (ed *EntDriver) ListVersions(ctx context.Context, conversationID string, kind conversation.VersionKind) ([]conversation.VersionInfo, error) {
	c, err := ed.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	switch kind {
	case conversation.KindTranscript:
		return ed.listTranscriptVersions(ctx, c)
	case conversation.KindMemory:
		return ed.listMemoryVersions(ctx, c)
	}
	return nil, fmt.Errorf("unknown version kind %q", kind)
}

func (ed *EntDriver) listTranscriptVersions(ctx context.Context, c *conversation.Conversation) ([]conversation.VersionInfo, error) {
	b := ed.builder()
	query, args := b.Select(transcriptColumns...).From(b.Table(transcriptVersionsTable)).
		Where(entsql.EQ("conversation_id", c.ID)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Query()

	out := []conversation.VersionInfo{}
	err := queryRows(ctx, ed.drv, query, args, func(rows entsql.ColumnScanner) error {
		v, err := scanTranscript(rows)
		if err != nil {
			return err
		}
		out = append(out, conversation.VersionInfo{
			ID:           v.ID,
			Kind:         conversation.KindTranscript,
			CreatedAt:    v.CreatedAt,
			Active:       v.ID == c.ActiveTranscriptVersionID,
			Source:       v.Source,
			SegmentCount: len(v.Segments),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript versions: %w", err)
	}
	return out, nil
}

func (ed *EntDriver) listMemoryVersions(ctx context.Context, c *conversation.Conversation) ([]conversation.VersionInfo, error) {
	b := ed.builder()
	query, args := b.Select(memoryVerColumns...).From(b.Table(memoryVersionsTable)).
		Where(entsql.EQ("conversation_id", c.ID)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Query()

	out := []conversation.VersionInfo{}
	err := queryRows(ctx, ed.drv, query, args, func(rows entsql.ColumnScanner) error {
		var (
			info      conversation.VersionInfo
			convID    string
			createdAt sql.NullTime
		)
		if err := rows.Scan(&info.ID, &convID, &info.TranscriptVersionID, &createdAt); err != nil {
			return err
		}
		info.Kind = conversation.KindMemory
		info.CreatedAt = createdAt.Time.UTC()
		info.Active = info.ID == c.ActiveMemoryVersionID
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list memory versions: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]any, len(out))
	for i, info := range out {
		ids[i] = info.ID
	}
	query, args = b.Select("memory_version_id", entsql.Count("*")).From(b.Table(membersTable)).
		Where(entsql.In("memory_version_id", ids...)).
		GroupBy("memory_version_id").
		Query()
	counts := make(map[string]int, len(out))
	err = queryRows(ctx, ed.drv, query, args, func(rows entsql.ColumnScanner) error {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return err
		}
		counts[id] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count memory version members: %w", err)
	}
	for i := range out {
		out[i].MemoryCount = counts[out[i].ID]
	}
	return out, nil
}

// DeleteVersion removes an inactive version. Memory rows are retained.
func (ed *EntDriver) DeleteVersion(ctx context.Context, conversationID string, kind conversation.VersionKind, versionID string) error {
	return ed.withTx(ctx, func(tx querier) error {
		c, err := ed.getConversation(ctx, tx, conversationID, true)
		if err != nil {
			return err
		}

		switch kind {
		case conversation.KindTranscript:
			if _, err := ed.getTranscript(ctx, tx, conversationID, versionID); err != nil {
				return err
			}
			if c.ActiveTranscriptVersionID == versionID {
				return storage.ConflictError{Kind: storage.KindTranscript, ID: versionID, Reason: "version is active"}
			}
			ref, err := ed.memoryVersionReferencing(ctx, tx, versionID)
			if err != nil {
				return err
			}
			if ref != "" {
				return storage.ConflictError{Kind: storage.KindTranscript, ID: versionID, Reason: "referenced by memory version " + ref}
			}
			return ed.deleteRow(ctx, tx, transcriptVersionsTable, versionID)

		case conversation.KindMemory:
			if _, err := ed.getMemoryVersion(ctx, tx, conversationID, versionID); err != nil {
				return err
			}
			if c.ActiveMemoryVersionID == versionID {
				return storage.ConflictError{Kind: storage.KindMemoryVer, ID: versionID, Reason: "version is active"}
			}
			query, args := ed.builder().Delete(membersTable).
				Where(entsql.EQ("memory_version_id", versionID)).
				Query()
			if _, err := exec(ctx, tx, query, args); err != nil {
				return fmt.Errorf("failed to delete memory version members: %w", err)
			}
			return ed.deleteRow(ctx, tx, memoryVersionsTable, versionID)
		}
		return fmt.Errorf("unknown version kind %q", kind)
	})
}

func (ed *EntDriver) memoryVersionReferencing(ctx context.Context, q querier, transcriptVersionID string) (string, error) {
	b := ed.builder()
	query, args := b.Select("id").From(b.Table(memoryVersionsTable)).
		Where(entsql.EQ("transcript_version_id", transcriptVersionID)).
		Limit(1).
		Query()

	var ref string
	err := queryRows(ctx, q, query, args, func(rows entsql.ColumnScanner) error {
		return rows.Scan(&ref)
	})
	if err != nil {
		return "", fmt.Errorf("failed to check memory version references: %w", err)
	}
	return ref, nil
}

func (ed *EntDriver) deleteRow(ctx context.Context, q querier, table, id string) error {
	query, args := ed.builder().Delete(table).Where(entsql.EQ("id", id)).Query()
	if _, err := exec(ctx, q, query, args); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// GetMemory retrieves a memory by id.
func (ed *EntDriver) GetMemory(ctx context.Context, id string) (*conversation.Memory, error) {
	b := ed.builder()
	query, args := b.Select(memoryColumns...).From(b.Table(memoriesTable)).
		Where(entsql.EQ("id", id)).
		Query()

	var found *conversation.Memory
	err := queryRows(ctx, ed.drv, query, args, func(rows entsql.ColumnScanner) error {
		m, err := scanMemory(rows)
		found = m
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	if found == nil {
		return nil, storage.NotFoundError{Kind: storage.KindMemory, ID: id}
	}
	return found, nil
}
