package entdriver

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

const conversationsTable = "conversations"

var conversationColumns = []string{
	"id", "user_id", "created_at", "ended_at", "end_reason", "audio_reference",
	"is_fixture", "title", "summary", "active_transcript_version_id", "active_memory_version_id",
	"detailed_summary",
}

func scanConversation(rows entsql.ColumnScanner) (*conversation.Conversation, error) {
	var (
		c                                       conversation.Conversation
		ended                                   sql.NullTime
		reason, audio, title, summary, tID, mID sql.NullString
		detailed                                sql.NullString
	)
	if err := rows.Scan(
		&c.ID, &c.UserID, &c.CreatedAt, &ended, &reason, &audio,
		&c.IsFixture, &title, &summary, &tID, &mID, &detailed,
	); err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.EndedAt = timePtr(ended)
	c.EndReason = conversation.EndReason(reason.String)
	c.AudioReference = audio.String
	c.Title = title.String
	c.Summary = summary.String
	c.DetailedSummary = detailed.String
	c.ActiveTranscriptVersionID = tID.String
	c.ActiveMemoryVersionID = mID.String
	return &c, nil
}

// CreateConversation inserts c.
func (ed *EntDriver) CreateConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error) {
	stored := c.Clone()
	if stored.ID == "" {
		stored.ID = newID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = ed.now()
	}
	stored.CreatedAt = stored.CreatedAt.UTC()
	stored.ActiveTranscriptVersionID = ""
	stored.ActiveMemoryVersionID = ""

	err := ed.withTx(ctx, func(tx querier) error {
		if _, err := ed.getConversation(ctx, tx, stored.ID, false); err == nil {
			return storage.ConflictError{Kind: storage.KindConversation, ID: stored.ID, Reason: "already exists"}
		} else if !storage.IsNotFound(err) {
			return err
		}

		var ended any
		if stored.EndedAt != nil {
			ended = stored.EndedAt.UTC()
		}
		query, args := ed.builder().Insert(conversationsTable).
			Columns("id", "user_id", "created_at", "ended_at", "end_reason", "audio_reference", "is_fixture",
				"title", "summary", "detailed_summary").
			Values(stored.ID, stored.UserID, stored.CreatedAt, ended, nullString(string(stored.EndReason)),
				nullString(stored.AudioReference), stored.IsFixture, nullString(stored.Title), nullString(stored.Summary),
				nullString(stored.DetailedSummary)).
			Query()
		if _, err := exec(ctx, tx, query, args); err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// getConversation loads one conversation. With lock set on postgres the row
// stays locked until the surrounding transaction ends.
func (ed *EntDriver) getConversation(ctx context.Context, q querier, id string, lock bool) (*conversation.Conversation, error) {
	b := ed.builder()
	sel := b.Select(conversationColumns...).From(b.Table(conversationsTable)).
		Where(entsql.EQ("id", id))
	if lock && ed.postgres() {
		sel.ForUpdate()
	}
	query, args := sel.Query()

	var found *conversation.Conversation
	err := queryRows(ctx, q, query, args, func(rows entsql.ColumnScanner) error {
		c, err := scanConversation(rows)
		found = c
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if found == nil {
		return nil, storage.NotFoundError{Kind: storage.KindConversation, ID: id}
	}
	return found, nil
}

// GetConversation retrieves a conversation by id.
func (ed *EntDriver) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	return ed.getConversation(ctx, ed.drv, id, false)
}

// ListConversations returns matching conversations, newest first.
func (ed *EntDriver) ListConversations(ctx context.Context, filter conversation.Filter) ([]*conversation.Conversation, error) {
	b := ed.builder()
	sel := b.Select(conversationColumns...).From(b.Table(conversationsTable))

	var preds []*entsql.Predicate
	if filter.UserID != "" {
		preds = append(preds, entsql.EQ("user_id", filter.UserID))
	}
	if !filter.IncludeFixtures {
		preds = append(preds, entsql.EQ("is_fixture", false))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	sel.OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}

	query, args := sel.Query()
	out := []*conversation.Conversation{}
	err := queryRows(ctx, ed.drv, query, args, func(rows entsql.ColumnScanner) error {
		c, err := scanConversation(rows)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return out, nil
}

// EndConversation records why a conversation ended.
func (ed *EntDriver) EndConversation(ctx context.Context, id string, reason conversation.EndReason) (*conversation.Conversation, error) {
	var out *conversation.Conversation
	err := ed.withTx(ctx, func(tx querier) error {
		c, err := ed.getConversation(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if c.EndedAt != nil {
			return storage.ConflictError{Kind: storage.KindConversation, ID: id, Reason: "already ended"}
		}

		now := ed.now()
		query, args := ed.builder().Update(conversationsTable).
			Set("ended_at", now).
			Set("end_reason", string(reason)).
			Where(entsql.And(entsql.EQ("id", id), entsql.IsNull("ended_at"))).
			Query()
		n, err := exec(ctx, tx, query, args)
		if err != nil {
			return fmt.Errorf("failed to end conversation: %w", err)
		}
		if n == 0 {
			return storage.ConflictError{Kind: storage.KindConversation, ID: id, Reason: "already ended"}
		}

		c.EndedAt = &now
		c.EndReason = reason
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateConversationDetails sets the title and summaries.
func (ed *EntDriver) UpdateConversationDetails(ctx context.Context, id string, details conversation.Details) error {
	query, args := ed.builder().Update(conversationsTable).
		Set("title", details.Title).
		Set("summary", details.Summary).
		Set("detailed_summary", nullString(details.DetailedSummary)).
		Where(entsql.EQ("id", id)).
		Query()
	n, err := exec(ctx, ed.drv, query, args)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n == 0 {
		return storage.NotFoundError{Kind: storage.KindConversation, ID: id}
	}
	return nil
}
