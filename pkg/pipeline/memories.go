package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/search"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

// ErrSearchDisabled is returned by SearchMemories when no index is configured.
var ErrSearchDisabled = errors.New("memory search is not configured")

// SearchRequest selects memories by relevance.
type SearchRequest struct {
	Query          string  `json:"query"`
	UserID         string  `json:"user_id,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Contains       string  `json:"contains,omitempty"`
	Limit          int     `json:"limit,omitempty"`
	ScoreThreshold float32 `json:"score_threshold,omitempty"`
}

// SearchMemories ranks indexed active memories against req.Query.
func (s *Service) SearchMemories(ctx context.Context, req SearchRequest) ([]search.Result, error) {
	if s.config.Index == nil {
		return nil, ErrSearchDisabled
	}
	results, err := s.config.Index.Search(ctx, search.Query{
		Text:           req.Query,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Contains:       req.Contains,
		Limit:          req.Limit,
		ScoreThreshold: req.ScoreThreshold,
	})
	if errors.Is(err, search.ErrEmptyQuery) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return results, err
}

// CountMemories counts the active memories across a user's conversations.
func (s *Service) CountMemories(ctx context.Context, userID string) (int, error) {
	convs, err := s.userConversations(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range convs {
		if c.ActiveMemoryVersionID == "" {
			continue
		}
		mems, err := s.config.Store.ActiveMemories(ctx, c.ID)
		if err != nil {
			return 0, err
		}
		total += len(mems)
	}
	return total, nil
}

// ListUserMemories returns the active memories across a user's
// conversations, newest conversation first.
func (s *Service) ListUserMemories(ctx context.Context, userID string) ([]*conversation.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	convs, err := s.userConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := []*conversation.Memory{}
	for _, c := range convs {
		if c.ActiveMemoryVersionID == "" {
			continue
		}
		mems, err := s.config.Store.ActiveMemories(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, mems...)
	}
	return out, nil
}

// DeleteMemory removes one memory from its conversation's active set by
// activating a new memory version that carries every other active memory.
// The memory row survives in earlier versions. Memories that are not
// active are a conflict.
func (s *Service) DeleteMemory(ctx context.Context, memoryID string) (*conversation.MemoryVersion, error) {
	m, err := s.config.Store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	conv, err := s.config.Store.GetConversation(ctx, m.SourceConversationID)
	if err != nil {
		return nil, err
	}
	notActive := storage.ConflictError{Kind: storage.KindMemory, ID: memoryID, Reason: "memory is not in the active version"}
	if conv.ActiveMemoryVersionID == "" {
		return nil, notActive
	}
	active, err := s.config.Store.GetMemoryVersion(ctx, conv.ID, conv.ActiveMemoryVersionID)
	if err != nil {
		return nil, err
	}

	keep := make([]string, 0, len(active.Memories))
	var removed *conversation.Memory
	for _, am := range active.Memories {
		if am.ID == memoryID {
			removed = am
			continue
		}
		keep = append(keep, am.ID)
	}
	if removed == nil {
		return nil, notActive
	}

	next, err := s.config.Store.CreateMemoryVersion(ctx, conversation.MemoryVersionDraft{
		ConversationID:      conv.ID,
		TranscriptVersionID: active.TranscriptVersionID,
		Keep:                keep,
	})
	if err != nil {
		return nil, err
	}
	if err := s.config.Store.ActivateMemoryVersion(ctx, conv.ID, next.ID); err != nil {
		return nil, err
	}
	s.activated(ctx, conv.ID, conversation.KindMemory, next.ID)
	s.syncIndex(ctx, []*conversation.Memory{removed}, nil)

	s.logger.Info("memory deleted",
		"memory_id", memoryID,
		"conversation_id", conv.ID,
		"memory_version_id", next.ID,
	)
	return next, nil
}

// DeleteUserMemories activates an empty memory version for every
// conversation of userID that has active memories, then drops those
// memories from the index. Earlier versions stay restorable. It returns how
// many memories left the active set.
func (s *Service) DeleteUserMemories(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	convs, err := s.userConversations(ctx, userID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, c := range convs {
		if c.ActiveMemoryVersionID == "" {
			continue
		}
		active, err := s.config.Store.GetMemoryVersion(ctx, c.ID, c.ActiveMemoryVersionID)
		if err != nil {
			return removed, err
		}
		if len(active.Memories) == 0 {
			continue
		}

		empty, err := s.config.Store.CreateMemoryVersion(ctx, conversation.MemoryVersionDraft{
			ConversationID:      c.ID,
			TranscriptVersionID: active.TranscriptVersionID,
		})
		if err != nil {
			return removed, err
		}
		if err := s.config.Store.ActivateMemoryVersion(ctx, c.ID, empty.ID); err != nil {
			return removed, err
		}
		s.activated(ctx, c.ID, conversation.KindMemory, empty.ID)
		s.syncIndex(ctx, active.Memories, nil)
		removed += len(active.Memories)
	}

	s.logger.Info("user memories cleared", "user_id", userID, "removed", removed)
	return removed, nil
}

// Reindex upserts the active memories of every conversation into the
// index. It rebuilds indexes that do not persist across restarts.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.config.Index == nil {
		return 0, ErrSearchDisabled
	}
	convs, err := s.config.Store.ListConversations(ctx, conversation.Filter{IncludeFixtures: true})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range convs {
		if c.ActiveMemoryVersionID == "" {
			continue
		}
		mems, err := s.config.Store.ActiveMemories(ctx, c.ID)
		if err != nil {
			return n, err
		}
		for _, m := range mems {
			if err := s.config.Index.Upsert(ctx, m); err != nil {
				return n, fmt.Errorf("indexing memory %s: %w", m.ID, err)
			}
			n++
		}
	}
	s.logger.Info("search index rebuilt", "memories", n)
	return n, nil
}

func (s *Service) userConversations(ctx context.Context, userID string) ([]*conversation.Conversation, error) {
	return s.config.Store.ListConversations(ctx, conversation.Filter{UserID: userID, IncludeFixtures: true})
}

// syncIndex moves the index from the before set to the after set. Index
// failures are logged and never surface to the caller.
func (s *Service) syncIndex(ctx context.Context, before, after []*conversation.Memory) {
	if s.config.Index == nil {
		return
	}

	keep := make(map[string]bool, len(after))
	for _, m := range after {
		keep[m.ID] = true
		if err := s.config.Index.Upsert(ctx, m); err != nil {
			s.logger.Warn("failed to index memory", "memory_id", m.ID, "error", err)
		}
	}
	for _, m := range before {
		if keep[m.ID] {
			continue
		}
		if err := s.config.Index.Delete(ctx, m.ID); err != nil {
			s.logger.Warn("failed to remove memory from index", "memory_id", m.ID, "error", err)
		}
	}
}
