package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/llm"
)

// HandleMemoryExtraction runs one memory extraction job against the
// transcript version named by the payload: the model proposes operations on
// the active memory set, the result becomes a new activated memory version,
// and the search index follows.
func (s *Service) HandleMemoryExtraction(ctx context.Context, job *jobs.Job) (map[string]any, error) {
	if s.config.Extractor == nil {
		return nil, Permanent(errors.New("memory extraction is not configured"), nil)
	}
	convID := job.Payload.ConversationID
	log := s.logger.With("job_id", job.ID, "conversation_id", convID)

	conv, err := s.config.Store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	tvID := job.Payload.SourceVersionID
	if tvID == "" {
		tvID = conv.ActiveTranscriptVersionID
	}
	tv, err := s.config.Store.GetTranscriptVersion(ctx, convID, tvID)
	if err != nil {
		return nil, err
	}

	existing, err := s.config.Store.ActiveMemories(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("loading active memories: %w", err)
	}

	var ops []llm.Operation
	if strings.TrimSpace(tv.FullText) != "" {
		ops, err = s.config.Extractor.ExtractOperations(ctx, tv.FullText, existing)
		if err != nil {
			return nil, fmt.Errorf("extracting memories: %w", err)
		}
	}

	plan := applyOperations(conv.UserID, existing, ops)
	mv, err := s.config.Store.CreateMemoryVersion(ctx, conversation.MemoryVersionDraft{
		ConversationID:      convID,
		TranscriptVersionID: tv.ID,
		Keep:                plan.keep,
		New:                 plan.added,
	})
	if err != nil {
		return nil, fmt.Errorf("creating memory version: %w", err)
	}
	if err := s.config.Store.ActivateMemoryVersion(ctx, convID, mv.ID); err != nil {
		return nil, fmt.Errorf("activating memory version: %w", err)
	}
	s.activated(ctx, convID, conversation.KindMemory, mv.ID)
	s.syncIndex(ctx, existing, mv.Memories)

	log.Info("memory extraction finished",
		"memory_version_id", mv.ID,
		"added", plan.adds,
		"updated", plan.updates,
		"deleted", plan.deletes,
		"ignored", plan.ignored,
		"memories", len(mv.MemoryIDs),
	)
	return map[string]any{
		"memory_version_id":     mv.ID,
		"transcript_version_id": tv.ID,
		"added":                 plan.adds,
		"updated":               plan.updates,
		"deleted":               plan.deletes,
		"ignored":               plan.ignored,
		"memory_count":          len(mv.MemoryIDs),
	}, nil
}

// memoryPlan is the outcome of applying operations to an active set.
type memoryPlan struct {
	keep  []string
	added []*conversation.Memory

	adds, updates, deletes, ignored int
}

// applyOperations folds ops over the active memories in order. UPDATE and
// DELETE naming an id outside the current set are counted as ignored. An
// UPDATE replaces the old memory with a new row that supersedes it.
func applyOperations(userID string, existing []*conversation.Memory, ops []llm.Operation) memoryPlan {
	current := make(map[string]*conversation.Memory, len(existing))
	for _, m := range existing {
		current[m.ID] = m
	}

	var plan memoryPlan
	for _, op := range ops {
		switch op.Kind {
		case llm.OpAdd:
			plan.added = append(plan.added, &conversation.Memory{
				UserID:   userID,
				Content:  op.Content,
				Metadata: conversation.CloneMetadata(op.Metadata),
			})
			plan.adds++

		case llm.OpUpdate:
			old, ok := current[op.ID]
			if !ok {
				plan.ignored++
				continue
			}
			delete(current, op.ID)
			owner := old.UserID
			if owner == "" {
				owner = userID
			}
			plan.added = append(plan.added, &conversation.Memory{
				UserID:     owner,
				Content:    op.Content,
				Metadata:   conversation.MergeMetadata(old.Metadata, op.Metadata),
				Supersedes: old.ID,
			})
			plan.updates++

		case llm.OpDelete:
			if _, ok := current[op.ID]; !ok {
				plan.ignored++
				continue
			}
			delete(current, op.ID)
			plan.deletes++
		}
	}

	for _, m := range existing {
		if _, ok := current[m.ID]; ok {
			plan.keep = append(plan.keep, m.ID)
		}
	}
	return plan
}
