package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/papercomputeco/chronicle/pkg/audio"
	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/llm"
	"github.com/papercomputeco/chronicle/pkg/stt"
)

// HandleTranscription runs one transcription job: speech-to-text over the
// stored audio, a new activated transcript version, optional title and
// summary, and a memory extraction job for the new version.
//
// Re-running the same job appends another transcript version.
func (s *Service) HandleTranscription(ctx context.Context, job *jobs.Job) (map[string]any, error) {
	if s.config.STT == nil || s.config.Audio == nil {
		return nil, Permanent(errors.New("transcription is not configured"), nil)
	}
	convID := job.Payload.ConversationID
	log := s.logger.With("job_id", job.ID, "conversation_id", convID)

	conv, err := s.config.Store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}

	ref := job.Payload.AudioReference
	if ref == "" {
		ref = conv.AudioReference
	}
	if ref == "" {
		return nil, Permanent(fmt.Errorf("%w: conversation has no audio", audio.ErrInvalidReference), nil)
	}
	if !audio.Supported(ref) {
		return nil, Permanent(
			fmt.Errorf("%w: format %q", stt.ErrUnsupportedAudio, audio.Format(ref)),
			map[string]any{"audio_reference": ref},
		)
	}

	rc, err := s.config.Audio.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	result, err := s.config.STT.Transcribe(ctx, stt.Audio{
		Reader:      rc,
		Filename:    ref,
		ContentType: audio.ContentType(ref),
	})
	if err != nil {
		return nil, fmt.Errorf("transcribing %s: %w", ref, err)
	}

	segments := result.Segments
	if len(segments) == 0 && strings.TrimSpace(result.Text) != "" {
		segments = []conversation.Segment{{Text: strings.TrimSpace(result.Text)}}
	}
	analysis := stt.AnalyzeSpeech(result, s.config.Speech)
	log.Info("transcription finished",
		"segments", len(segments),
		"words", analysis.WordCount,
		"has_speech", analysis.HasSpeech,
		"reason", analysis.Reason,
	)

	source := conversation.Source(job.Payload.Params[ParamSource])
	if source != conversation.SourceReprocess {
		source = conversation.SourceOriginal
	}
	tv, err := s.config.Store.CreateTranscriptVersion(ctx, convID, segments, source)
	if err != nil {
		return nil, fmt.Errorf("creating transcript version: %w", err)
	}
	if err := s.config.Store.ActivateTranscriptVersion(ctx, convID, tv.ID); err != nil {
		return nil, fmt.Errorf("activating transcript version: %w", err)
	}
	s.activated(ctx, convID, conversation.KindTranscript, tv.ID)

	s.summarize(ctx, convID, segments, analysis.HasSpeech)

	out := map[string]any{
		"transcript_version_id": tv.ID,
		"segment_count":         len(segments),
		"word_count":            analysis.WordCount,
		"confidence":            result.Confidence,
		"has_speech":            analysis.HasSpeech,
		"speech_reason":         analysis.Reason,
	}

	if s.config.RequireSpeech && !analysis.HasSpeech {
		log.Info("skipping memory extraction", "reason", analysis.Reason)
		out["memory_job_id"] = ""
		out["skipped_memory_extraction"] = analysis.Reason
		return out, nil
	}

	memJob, err := s.enqueue(ctx, jobs.TypeMemoryExtraction, jobs.Payload{
		ConversationID:  convID,
		SourceVersionID: tv.ID,
		Params:          map[string]string{ParamSource: string(source)},
	})
	if err != nil {
		return nil, err
	}
	out["memory_job_id"] = memJob.ID
	return out, nil
}

// summarize stores a generated title and summaries. Failures fall back to
// the defaults and never fail the job.
func (s *Service) summarize(ctx context.Context, convID string, segments []conversation.Segment, hasSpeech bool) {
	if s.config.Summarizer == nil {
		return
	}

	d := conversation.Details{
		Title:           conversation.DefaultTitle,
		Summary:         conversation.DefaultSummary,
		DetailedSummary: llm.NoDetailedSummary,
	}
	if hasSpeech {
		var err error
		if d.Title, err = s.config.Summarizer.Title(ctx, segments); err != nil {
			s.logger.Warn("title generation failed", "conversation_id", convID, "error", err)
		}
		if d.Summary, err = s.config.Summarizer.Summary(ctx, segments); err != nil {
			s.logger.Warn("summary generation failed", "conversation_id", convID, "error", err)
		}
		if d.DetailedSummary, err = s.config.Summarizer.DetailedSummary(ctx, segments); err != nil {
			s.logger.Warn("detailed summary generation failed", "conversation_id", convID, "error", err)
		}
	}
	if d.Title == "" {
		d.Title = conversation.DefaultTitle
	}
	if d.Summary == "" {
		d.Summary = conversation.DefaultSummary
	}
	if d.DetailedSummary == "" {
		d.DetailedSummary = llm.NoDetailedSummary
	}

	if err := s.config.Store.UpdateConversationDetails(ctx, convID, d); err != nil {
		s.logger.Warn("failed to store conversation details", "conversation_id", convID, "error", err)
	}
}
