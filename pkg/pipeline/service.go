// Package pipeline turns uploaded audio into versioned transcripts and
// memories. The Service accepts work and answers queries; the transcription
// and memory extraction handlers it exposes run on a worker.Pool.
//
// All cross-restart state lives in the storage.Driver. Handlers only mutate
// it through create-version and activate-version calls, so the last job to
// activate wins when runs for one conversation overlap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/papercomputeco/chronicle/pkg/audio"
	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/eventstream"
	"github.com/papercomputeco/chronicle/pkg/eventstream/nop"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/llm"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/search"
	"github.com/papercomputeco/chronicle/pkg/storage"
	"github.com/papercomputeco/chronicle/pkg/stt"
	"github.com/papercomputeco/chronicle/pkg/worker"
)

// DefaultUserID owns uploads that name no user.
const DefaultUserID = "default"

// Job payload params.
const (
	ParamSource = "source"
)

// ErrInvalidRequest wraps caller mistakes such as a missing file name.
var ErrInvalidRequest = errors.New("invalid request")

// Waker is notified after every enqueue so idle local workers claim at once.
type Waker interface {
	Wake()
}

// Config wires the Service to its collaborators.
type Config struct {
	Store storage.Driver
	Audio audio.Store

	// STT and Extractor are required by the stage handlers. A Service used
	// only to enqueue and query may leave them nil.
	STT       stt.SpeechToText
	Extractor llm.LanguageModel

	// Summarizer, when set, names and summarises transcribed conversations.
	Summarizer llm.Summarizer

	// Index receives memory changes. Nil disables indexing and search.
	Index search.Index

	Publisher eventstream.Publisher

	Speech stt.SpeechSettings

	// RequireSpeech skips memory extraction for recordings without
	// meaningful speech.
	RequireSpeech bool

	// MaxAttempts bounds retries of every enqueued job. Defaults to
	// jobs.DefaultMaxAttempts.
	MaxAttempts int

	// DefaultUserID owns uploads that name no user.
	DefaultUserID string

	Logger *slog.Logger
}

// Service is the entry point for uploads, reprocessing, rollback and reads.
type Service struct {
	config Config
	logger *slog.Logger

	mu    sync.RWMutex
	waker Waker
}

// New validates c and returns a Service.
func New(c Config) (*Service, error) {
	if c.Store == nil {
		return nil, errors.New("pipeline requires a store")
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Publisher == nil {
		c.Publisher = nop.NewPublisher()
	}
	if c.Speech == (stt.SpeechSettings{}) {
		c.Speech = stt.DefaultSpeechSettings()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = jobs.DefaultMaxAttempts
	}
	if c.DefaultUserID == "" {
		c.DefaultUserID = DefaultUserID
	}
	return &Service{config: c, logger: c.Logger}, nil
}

// SetWaker registers the local worker pool.
func (s *Service) SetWaker(w Waker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waker = w
}

// Handlers returns the stage handlers keyed by job type, for worker.Config.
func (s *Service) Handlers() map[jobs.Type]worker.Handler {
	return map[jobs.Type]worker.Handler{
		jobs.TypeTranscription:    worker.HandlerFunc(s.HandleTranscription),
		jobs.TypeMemoryExtraction: worker.HandlerFunc(s.HandleMemoryExtraction),
	}
}

func (s *Service) enqueue(ctx context.Context, jobType jobs.Type, payload jobs.Payload) (*jobs.Job, error) {
	job, err := s.config.Store.Enqueue(ctx, jobType, payload, jobs.WithMaxAttempts(s.config.MaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	s.logger.Info("job enqueued",
		"job_id", job.ID,
		"job_type", string(jobType),
		"conversation_id", payload.ConversationID,
	)

	s.mu.RLock()
	w := s.waker
	s.mu.RUnlock()
	if w != nil {
		w.Wake()
	}
	return job, nil
}

// UploadRequest describes one uploaded recording.
type UploadRequest struct {
	UserID    string
	Filename  string
	Reader    io.Reader
	IsFixture bool
}

// UploadResult identifies the records an upload created.
type UploadResult struct {
	ConversationID string `json:"conversation_id"`
	JobID          string `json:"job_id"`
	AudioReference string `json:"audio_reference"`
}

// IncompleteUploadError reports an upload whose conversation was recorded
// but whose transcription job was not queued. EnqueueTranscription with
// ConversationID finishes it.
type IncompleteUploadError struct {
	ConversationID string
	AudioReference string
	Err            error
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("conversation %s stored but not queued: %v", e.ConversationID, e.Err)
}

func (e *IncompleteUploadError) Unwrap() error { return e.Err }

// Upload stores the audio, records an ended conversation for it and
// enqueues transcription. The work itself happens on the worker pool. Once
// the conversation exists, failures are returned as *IncompleteUploadError.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if s.config.Audio == nil {
		return nil, errors.New("pipeline has no audio store")
	}
	if req.Reader == nil || strings.TrimSpace(req.Filename) == "" {
		return nil, fmt.Errorf("%w: file name and content are required", ErrInvalidRequest)
	}
	if !audio.Supported(req.Filename) {
		return nil, fmt.Errorf("%w: %w: %q (supported: %s)", ErrInvalidRequest, audio.ErrUnsupportedFormat,
			audio.Format(req.Filename), strings.Join(audio.SupportedFormats(), ", "))
	}
	userID := req.UserID
	if userID == "" {
		userID = s.config.DefaultUserID
	}

	ref, err := s.config.Audio.Save(ctx, req.Filename, req.Reader)
	if err != nil {
		return nil, fmt.Errorf("storing audio: %w", err)
	}

	conv, err := s.config.Store.CreateConversation(ctx, &conversation.Conversation{
		UserID:         userID,
		AudioReference: ref,
		IsFixture:      req.IsFixture,
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	if _, err := s.config.Store.EndConversation(ctx, conv.ID, conversation.EndReasonUploadComplete); err != nil {
		return nil, &IncompleteUploadError{
			ConversationID: conv.ID,
			AudioReference: ref,
			Err:            fmt.Errorf("closing conversation: %w", err),
		}
	}

	job, err := s.enqueue(ctx, jobs.TypeTranscription, jobs.Payload{
		ConversationID: conv.ID,
		AudioReference: ref,
		Params:         map[string]string{ParamSource: string(conversation.SourceOriginal)},
	})
	if err != nil {
		return nil, &IncompleteUploadError{ConversationID: conv.ID, AudioReference: ref, Err: err}
	}
	return &UploadResult{ConversationID: conv.ID, JobID: job.ID, AudioReference: ref}, nil
}

// EnqueueTranscription queues a transcription of the conversation's stored
// audio as an original run.
func (s *Service) EnqueueTranscription(ctx context.Context, conversationID string) (*jobs.Job, error) {
	return s.transcribe(ctx, conversationID, conversation.SourceOriginal)
}

// ReprocessTranscript queues a new transcription of the stored audio. Memory
// versions are untouched until the new transcript is activated, which then
// enqueues extraction against it.
func (s *Service) ReprocessTranscript(ctx context.Context, conversationID string) (*jobs.Job, error) {
	return s.transcribe(ctx, conversationID, conversation.SourceReprocess)
}

func (s *Service) transcribe(ctx context.Context, conversationID string, source conversation.Source) (*jobs.Job, error) {
	conv, err := s.config.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.AudioReference == "" {
		return nil, fmt.Errorf("%w: conversation %s has no stored audio", ErrInvalidRequest, conversationID)
	}
	return s.enqueue(ctx, jobs.TypeTranscription, jobs.Payload{
		ConversationID: conv.ID,
		AudioReference: conv.AudioReference,
		Params:         map[string]string{ParamSource: string(source)},
	})
}

// ReprocessMemory queues extraction against an existing, possibly inactive,
// transcript version. An empty transcriptVersionID uses the active one.
func (s *Service) ReprocessMemory(ctx context.Context, conversationID, transcriptVersionID string) (*jobs.Job, error) {
	if transcriptVersionID == "" {
		conv, err := s.config.Store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.ActiveTranscriptVersionID == "" {
			return nil, fmt.Errorf("%w: conversation %s has no active transcript", ErrInvalidRequest, conversationID)
		}
		transcriptVersionID = conv.ActiveTranscriptVersionID
	}
	if _, err := s.config.Store.GetTranscriptVersion(ctx, conversationID, transcriptVersionID); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, jobs.TypeMemoryExtraction, jobs.Payload{
		ConversationID:  conversationID,
		SourceVersionID: transcriptVersionID,
		Params:          map[string]string{ParamSource: string(conversation.SourceReprocess)},
	})
}

// ActivateTranscriptVersion rolls the conversation to versionID. A job in
// flight for the conversation may still activate its own result afterwards.
func (s *Service) ActivateTranscriptVersion(ctx context.Context, conversationID, versionID string) error {
	if err := s.config.Store.ActivateTranscriptVersion(ctx, conversationID, versionID); err != nil {
		return err
	}
	s.activated(ctx, conversationID, conversation.KindTranscript, versionID)
	return nil
}

// ActivateMemoryVersion rolls the conversation to versionID and resyncs the
// search index to the activated memory set.
func (s *Service) ActivateMemoryVersion(ctx context.Context, conversationID, versionID string) error {
	before, err := s.config.Store.ActiveMemories(ctx, conversationID)
	if err != nil {
		return err
	}
	target, err := s.config.Store.GetMemoryVersion(ctx, conversationID, versionID)
	if err != nil {
		return err
	}
	if err := s.config.Store.ActivateMemoryVersion(ctx, conversationID, versionID); err != nil {
		return err
	}
	s.activated(ctx, conversationID, conversation.KindMemory, versionID)
	s.syncIndex(ctx, before, target.Memories)
	return nil
}

// activated publishes a version.activated event. Publish failures are
// logged only.
func (s *Service) activated(ctx context.Context, conversationID string, kind conversation.VersionKind, versionID string) {
	event := eventstream.NewEvent(eventstream.EventTypeVersionActivated)
	event.ConversationID = conversationID
	event.VersionKind = string(kind)
	event.VersionID = versionID
	if err := s.config.Publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish activation event",
			"conversation_id", conversationID,
			"version_id", versionID,
			"error", err,
		)
	}
	s.logger.Info("version activated",
		"conversation_id", conversationID,
		"kind", string(kind),
		"version_id", versionID,
	)
}

// ListVersions lists one kind of version for a conversation, oldest first.
func (s *Service) ListVersions(ctx context.Context, conversationID string, kind conversation.VersionKind) ([]conversation.VersionInfo, error) {
	if _, err := s.config.Store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.config.Store.ListVersions(ctx, conversationID, kind)
}

// Version is one transcript or memory version with its activation state.
type Version struct {
	Kind       conversation.VersionKind        `json:"kind"`
	Active     bool                            `json:"active"`
	Transcript *conversation.TranscriptVersion `json:"transcript,omitempty"`
	Memory     *conversation.MemoryVersion     `json:"memory,omitempty"`
}

// GetVersion loads a version in full.
func (s *Service) GetVersion(ctx context.Context, conversationID string, kind conversation.VersionKind, versionID string) (*Version, error) {
	conv, err := s.config.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	v := &Version{Kind: kind}
	switch kind {
	case conversation.KindTranscript:
		v.Transcript, err = s.config.Store.GetTranscriptVersion(ctx, conversationID, versionID)
		v.Active = conv.ActiveTranscriptVersionID == versionID
	case conversation.KindMemory:
		v.Memory, err = s.config.Store.GetMemoryVersion(ctx, conversationID, versionID)
		v.Active = conv.ActiveMemoryVersionID == versionID
	default:
		return nil, fmt.Errorf("%w: unknown version kind %q", ErrInvalidRequest, kind)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// DeleteVersion removes an inactive version. Deleting the active version, or
// a transcript version memory versions derive from, is a ConflictError.
func (s *Service) DeleteVersion(ctx context.Context, conversationID string, kind conversation.VersionKind, versionID string) error {
	if err := s.config.Store.DeleteVersion(ctx, conversationID, kind, versionID); err != nil {
		return err
	}
	s.logger.Info("version deleted",
		"conversation_id", conversationID,
		"kind", string(kind),
		"version_id", versionID,
	)
	return nil
}

// EndConversation records why a live conversation ended.
func (s *Service) EndConversation(ctx context.Context, conversationID string, reason conversation.EndReason) (*conversation.Conversation, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown end reason %q", ErrInvalidRequest, reason)
	}
	return s.config.Store.EndConversation(ctx, conversationID, reason)
}

// GetConversation retrieves one conversation.
func (s *Service) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	return s.config.Store.GetConversation(ctx, id)
}

// ListConversations lists conversations newest first.
func (s *Service) ListConversations(ctx context.Context, filter conversation.Filter) ([]*conversation.Conversation, error) {
	return s.config.Store.ListConversations(ctx, filter)
}

// GetJob retrieves one job, including its last error and result.
func (s *Service) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	return s.config.Store.GetJob(ctx, id)
}

// ListJobs lists jobs newest first.
func (s *Service) ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error) {
	return s.config.Store.ListJobs(ctx, filter)
}

// QueueStats counts jobs per status.
func (s *Service) QueueStats(ctx context.Context) (jobs.Stats, error) {
	return s.config.Store.Stats(ctx)
}

// GetMemory retrieves a memory by id, active or not.
func (s *Service) GetMemory(ctx context.Context, id string) (*conversation.Memory, error) {
	return s.config.Store.GetMemory(ctx, id)
}
