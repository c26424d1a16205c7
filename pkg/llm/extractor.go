package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/logger"
)

// LanguageModel proposes memory operations for a transcript given the
// memories already known.
type LanguageModel interface {
	ExtractOperations(ctx context.Context, transcript string, existing []*conversation.Memory) ([]Operation, error)
}

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	// Call sends requests to the model.
	Call CallFunc

	// MaxTranscriptTokens truncates long transcripts. Zero disables it.
	MaxTranscriptTokens int

	Logger *slog.Logger
}

// Extractor implements LanguageModel over a CallFunc.
type Extractor struct {
	call      CallFunc
	truncator *Truncator
	logger    *slog.Logger
}

// NewExtractor returns an extractor for c.
func NewExtractor(c ExtractorConfig) (*Extractor, error) {
	if c.Call == nil {
		return nil, errors.New("extractor requires a model call function")
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return &Extractor{
		call:      c.Call,
		truncator: NewTruncator(c.MaxTranscriptTokens),
		logger:    c.Logger,
	}, nil
}

// ExtractOperations asks the model for operations and parses the reply.
// Provider errors are returned unchanged; unusable output is a
// *MalformedResponseError carrying the raw reply.
func (e *Extractor) ExtractOperations(ctx context.Context, transcript string, existing []*conversation.Memory) ([]Operation, error) {
	text, cut := e.truncator.Truncate(transcript)
	if cut {
		e.logger.Warn("transcript truncated for extraction",
			"original_chars", len(transcript),
			"truncated_chars", len(text),
		)
	}

	raw, err := e.call(ctx, Request{
		System:      extractionSystem,
		Prompt:      ExtractionPrompt(text, existing),
		JSON:        true,
		Temperature: Temperature(0),
	})
	if err != nil {
		return nil, err
	}

	ops, err := ParseOperations(raw)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("model proposed memory operations", "count", len(ops), "existing", len(existing))
	return ops, nil
}

var _ LanguageModel = (*Extractor)(nil)
