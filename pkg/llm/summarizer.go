package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/papercomputeco/chronicle/pkg/conversation"
)

const (
	titleSegments    = 10
	titleFallbackN   = 6
	titleFallbackCh  = 40
	summaryMaxChars  = 120
	detailedMaxChars = 2000

	// minSummarizable is the shortest text worth sending to the model.
	minSummarizable = 10
)

// NoDetailedSummary is the detailed summary of a conversation without
// enough speech to describe.
const NoDetailedSummary = "No meaningful content to summarize"

// Summarizer generates a conversation title, a short summary and a detailed
// summary. Every method returns a usable string; the error reports a model
// failure that was replaced by a fallback.
type Summarizer interface {
	Title(ctx context.Context, segments []conversation.Segment) (string, error)
	Summary(ctx context.Context, segments []conversation.Segment) (string, error)
	DetailedSummary(ctx context.Context, segments []conversation.Segment) (string, error)
}

// ModelSummarizer implements Summarizer over a CallFunc.
type ModelSummarizer struct {
	call CallFunc
}

// NewSummarizer returns a summarizer using call.
func NewSummarizer(call CallFunc) (*ModelSummarizer, error) {
	if call == nil {
		return nil, errors.New("summarizer requires a model call function")
	}
	return &ModelSummarizer{call: call}, nil
}

// Title returns a 3-6 word title built from the first segments.
func (s *ModelSummarizer) Title(ctx context.Context, segments []conversation.Segment) (string, error) {
	texts := make([]string, 0, titleSegments)
	for _, seg := range segments {
		if len(texts) == titleSegments {
			break
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			texts = append(texts, t)
		}
	}
	text := strings.Join(texts, "\n")
	if len(strings.TrimSpace(text)) < minSummarizable {
		return conversation.DefaultTitle, nil
	}

	reply, err := s.call(ctx, Request{Prompt: titlePrompt(text), Temperature: Temperature(0.3), MaxTokens: 32})
	if err == nil {
		if title := cleanReply(reply); title != "" {
			return title, nil
		}
		err = errors.New("empty title")
	}
	return fallbackTitle(text), err
}

// Summary returns a one or two sentence summary of at most 120 characters.
func (s *ModelSummarizer) Summary(ctx context.Context, segments []conversation.Segment) (string, error) {
	text, hasSpeakers := attributed(segments)
	if len(strings.TrimSpace(text)) < minSummarizable {
		return conversation.DefaultSummary, nil
	}

	reply, err := s.call(ctx, Request{Prompt: summaryPrompt(text, hasSpeakers), Temperature: Temperature(0.3), MaxTokens: 80})
	if err == nil {
		if summary := cleanReply(reply); summary != "" {
			return summary, nil
		}
		err = errors.New("empty summary")
	}
	return ellipsize(text, summaryMaxChars), err
}

// DetailedSummary returns a multi-paragraph account of everything discussed,
// attributing points to speakers when segments carry them. When the model
// fails it returns the transcript itself, cut at 2000 characters.
func (s *ModelSummarizer) DetailedSummary(ctx context.Context, segments []conversation.Segment) (string, error) {
	text, hasSpeakers := attributed(segments)
	if len(strings.TrimSpace(text)) < minSummarizable {
		return NoDetailedSummary, nil
	}

	reply, err := s.call(ctx, Request{Prompt: detailedSummaryPrompt(text, hasSpeakers), Temperature: Temperature(0.3)})
	if err == nil {
		if summary := cleanReply(reply); summary != "" {
			return summary, nil
		}
		return NoDetailedSummary, nil
	}
	return ellipsize(text, detailedMaxChars), err
}

// attributed joins the non-empty segment texts one per line, prefixed with
// the speaker when known.
func attributed(segments []conversation.Segment) (string, bool) {
	lines := make([]string, 0, len(segments))
	hasSpeakers := false
	for _, seg := range segments {
		t := strings.TrimSpace(seg.Text)
		if t == "" {
			continue
		}
		if seg.SpeakerID != "" {
			hasSpeakers = true
			lines = append(lines, seg.SpeakerID+": "+t)
		} else {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n"), hasSpeakers
}

func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

func fallbackTitle(text string) string {
	words := strings.Fields(text)
	if len(words) > titleFallbackN {
		words = words[:titleFallbackN]
	}
	return ellipsize(strings.Join(words, " "), titleFallbackCh)
}

func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var _ Summarizer = (*ModelSummarizer)(nil)
