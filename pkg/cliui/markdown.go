package cliui

import (
	"fmt"
	"io"
	"strings"

	"github.com/papercomputeco/chronicle/pkg/conversation"
)

// TranscriptMarkdown formats segments as one paragraph per speaker turn,
// prefixed with the turn's start offset.
func TranscriptMarkdown(segments []conversation.Segment) string {
	if len(segments) == 0 {
		return "_No speech._\n"
	}
	var b strings.Builder
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "`%s` **Speaker %s:** %s\n\n", offset(s.StartTime), s.SpeakerID, text)
	}
	return b.String()
}

// MemoriesMarkdown formats memories as a bullet list.
func MemoriesMarkdown(memories []*conversation.Memory) string {
	if len(memories) == 0 {
		return "_No memories._\n"
	}
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s", strings.TrimSpace(m.Content))
		if m.Supersedes != "" {
			fmt.Fprintf(&b, " _(updates %s)_", Truncate(m.Supersedes, 9))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// offset formats seconds as m:ss, or h:mm:ss past the hour.
func offset(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// PrintMarkdown renders content with glamour, falling back to the raw
// markdown when rendering fails.
func PrintMarkdown(w io.Writer, content string) {
	rendered, err := RenderMarkdown(content)
	if err != nil {
		rendered = content
	}
	fmt.Fprint(w, rendered)
}
