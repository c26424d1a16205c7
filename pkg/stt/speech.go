package stt

import (
	"fmt"
	"strings"
)

const (
	DefaultMinWords      = 5
	DefaultMinConfidence = 0.5
)

// SpeechSettings are the thresholds for deciding whether a transcript holds
// meaningful speech.
type SpeechSettings struct {
	MinWords      int
	MinConfidence float64
}

// DefaultSpeechSettings returns five words at 0.5 confidence.
func DefaultSpeechSettings() SpeechSettings {
	return SpeechSettings{MinWords: DefaultMinWords, MinConfidence: DefaultMinConfidence}
}

// SpeechAnalysis is the outcome of AnalyzeSpeech.
type SpeechAnalysis struct {
	HasSpeech   bool    `json:"has_speech"`
	Reason      string  `json:"reason"`
	WordCount   int     `json:"word_count"`
	Duration    float64 `json:"duration"`
	SpeechStart float64 `json:"speech_start"`
	SpeechEnd   float64 `json:"speech_end"`

	// Fallback is set when only the plain text could be analysed.
	Fallback bool `json:"fallback,omitempty"`
}

// AnalyzeSpeech decides whether r contains meaningful speech. Word-level
// data is preferred: words under the confidence threshold are discarded and
// the remaining count must reach MinWords. Without word data the whitespace
// separated words of the text are counted instead.
func AnalyzeSpeech(r *Result, s SpeechSettings) SpeechAnalysis {
	if s.MinWords <= 0 {
		s.MinWords = DefaultMinWords
	}
	if r == nil {
		return SpeechAnalysis{Reason: "No meaningful speech content detected"}
	}

	if len(r.Words) > 0 {
		valid := make([]Word, 0, len(r.Words))
		for _, w := range r.Words {
			if w.Confidence >= s.MinConfidence {
				valid = append(valid, w)
			}
		}
		if len(valid) < s.MinWords {
			return SpeechAnalysis{
				Reason:    fmt.Sprintf("Not enough valid words (%d < %d)", len(valid), s.MinWords),
				WordCount: len(valid),
			}
		}

		start := valid[0].Start
		end := valid[len(valid)-1].End
		return SpeechAnalysis{
			HasSpeech:   true,
			Reason:      fmt.Sprintf("Valid speech detected (%d words, %.1fs)", len(valid), end-start),
			WordCount:   len(valid),
			Duration:    end - start,
			SpeechStart: start,
			SpeechEnd:   end,
		}
	}

	text := strings.TrimSpace(r.Text)
	if text != "" {
		n := len(strings.Fields(text))
		if n >= s.MinWords {
			return SpeechAnalysis{
				HasSpeech: true,
				Reason:    fmt.Sprintf("Valid speech detected (%d words, no timing data)", n),
				WordCount: n,
				Fallback:  true,
			}
		}
	}

	return SpeechAnalysis{Reason: "No meaningful speech content detected"}
}
