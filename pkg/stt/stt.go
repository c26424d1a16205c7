// Package stt defines the speech-to-text capability the transcription stage
// consumes, and the speech analysis applied to its results.
package stt

import (
	"context"
	"errors"
	"io"

	"github.com/papercomputeco/chronicle/pkg/conversation"
)

var (
	// ErrProviderTimeout is returned when the provider did not answer in time.
	ErrProviderTimeout = errors.New("speech provider timeout")

	// ErrProviderRateLimited is returned when the provider throttled the call.
	ErrProviderRateLimited = errors.New("speech provider rate limited")

	// ErrUnsupportedAudio is returned for audio the provider cannot decode.
	ErrUnsupportedAudio = errors.New("unsupported audio")
)

// Audio is one recording handed to a provider.
type Audio struct {
	Reader      io.Reader
	Filename    string
	ContentType string
}

// Word is one recognised word with its timing in seconds.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
}

// Result is a provider transcription.
type Result struct {
	Segments   []conversation.Segment `json:"segments"`
	Words      []Word                 `json:"words,omitempty"`
	Text       string                 `json:"text"`
	Confidence float64                `json:"confidence"`
}

// SpeechToText transcribes recorded audio.
type SpeechToText interface {
	Transcribe(ctx context.Context, audio Audio) (*Result, error)
}

// AverageConfidence is the mean word confidence, or 0 without words.
func AverageConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}
