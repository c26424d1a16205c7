// Package llm defines the language model capability used by the memory
// extraction stage: the closed set of memory operations a model may
// propose, parsing of model output into those operations, the prompts, and
// conversation title and summary generation.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProviderTimeout is returned when the model did not answer in time.
	ErrProviderTimeout = errors.New("language model timeout")

	// ErrProviderRateLimited is returned when the provider throttled the call.
	ErrProviderRateLimited = errors.New("language model rate limited")

	// ErrProviderUnavailable is returned when the provider is unreachable or
	// answered with a server error.
	ErrProviderUnavailable = errors.New("language model unavailable")
)

// MalformedResponseError is returned when model output cannot be turned
// into a valid operation list. Raw keeps the output for diagnosis.
type MalformedResponseError struct {
	Reason string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %s", e.Reason)
}

// Request is one completion call.
type Request struct {
	// System is an optional system instruction.
	System string

	// Prompt is the user message.
	Prompt string

	// JSON asks the provider for a JSON object response where supported.
	JSON bool

	// Temperature is used when non-nil.
	Temperature *float64

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
}

// CallFunc sends one request to a model and returns the text reply.
type CallFunc func(ctx context.Context, req Request) (string, error)

// Temperature returns a pointer to t for Request.Temperature.
func Temperature(t float64) *float64 {
	return &t
}
