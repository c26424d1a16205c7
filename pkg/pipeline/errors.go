package pipeline

import (
	"context"
	"errors"

	"github.com/papercomputeco/chronicle/pkg/audio"
	"github.com/papercomputeco/chronicle/pkg/llm"
	"github.com/papercomputeco/chronicle/pkg/storage"
	"github.com/papercomputeco/chronicle/pkg/stt"
)

// Error classes recorded in job diagnostics.
const (
	ClassTransient = "transient_provider"
	ClassPermanent = "permanent_input"
	ClassNotFound  = "not_found"
	ClassConflict  = "conflict"
)

// TransientError marks a failure worth retrying with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix. Diagnostic is
// kept on the failed job.
type PermanentError struct {
	Err        error
	Diagnostic map[string]any
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError carrying diagnostic.
func Permanent(err error, diagnostic map[string]any) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err, Diagnostic: diagnostic}
}

// Classify decides whether a stage error should be retried and builds the
// diagnostic payload stored on the job. It satisfies worker.Classifier.
//
// Provider timeouts, rate limits and outages are retried. Unsupported audio,
// malformed model output, and missing or conflicting records fail the job
// immediately. Anything unrecognised is retried, bounded by the job's
// attempt limit.
func Classify(err error) (bool, map[string]any) {
	diag := map[string]any{}

	var perm *PermanentError
	if errors.As(err, &perm) {
		for k, v := range perm.Diagnostic {
			diag[k] = v
		}
	}

	var trans *TransientError
	if perm == nil && errors.As(err, &trans) {
		return true, transient(err, diag)
	}

	var malformed *llm.MalformedResponseError
	switch {
	case errors.As(err, &malformed):
		diag["class"] = ClassPermanent
		diag["reason"] = malformed.Reason
		diag["raw_output"] = malformed.Raw
		return false, diag

	case perm != nil,
		errors.Is(err, stt.ErrUnsupportedAudio),
		errors.Is(err, audio.ErrUnsupportedFormat),
		errors.Is(err, audio.ErrInvalidReference):
		diag["class"] = ClassPermanent
		return false, diag

	case storage.IsNotFound(err):
		diag["class"] = ClassNotFound
		return false, diag

	case storage.IsConflict(err):
		diag["class"] = ClassConflict
		return false, diag
	}

	return true, transient(err, diag)
}

func transient(err error, diag map[string]any) map[string]any {
	diag["class"] = ClassTransient
	switch {
	case errors.Is(err, stt.ErrProviderTimeout), errors.Is(err, llm.ErrProviderTimeout),
		errors.Is(err, context.DeadlineExceeded):
		diag["reason"] = "timeout"
	case errors.Is(err, stt.ErrProviderRateLimited), errors.Is(err, llm.ErrProviderRateLimited):
		diag["reason"] = "rate_limited"
	case errors.Is(err, llm.ErrProviderUnavailable):
		diag["reason"] = "unavailable"
	}
	return diag
}
