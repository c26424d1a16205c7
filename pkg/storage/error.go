package storage

import (
	"errors"
)

// Record kinds used in NotFoundError and ConflictError.
const (
	KindJob          = "job"
	KindConversation = "conversation"
	KindTranscript   = "transcript version"
	KindMemoryVer    = "memory version"
	KindMemory       = "memory"
)

// NotFoundError is returned when a referenced record doesn't exist, or
// exists but does not belong to the referenced conversation.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "record"
	}
	if e.ID == "" {
		return kind + " not found"
	}
	return kind + " not found: " + e.ID
}

// ConflictError is returned when an operation would violate store state,
// such as deleting the active version or completing a job owned by another
// worker. No state changes when it is returned.
type ConflictError struct {
	Kind   string
	ID     string
	Reason string
}

func (e ConflictError) Error() string {
	msg := "conflict"
	if e.Kind != "" {
		msg += " on " + e.Kind
	}
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ErrInvalidTransition is wrapped by drivers when a job status change is
// not an allowed lifecycle edge.
var ErrInvalidTransition = errors.New("invalid job status transition")

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}
