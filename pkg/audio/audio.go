// Package audio stores uploaded recordings and identifies their container
// format. Stored audio is addressed by an opaque reference that the pipeline
// keeps on the conversation so transcription can be redone later.
package audio

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned when a file extension is not a known
// audio container.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ErrInvalidReference is returned for references that do not name a stored
// blob.
var ErrInvalidReference = errors.New("invalid audio reference")

// contentTypes maps supported extensions to the MIME type sent to speech
// providers.
var contentTypes = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
	"flac": "audio/flac",
	"webm": "audio/webm",
}

// SupportedFormats returns the accepted extensions without the leading dot.
func SupportedFormats() []string {
	return []string{"wav", "mp3", "m4a", "ogg", "opus", "flac", "webm"}
}

// Format returns the lower-cased extension of name without the dot.
func Format(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// Supported reports whether name carries a supported extension.
func Supported(name string) bool {
	_, ok := contentTypes[Format(name)]
	return ok
}

// ContentType returns the MIME type for name, or "" when unsupported.
func ContentType(name string) string {
	return contentTypes[Format(name)]
}

// Store persists audio blobs.
type Store interface {
	// Save writes r under a new reference derived from filename and
	// returns the reference.
	Save(ctx context.Context, filename string, r io.Reader) (string, error)

	// Open returns a reader for a stored reference.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Remove deletes a stored reference. Removing a missing reference is
	// not an error.
	Remove(ctx context.Context, ref string) error
}
