package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore keeps audio blobs as files in one directory. References are
// "<uuid>.<ext>" file names.
type FileStore struct {
	dir string
}

// NewFileStore creates dir when missing and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("audio directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audio directory %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving audio directory %s: %w", dir, err)
	}
	return &FileStore{dir: abs}, nil
}

// Dir returns the absolute directory of the store.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save copies r to a temporary file and renames it into place, so a crash
// never leaves a partial blob under a valid reference.
func (s *FileStore) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if !Supported(filename) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}
	ref := uuid.New().String() + "." + Format(filename)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp audio file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("syncing audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing audio: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, ref)); err != nil {
		return "", fmt.Errorf("storing audio: %w", err)
	}
	return ref, nil
}

// Open returns the stored blob for ref.
func (s *FileStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrInvalidReference, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("opening audio %s: %w", ref, err)
	}
	return f, nil
}

// Remove deletes the blob for ref.
func (s *FileStore) Remove(_ context.Context, ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing audio %s: %w", ref, err)
	}
	return nil
}

func (s *FileStore) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref[0] == '.' {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ Store = (*FileStore)(nil)
