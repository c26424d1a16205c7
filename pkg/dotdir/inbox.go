package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	inboxFile = "inbox.json"
)

// InboxState records which inbox files have already been uploaded so a
// restarted watcher does not create duplicate conversations.
type InboxState struct {
	// Uploaded is keyed by absolute file path.
	Uploaded map[string]InboxEntry `json:"uploaded"`
}

// InboxEntry describes one uploaded inbox file.
type InboxEntry struct {
	ConversationID string    `json:"conversation_id"`
	JobID          string    `json:"job_id"`
	Size           int64     `json:"size"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// Seen reports whether path was uploaded with the given size.
func (s *InboxState) Seen(path string, size int64) bool {
	if s == nil || s.Uploaded == nil {
		return false
	}
	e, ok := s.Uploaded[path]
	return ok && e.Size == size
}

// Record marks path as uploaded.
func (s *InboxState) Record(path string, e InboxEntry) {
	if s.Uploaded == nil {
		s.Uploaded = make(map[string]InboxEntry)
	}
	s.Uploaded[path] = e
}

// LoadInboxState loads the inbox ledger from a target .chronicle/inbox.json.
// Returns an empty state if none exists yet.
func (m *Manager) LoadInboxState(overrideDir string) (*InboxState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, inboxFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &InboxState{Uploaded: map[string]InboxEntry{}}, nil
		}
		return nil, fmt.Errorf("reading inbox state: %w", err)
	}

	state := &InboxState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing inbox state: %w", err)
	}
	if state.Uploaded == nil {
		state.Uploaded = map[string]InboxEntry{}
	}

	return state, nil
}

// SaveInboxState persists the inbox ledger to a target .chronicle/inbox.json.
func (m *Manager) SaveInboxState(state *InboxState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil inbox state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling inbox state: %w", err)
	}

	path := filepath.Join(dir, inboxFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing inbox state: %w", err)
	}

	return nil
}

// ClearInboxState removes the inbox ledger so every inbox file is uploaded
// again. Returns nil if the file doesn't exist.
func (m *Manager) ClearInboxState(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, inboxFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing inbox state: %w", err)
	}

	return nil
}
