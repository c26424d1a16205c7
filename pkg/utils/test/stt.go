package testutils

import (
	"context"
	"io"
	"sync"

	"github.com/papercomputeco/chronicle/pkg/stt"
)

// MockSpeechToText returns a canned result. Errors queued in Errs are
// returned first, one per call.
type MockSpeechToText struct {
	Result *stt.Result
	Errs   []error

	mu        sync.Mutex
	filenames []string
}

func NewMockSpeechToText(result *stt.Result) *MockSpeechToText {
	return &MockSpeechToText{Result: result}
}

func (m *MockSpeechToText) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if audio.Reader != nil {
		_, _ = io.Copy(io.Discard, audio.Reader)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.filenames = append(m.filenames, audio.Filename)
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		return nil, err
	}
	if m.Result == nil {
		return &stt.Result{}, nil
	}
	r := *m.Result
	return &r, nil
}

// Calls returns the filenames passed to Transcribe, in order.
func (m *MockSpeechToText) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.filenames...)
}
