package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/llm"
)

// ExtractionCall records one ExtractOperations invocation.
type ExtractionCall struct {
	Transcript string
	Existing   []*conversation.Memory
}

// MockLanguageModel answers ExtractOperations from a queue of replies. Once
// the queue is drained it returns no operations. Func, when set, replaces
// the queue.
type MockLanguageModel struct {
	Replies [][]llm.Operation
	Errs    []error
	Func    func(transcript string, existing []*conversation.Memory) ([]llm.Operation, error)

	mu    sync.Mutex
	calls []ExtractionCall
}

func NewMockLanguageModel(replies ...[]llm.Operation) *MockLanguageModel {
	return &MockLanguageModel{Replies: replies}
}

func (m *MockLanguageModel) ExtractOperations(_ context.Context, transcript string, existing []*conversation.Memory) ([]llm.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ExtractionCall{Transcript: transcript, Existing: existing})

	if m.Func != nil {
		return m.Func(transcript, existing)
	}
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		return nil, err
	}
	if len(m.Replies) == 0 {
		return nil, nil
	}
	ops := m.Replies[0]
	m.Replies = m.Replies[1:]
	return ops, nil
}

// Calls returns the recorded invocations.
func (m *MockLanguageModel) Calls() []ExtractionCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExtractionCall(nil), m.calls...)
}

// MockSummarizer returns fixed strings, or its errors with the fallbacks.
type MockSummarizer struct {
	TitleText    string
	SummaryText  string
	DetailedText string
	Err          error
}

func (m *MockSummarizer) Title(_ context.Context, _ []conversation.Segment) (string, error) {
	if m.Err != nil {
		return conversation.DefaultTitle, m.Err
	}
	return m.TitleText, nil
}

func (m *MockSummarizer) Summary(_ context.Context, _ []conversation.Segment) (string, error) {
	if m.Err != nil {
		return conversation.DefaultSummary, m.Err
	}
	return m.SummaryText, nil
}

// DetailedSummary falls back to the joined segment text on error.
func (m *MockSummarizer) DetailedSummary(_ context.Context, segments []conversation.Segment) (string, error) {
	if m.Err != nil {
		texts := make([]string, 0, len(segments))
		for _, s := range segments {
			texts = append(texts, s.Text)
		}
		return strings.Join(texts, "\n"), m.Err
	}
	return m.DetailedText, nil
}

var (
	_ llm.LanguageModel = (*MockLanguageModel)(nil)
	_ llm.Summarizer    = (*MockSummarizer)(nil)
)
