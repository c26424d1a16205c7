package testutils

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/search"
)

// ErrMockIndex is returned by MockSearchIndex when Fail is set.
var ErrMockIndex = errors.New("mock index failure")

// MockSearchIndex keeps memories in a map and matches queries by substring.
type MockSearchIndex struct {
	Fail bool

	mu       sync.Mutex
	memories map[string]*conversation.Memory
}

func NewMockSearchIndex() *MockSearchIndex {
	return &MockSearchIndex{memories: make(map[string]*conversation.Memory)}
}

func (m *MockSearchIndex) Upsert(_ context.Context, mem *conversation.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrMockIndex
	}
	m.memories[mem.ID] = mem.Clone()
	return nil
}

func (m *MockSearchIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrMockIndex
	}
	delete(m.memories, id)
	return nil
}

func (m *MockSearchIndex) Search(_ context.Context, q search.Query) ([]search.Result, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, ErrMockIndex
	}

	var out []search.Result
	for _, mem := range m.memories {
		if q.Matches(mem) && strings.Contains(strings.ToLower(mem.Content), strings.ToLower(q.Text)) {
			out = append(out, search.Result{Memory: mem.Clone(), Score: 1})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Memory.ID < out[j].Memory.ID })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// IDs returns the indexed memory ids, sorted.
func (m *MockSearchIndex) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.memories))
	for id := range m.memories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MockSearchIndex) Close() error {
	return nil
}

var _ search.Index = (*MockSearchIndex)(nil)
