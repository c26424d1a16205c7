package testutils

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// MockEmbedderDimensions is the vector size produced by MockEmbedder.
const MockEmbedderDimensions = 128

// MockEmbedder is a test embedder that returns predictable embeddings.
// Unless a fixed embedding is registered, text is embedded as hashed word
// counts, so texts sharing words are close to each other.
type MockEmbedder struct {
	Embeddings map[string][]float32

	// FailOn causes Embed to return an error when the input text matches
	FailOn string

	mu    sync.Mutex
	calls int
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
	}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.FailOn != "" && text == m.FailOn {
		return nil, fmt.Errorf("mock embedding failure for: %s", text)
	}

	if emb, ok := m.Embeddings[text]; ok {
		return emb, nil
	}
	return bagOfWords(text), nil
}

// Calls returns how many times Embed was invoked.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEmbedder) Close() error {
	return nil
}

func bagOfWords(text string) []float32 {
	vec := make([]float32, MockEmbedderDimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%MockEmbedderDimensions]++
	}
	if len(words) == 0 {
		vec[0] = 1
	}
	return vec
}
