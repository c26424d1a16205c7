package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	tokenEncoding = "cl100k_base"

	// charsPerToken approximates token counts when the encoding cannot be
	// loaded.
	charsPerToken = 4
)

var getEncoding = tiktoken.GetEncoding

// Truncator caps text at a token budget.
type Truncator struct {
	maxTokens int

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTruncator returns a truncator for maxTokens. Zero or negative disables
// truncation.
func NewTruncator(maxTokens int) *Truncator {
	return &Truncator{maxTokens: maxTokens}
}

// Truncate returns text cut to the budget and whether it was cut. When the
// cl100k encoding is unavailable it falls back to a character estimate.
func (t *Truncator) Truncate(text string) (string, bool) {
	if t == nil || t.maxTokens <= 0 || text == "" {
		return text, false
	}

	t.once.Do(func() {
		t.enc, t.err = getEncoding(tokenEncoding)
	})

	if t.err != nil {
		r := []rune(text)
		limit := t.maxTokens * charsPerToken
		if len(r) <= limit {
			return text, false
		}
		return string(r[:limit]), true
	}

	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text, false
	}
	return t.enc.Decode(tokens[:t.maxTokens]), true
}
