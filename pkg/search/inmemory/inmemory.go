// Package inmemory provides a search.Index that ranks memories by word
// overlap with the query. It needs no embedder and suits tests and
// single-process deployments.
package inmemory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/search"
)

// Index is a mutex-guarded map of memories.
type Index struct {
	mu       sync.RWMutex
	memories map[string]*conversation.Memory
}

// New returns an empty index.
func New() *Index {
	return &Index{memories: make(map[string]*conversation.Memory)}
}

func (x *Index) Upsert(_ context.Context, m *conversation.Memory) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.memories[m.ID] = m.Clone()
	return nil
}

func (x *Index) Delete(_ context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.memories, id)
	return nil
}

// Search scores each memory by the fraction of distinct query words it
// contains. Memories sharing no words are never returned.
func (x *Index) Search(_ context.Context, q search.Query) ([]search.Result, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	want := distinct(search.Tokens(q.Text))
	if len(want) == 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var results []search.Result
	for _, m := range x.memories {
		if !q.Matches(m) {
			continue
		}
		have := distinct(search.Tokens(m.Content))
		hits := 0
		for w := range want {
			if _, ok := have[w]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float32(hits) / float32(len(want))
		if score < q.ScoreThreshold {
			continue
		}
		results = append(results, search.Result{Memory: m.Clone(), Score: score})
	}

	slices.SortFunc(results, func(a, b search.Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return b.Memory.CreatedAt.Compare(a.Memory.CreatedAt)
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// Len returns the number of indexed memories.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.memories)
}

func (x *Index) Close() error {
	return nil
}

func distinct(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

var _ search.Index = (*Index)(nil)
