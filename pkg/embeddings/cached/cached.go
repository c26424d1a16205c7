// Package cached wraps an embeddings.Embedder with an in-process ristretto
// cache so repeated texts (reprocessed memories, repeated searches) are
// embedded once.
package cached

import (
	"context"
	"errors"

	"github.com/dgraph-io/ristretto"

	"github.com/papercomputeco/chronicle/pkg/embeddings"
)

// DefaultMaxCost bounds the cache at roughly 64 MiB of vectors.
const DefaultMaxCost = 64 << 20

// Embedder caches the vectors returned by an inner embedder, keyed by text.
type Embedder struct {
	inner embeddings.Embedder
	cache *ristretto.Cache
}

// Config configures the cache.
type Config struct {
	// MaxCost is the cache budget in bytes. Defaults to DefaultMaxCost.
	MaxCost int64
}

// New wraps inner with a cache.
func New(inner embeddings.Embedder, cfg Config) (*Embedder, error) {
	if inner == nil {
		return nil, errors.New("cached embedder requires an inner embedder")
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = DefaultMaxCost
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		// ~10x the expected number of entries at 3KiB per vector.
		NumCounters: max(cfg.MaxCost/300, 1000),
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, embedding it on a miss.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return clone(vec), nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, clone(vec), int64(len(vec)*4))
	return vec, nil
}

// Wait blocks until pending cache writes are visible.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close releases the cache and closes the inner embedder.
func (e *Embedder) Close() error {
	e.cache.Close()
	return e.inner.Close()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

var _ embeddings.Embedder = (*Embedder)(nil)
