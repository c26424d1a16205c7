// Package embeddingutils builds the configured embeddings.Embedder.
package embeddingutils

import (
	"fmt"

	"github.com/papercomputeco/chronicle/pkg/embeddings"
	"github.com/papercomputeco/chronicle/pkg/embeddings/cached"
	"github.com/papercomputeco/chronicle/pkg/embeddings/ollama"
)

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	Dimensions   uint

	// CacheBytes enables an in-process vector cache of this size when > 0.
	CacheBytes int64
}

func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	var (
		emb embeddings.Embedder
		err error
	)
	switch o.ProviderType {
	case "ollama":
		emb, err = ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL:    o.TargetURL,
			Model:      o.Model,
			Dimensions: o.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
	if err != nil {
		return nil, err
	}

	if o.CacheBytes > 0 {
		return cached.New(emb, cached.Config{MaxCost: o.CacheBytes})
	}
	return emb, nil
}
