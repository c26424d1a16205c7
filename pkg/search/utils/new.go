// Package searchutils builds the configured search.Index.
package searchutils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/chronicle/pkg/embeddings"
	"github.com/papercomputeco/chronicle/pkg/search"
	"github.com/papercomputeco/chronicle/pkg/search/chromem"
	"github.com/papercomputeco/chronicle/pkg/search/inmemory"
	"github.com/papercomputeco/chronicle/pkg/search/qdrant"
	"github.com/papercomputeco/chronicle/pkg/search/sqlitevec"
)

type NewIndexOpts struct {
	// ProviderType is one of "inmemory", "chromem", "qdrant" or "sqlitevec".
	ProviderType string

	// Target is a directory (chromem), database path (sqlitevec) or
	// host:port (qdrant).
	Target     string
	Collection string
	Dimensions uint

	Embedder embeddings.Embedder
	Logger   *slog.Logger
}

// Providers lists the accepted ProviderType values.
func Providers() []string {
	return []string{"inmemory", "chromem", "qdrant", "sqlitevec"}
}

func NewIndex(ctx context.Context, o *NewIndexOpts) (search.Index, error) {
	switch o.ProviderType {
	case "inmemory", "":
		return inmemory.New(), nil
	case "chromem":
		return chromem.New(chromem.Config{
			Path:       o.Target,
			Collection: o.Collection,
			Embedder:   o.Embedder,
			Logger:     o.Logger,
		})
	case "qdrant":
		return qdrant.New(ctx, qdrant.Config{
			Target:     o.Target,
			Collection: o.Collection,
			Dimensions: uint64(o.Dimensions),
			Embedder:   o.Embedder,
			Logger:     o.Logger,
		})
	case "sqlitevec":
		if o.Target == "" {
			return nil, errors.New("sqlitevec index requires a database path")
		}
		return sqlitevec.New(sqlitevec.Config{
			DBPath:     o.Target,
			Dimensions: o.Dimensions,
			Embedder:   o.Embedder,
			Logger:     o.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
