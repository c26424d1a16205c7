// Package chromem provides a search.Index backed by chromem-go, an embedded
// pure Go vector database. Memories live in one collection; user and
// conversation filters are metadata where-clauses and Contains maps onto
// chromem's $contains document filter.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/embeddings"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/search"
)

// DefaultCollection is the collection used when Config.Collection is empty.
const DefaultCollection = "memories"

// Config configures the index.
type Config struct {
	// Path persists the database under this directory. Empty keeps it in
	// memory only.
	Path string

	Collection string
	Embedder   embeddings.Embedder
	Logger     *slog.Logger
}

// Index implements search.Index over a chromem collection.
type Index struct {
	col    *chromem.Collection
	logger *slog.Logger

	// chromem serializes writes internally; mu keeps Count and Query
	// consistent with concurrent deletes.
	mu sync.RWMutex
}

// New opens or creates the collection described by cfg.
func New(cfg Config) (*Index, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("chromem index requires an embedder")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, true)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db %s: %w", cfg.Path, err)
		}
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return cfg.Embedder.Embed(ctx, text)
	}
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("opening chromem collection %s: %w", cfg.Collection, err)
	}

	cfg.Logger.Info("chromem search index initialized",
		"collection", cfg.Collection,
		"persistent", cfg.Path != "",
		"documents", col.Count(),
	)
	return &Index{col: col, logger: cfg.Logger}, nil
}

func (x *Index) Upsert(ctx context.Context, m *conversation.Memory) error {
	payload, err := search.Payload(m)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	// AddDocument overwrites an existing document with the same id.
	if err := x.col.AddDocument(ctx, chromem.Document{
		ID:       m.ID,
		Metadata: payload,
		Content:  m.Content,
	}); err != nil {
		return fmt.Errorf("indexing memory %s: %w", m.ID, err)
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("removing memory %s: %w", id, err)
	}
	return nil
}

func (x *Index) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	where := map[string]string{}
	if q.UserID != "" {
		where[search.FieldUserID] = q.UserID
	}
	if q.ConversationID != "" {
		where[search.FieldConversationID] = q.ConversationID
	}
	var whereDocument map[string]string
	if q.Contains != "" {
		whereDocument = map[string]string{"$contains": q.Contains}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	// chromem rejects result counts above the collection size.
	n := min(q.Limit, x.col.Count())
	if n == 0 {
		return nil, nil
	}
	found, err := x.col.Query(ctx, q.Text, n, where, whereDocument)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	results := make([]search.Result, 0, len(found))
	for _, r := range found {
		if r.Similarity < q.ScoreThreshold {
			continue
		}
		m, err := search.MemoryFromPayload(r.Content, r.Metadata)
		if err != nil {
			x.logger.Warn("skipping undecodable memory", "id", r.ID, "error", err)
			continue
		}
		results = append(results, search.Result{Memory: m, Score: r.Similarity})
	}
	return results, nil
}

// Close is a no-op; persistent databases are written on every change.
func (x *Index) Close() error {
	return nil
}

var _ search.Index = (*Index)(nil)
