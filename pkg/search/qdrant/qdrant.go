// Package qdrant provides a search.Index backed by a Qdrant server. Vectors
// rank results; user and conversation filters are keyword conditions and
// Contains is a full-text match on the content payload field.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/embeddings"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/search"
)

// DefaultCollection is the collection used when Config.Collection is empty.
const DefaultCollection = "chronicle_memories"

// idNamespace derives point ids for memory ids that are not UUIDs.
var idNamespace = uuid.MustParse("6f1c7e0a-3b52-4f4e-9a7d-2c1b8e5d9f30")

// Config configures the index.
type Config struct {
	// Target is the gRPC address, "host:port". The port defaults to 6334.
	Target     string
	APIKey     string
	UseTLS     bool
	Collection string

	// Dimensions is the embedding size used when creating the collection.
	Dimensions uint64

	Embedder embeddings.Embedder
	Logger   *slog.Logger
}

// Index implements search.Index over a Qdrant collection.
type Index struct {
	client     *qdrant.Client
	collection string
	embedder   embeddings.Embedder
	logger     *slog.Logger
}

// New connects to Qdrant and creates the collection and its payload indexes
// when missing.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("qdrant index requires an embedder")
	}
	if cfg.Dimensions == 0 {
		return nil, errors.New("qdrant embedding dimensions cannot be 0, must be configured")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	host, port, err := splitTarget(cfg.Target)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	x := &Index{
		client:     client,
		collection: cfg.Collection,
		embedder:   cfg.Embedder,
		logger:     cfg.Logger,
	}
	if err := x.ensureCollection(ctx, cfg.Dimensions); err != nil {
		client.Close()
		return nil, err
	}

	cfg.Logger.Info("qdrant search index initialized",
		"target", net.JoinHostPort(host, strconv.Itoa(port)),
		"collection", cfg.Collection,
		"dimensions", cfg.Dimensions,
	)
	return x, nil
}

func (x *Index) ensureCollection(ctx context.Context, dims uint64) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("checking qdrant collection: %w", err)
	}
	if exists {
		return nil
	}

	if err := x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dims,
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("creating qdrant collection: %w", err)
	}

	fields := []struct {
		name string
		kind qdrant.FieldType
	}{
		{search.FieldUserID, qdrant.FieldType_FieldTypeKeyword},
		{search.FieldConversationID, qdrant.FieldType_FieldTypeKeyword},
		{search.FieldContent, qdrant.FieldType_FieldTypeText},
	}
	for _, f := range fields {
		if _, err := x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: x.collection,
			Wait:           qdrant.PtrOf(true),
			FieldName:      f.name,
			FieldType:      f.kind.Enum(),
		}); err != nil {
			return fmt.Errorf("indexing qdrant field %s: %w", f.name, err)
		}
	}
	return nil
}

func (x *Index) Upsert(ctx context.Context, m *conversation.Memory) error {
	payload, err := search.Payload(m)
	if err != nil {
		return err
	}
	payload[search.FieldContent] = m.Content

	vec, err := x.embedder.Embed(ctx, m.Content)
	if err != nil {
		return fmt.Errorf("embedding memory %s: %w", m.ID, err)
	}

	values := make(map[string]any, len(payload))
	for k, v := range payload {
		values[k] = v
	}
	if _, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      pointID(m.ID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(values),
		}},
	}); err != nil {
		return fmt.Errorf("indexing memory %s: %w", m.ID, err)
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, id string) error {
	if _, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointID(id)),
	}); err != nil {
		return fmt.Errorf("removing memory %s: %w", id, err)
	}
	return nil
}

func (x *Index) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	vec, err := x.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	req := &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQueryDense(vec),
		Filter:         filter(q),
		Limit:          qdrant.PtrOf(uint64(q.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if q.ScoreThreshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(q.ScoreThreshold)
	}

	points, err := x.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("querying qdrant: %w", err)
	}

	results := make([]search.Result, 0, len(points))
	for _, p := range points {
		fields := payloadStrings(p.GetPayload())
		m, err := search.MemoryFromPayload(fields[search.FieldContent], fields)
		if err != nil {
			x.logger.Warn("skipping undecodable memory", "point", p.GetId().GetUuid(), "error", err)
			continue
		}
		results = append(results, search.Result{Memory: m, Score: p.GetScore()})
	}
	return results, nil
}

func (x *Index) Close() error {
	return x.client.Close()
}

func filter(q search.Query) *qdrant.Filter {
	var must []*qdrant.Condition
	if q.UserID != "" {
		must = append(must, qdrant.NewMatchKeyword(search.FieldUserID, q.UserID))
	}
	if q.ConversationID != "" {
		must = append(must, qdrant.NewMatchKeyword(search.FieldConversationID, q.ConversationID))
	}
	if q.Contains != "" {
		must = append(must, qdrant.NewMatchText(search.FieldContent, q.Contains))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// pointID maps a memory id onto a Qdrant UUID point id.
func pointID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewID(u.String())
	}
	return qdrant.NewID(uuid.NewSHA1(idNamespace, []byte(id)).String())
}

func payloadStrings(p map[string]*qdrant.Value) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v.GetStringValue()
	}
	return out
}

func splitTarget(target string) (string, int, error) {
	if target == "" {
		return "localhost", 6334, nil
	}
	if !strings.Contains(target, ":") {
		return target, 6334, nil
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, nil
}

var _ search.Index = (*Index)(nil)
