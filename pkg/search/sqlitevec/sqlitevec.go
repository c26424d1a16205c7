// Package sqlitevec provides a search.Index stored in SQLite using the
// sqlite-vec extension. Embeddings live in a vec0 virtual table; memory
// fields live in a companion table joined by rowid.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/embeddings"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/search"
)

// maxKNN is the largest k sqlite-vec accepts for a KNN query.
const maxKNN = 4096

// Index implements search.Index using SQLite with sqlite-vec.
type Index struct {
	db       *sql.DB
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// Config holds configuration for the SQLite vec index.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint

	Embedder embeddings.Embedder
	Logger   *slog.Logger
}

// New creates the index tables in the database at c.DBPath.
func New(c Config) (*Index, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}
	if c.Embedder == nil {
		return nil, errors.New("sqlite-vec index requires an embedder")
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	// vec0 virtual tables use integer rowids, so memory ids map to rowids
	// through the documents table.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_documents (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			payload TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS memory_documents_user ON memory_documents(user_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents index: %w", err)
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_embeddings USING vec0(embedding float[%d])`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	c.Logger.Info("sqlite-vec search index initialized",
		"db_path", c.DBPath,
		"dimensions", c.Dimensions,
		"vec_version", vecVersion,
	)

	return &Index{db: db, embedder: c.Embedder, logger: c.Logger}, nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Upsert stores m with its embedding, replacing any previous entry.
func (x *Index) Upsert(ctx context.Context, m *conversation.Memory) error {
	payload, err := search.Payload(m)
	if err != nil {
		return err
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload for memory %s: %w", m.ID, err)
	}

	vec, err := x.embedder.Embed(ctx, m.Content)
	if err != nil {
		return fmt.Errorf("embedding memory %s: %w", m.ID, err)
	}
	embBlob := serializeFloat32(vec)

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var rowID int64
	err = tx.QueryRowContext(ctx,
		`SELECT rowid FROM memory_documents WHERE memory_id = ?`, m.ID,
	).Scan(&rowID)

	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_documents SET user_id = ?, conversation_id = ?, content = ?, payload = ? WHERE rowid = ?`,
			m.UserID, m.SourceConversationID, m.Content, string(rawPayload), rowID,
		); err != nil {
			return fmt.Errorf("updating memory %s: %w", m.ID, err)
		}

		// vec0 does not support UPDATE
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memory_embeddings WHERE rowid = ?`, rowID,
		); err != nil {
			return fmt.Errorf("deleting old embedding for memory %s: %w", m.ID, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx,
			`INSERT INTO memory_documents(memory_id, user_id, conversation_id, content, payload) VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.UserID, m.SourceConversationID, m.Content, string(rawPayload),
		)
		if err != nil {
			return fmt.Errorf("inserting memory %s: %w", m.ID, err)
		}
		rowID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting rowid for memory %s: %w", m.ID, err)
		}
	default:
		return fmt.Errorf("checking for existing memory %s: %w", m.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_embeddings(rowid, embedding) VALUES (?, ?)`,
		rowID, embBlob,
	); err != nil {
		return fmt.Errorf("inserting embedding for memory %s: %w", m.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	x.logger.Debug("indexed memory in sqlite-vec", "memory_id", m.ID)
	return nil
}

// Search runs a KNN query and applies the filters to the joined rows. When
// any filter is set the KNN covers every stored memory, up to maxKNN.
func (x *Index) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	k := q.Limit
	if q.UserID != "" || q.ConversationID != "" || q.Contains != "" || q.ScoreThreshold > 0 {
		var total int
		if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_documents`).Scan(&total); err != nil {
			return nil, fmt.Errorf("counting memories: %w", err)
		}
		k = max(k, min(total, maxKNN))
	}
	k = min(k, maxKNN)

	vec, err := x.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT
			d.content,
			d.payload,
			me.distance
		FROM memory_embeddings me
		INNER JOIN memory_documents d ON d.rowid = me.rowid
		WHERE me.embedding MATCH ?
			AND me.k = ?
			AND (? = '' OR d.user_id = ?)
			AND (? = '' OR d.conversation_id = ?)
			AND (? = '' OR d.content LIKE '%' || ? || '%')
		ORDER BY me.distance
	`, serializeFloat32(vec), k,
		q.UserID, q.UserID,
		q.ConversationID, q.ConversationID,
		q.Contains, q.Contains,
	)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []search.Result
	for rows.Next() {
		var (
			content, rawPayload string
			distance            float64
		)
		if err := rows.Scan(&content, &rawPayload, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}

		// lower distance = higher similarity
		score := float32(1.0 / (1.0 + distance))
		if score < q.ScoreThreshold {
			continue
		}

		var payload map[string]string
		if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
			x.logger.Warn("skipping undecodable memory payload", "error", err)
			continue
		}
		m, err := search.MemoryFromPayload(content, payload)
		if err != nil {
			x.logger.Warn("skipping undecodable memory", "error", err)
			continue
		}
		results = append(results, search.Result{Memory: m, Score: score})
		if len(results) == q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}
	return results, nil
}

// Delete removes the memory with id.
func (x *Index) Delete(ctx context.Context, id string) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var rowID int64
	err = tx.QueryRowContext(ctx, `SELECT rowid FROM memory_documents WHERE memory_id = ?`, id).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up memory %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("deleting embedding for memory %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_documents WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("deleting memory %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	x.logger.Debug("removed memory from sqlite-vec", "memory_id", id)
	return nil
}

// Close releases resources held by the index.
func (x *Index) Close() error {
	return x.db.Close()
}

var _ search.Index = (*Index)(nil)
