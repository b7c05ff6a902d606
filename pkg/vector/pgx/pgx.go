// Package pgx is the Postgres/pgvector implementation of the vector
// index. Records live in one table keyed by event id; nearest-neighbor
// search runs through pgvector's L2 operator.
package pgx

import (
	"context"
	"fmt"
	"strings"

	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/logger"
	"github.com/contextiq/backend/pkg/vector"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

const upsertChunk = 500

type VectorIndex struct {
	conn pgxIConn
	dim  int
}

func NewVectorIndex(conn pgxIConn, dim int) *VectorIndex {
	if dim <= 0 {
		dim = 384
	}
	return &VectorIndex{conn: conn, dim: dim}
}

// EnsureSchema creates the vector table and HNSW index when missing.
// Safe to call on every startup.
func (v *VectorIndex) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS event_vectors (
			event_id        TEXT PRIMARY KEY,
			embedding       vector(%d) NOT NULL,
			text            TEXT NOT NULL DEFAULT '',
			source          TEXT NOT NULL DEFAULT '',
			channel         TEXT NOT NULL DEFAULT '',
			user_name       TEXT NOT NULL DEFAULT '',
			ts              TIMESTAMPTZ NOT NULL,
			sentiment_label TEXT NOT NULL DEFAULT 'neutral',
			sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0
		)`, v.dim),
		`CREATE INDEX IF NOT EXISTS event_vectors_embedding_idx
			ON event_vectors USING hnsw (embedding vector_l2_ops)`,
		`CREATE INDEX IF NOT EXISTS event_vectors_source_idx ON event_vectors (source)`,
	}
	for _, stmt := range stmts {
		if _, err := v.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure vector schema: %v", common.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// Upsert writes records keyed by event id. Vectors of the wrong
// dimensionality are rejected individually so one bad record never
// drops a batch.
func (v *VectorIndex) Upsert(ctx context.Context, records []common.VectorRecord) (int, []common.IngestError, error) {
	if len(records) == 0 {
		return 0, nil, nil
	}

	accepted := make([]common.VectorRecord, 0, len(records))
	var rejected []common.IngestError
	for _, rec := range records {
		if len(rec.Embedding) != v.dim {
			rejected = append(rejected, common.IngestError{
				EventID: rec.EventID,
				Stage:   "vector_upsert",
				Message: fmt.Sprintf("dimension mismatch: got %d want %d", len(rec.Embedding), v.dim),
			})
			continue
		}
		accepted = append(accepted, rec)
	}

	written := 0
	err := common.ChunkRange(len(accepted), upsertChunk, func(start, end int) error {
		chunk := accepted[start:end]
		logger.Debug("[Vector][Upsert] Writing chunk", "records", len(chunk))

		batch := &pgxv5.Batch{}
		for _, rec := range chunk {
			batch.Queue(`INSERT INTO event_vectors
				(event_id, embedding, text, source, channel, user_name, ts, sentiment_label, sentiment_score)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (event_id) DO UPDATE SET
					embedding = EXCLUDED.embedding,
					text = EXCLUDED.text,
					source = EXCLUDED.source,
					channel = EXCLUDED.channel,
					user_name = EXCLUDED.user_name,
					ts = EXCLUDED.ts,
					sentiment_label = EXCLUDED.sentiment_label,
					sentiment_score = EXCLUDED.sentiment_score`,
				rec.EventID,
				pgvector.NewVector(rec.Embedding),
				rec.Text,
				rec.Source,
				rec.Channel,
				rec.UserName,
				rec.Timestamp,
				rec.SentimentLabel,
				rec.SentimentScore,
			)
		}

		tx, err := v.conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%w: begin vector upsert: %v", common.ErrStoreUnavailable, err)
		}
		defer tx.Rollback(ctx)

		br := tx.SendBatch(ctx, batch)
		for range chunk {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("%w: vector upsert: %v", common.ErrStoreUnavailable, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("%w: close vector batch: %v", common.ErrStoreUnavailable, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: commit vector upsert: %v", common.ErrStoreUnavailable, err)
		}
		written += len(chunk)
		return nil
	})
	if err != nil {
		return written, rejected, err
	}
	return written, rejected, nil
}

// Search returns the topK nearest records by squared Euclidean distance,
// optionally restricted by equality filters on metadata columns.
func (v *VectorIndex) Search(ctx context.Context, queryVector []float32, topK int, filter map[string]string) ([]common.VectorHit, error) {
	if len(queryVector) != v.dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d want %d", len(queryVector), v.dim)
	}
	if topK <= 0 {
		topK = 10
	}

	args := []any{pgvector.NewVector(queryVector)}
	var where []string
	for field, value := range filter {
		if _, ok := vector.FilterFields[field]; !ok {
			return nil, fmt.Errorf("unsupported filter field %q", field)
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", field, len(args)))
	}

	query := `SELECT event_id, embedding <-> $1 AS dist, text, source, channel, user_name, ts, sentiment_label, sentiment_score
		FROM event_vectors`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, topK)
	query += fmt.Sprintf(" ORDER BY dist ASC LIMIT $%d", len(args))

	rows, err := v.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", common.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var hits []common.VectorHit
	for rows.Next() {
		var hit common.VectorHit
		if err := rows.Scan(
			&hit.EventID,
			&hit.Distance,
			&hit.Text,
			&hit.Source,
			&hit.Channel,
			&hit.UserName,
			&hit.Timestamp,
			&hit.SentimentLabel,
			&hit.SentimentScore,
		); err != nil {
			return nil, err
		}
		// pgvector's <-> yields plain L2; square to keep the documented
		// metric consistent with the in-memory index.
		hit.Distance = hit.Distance * hit.Distance
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (v *VectorIndex) Count(ctx context.Context) (int64, error) {
	var count int64
	err := v.conn.QueryRow(ctx, `SELECT COUNT(*) FROM event_vectors`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: vector count: %v", common.ErrStoreUnavailable, err)
	}
	return count, nil
}

func (v *VectorIndex) DeleteBySource(ctx context.Context, source string) (int64, error) {
	tag, err := v.conn.Exec(ctx, `DELETE FROM event_vectors WHERE source = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("%w: vector delete: %v", common.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}
