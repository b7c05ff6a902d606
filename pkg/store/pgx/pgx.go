// Package pgx is the Postgres implementation of the graph store. Nodes
// live in natural-key tables and every write is a single-statement
// conditional upsert, which gives the merge semantics concurrent
// ingestion relies on without application-level locking.
package pgx

import (
	"context"
	"fmt"

	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

type GraphDBStore struct {
	conn     pgxIConn
	keywords []string
}

type Params struct {
	// AgreementKeywords overrides the default lexicon when non-empty.
	AgreementKeywords []string
}

func NewGraphDBStore(conn pgxIConn, params Params) *GraphDBStore {
	keywords := params.AgreementKeywords
	if len(keywords) == 0 {
		keywords = store.DefaultAgreementKeywords
	}
	return &GraphDBStore{conn: conn, keywords: keywords}
}

// EnsureSchema creates the graph tables when missing. Migrations own
// the canonical schema; this exists so tests and first-boot worker
// processes do not race the migration job.
func (s *GraphDBStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			name    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			source     TEXT NOT NULL DEFAULT '',
			name       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id        TEXT PRIMARY KEY,
			channel_id      TEXT NOT NULL REFERENCES channels(channel_id),
			user_id         TEXT NOT NULL REFERENCES users(user_id),
			raw_text        TEXT NOT NULL DEFAULT '',
			redacted_text   TEXT NOT NULL DEFAULT '',
			source          TEXT NOT NULL DEFAULT '',
			sentiment_label TEXT NOT NULL DEFAULT 'neutral',
			sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			ts              TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_channel_ts_idx ON events (channel_id, ts)`,
		`CREATE TABLE IF NOT EXISTS entities (
			name TEXT PRIMARY KEY,
			type TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS event_mentions (
			event_id    TEXT NOT NULL REFERENCES events(event_id),
			entity_name TEXT NOT NULL REFERENCES entities(name),
			PRIMARY KEY (event_id, entity_name)
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			decision_id TEXT PRIMARY KEY,
			event_id    TEXT NOT NULL REFERENCES events(event_id),
			text        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id          TEXT PRIMARY KEY,
			event_id         TEXT NOT NULL REFERENCES events(event_id),
			text             TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'open',
			assignee_id      TEXT NOT NULL DEFAULT '',
			assigned_user_id TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status)`,
		`CREATE TABLE IF NOT EXISTS agreement_links (
			from_user_id TEXT NOT NULL,
			to_user_id   TEXT NOT NULL,
			count        INT NOT NULL DEFAULT 0,
			last_agreed  TIMESTAMPTZ,
			PRIMARY KEY (from_user_id, to_user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS agreement_pairs (
			agree_event_id TEXT NOT NULL,
			orig_event_id  TEXT NOT NULL,
			PRIMARY KEY (agree_event_id, orig_event_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure graph schema: %v", common.ErrStoreUnavailable, err)
		}
	}
	return nil
}
