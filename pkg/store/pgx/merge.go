package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/logger"
	"github.com/contextiq/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const mergeChunk = 200

// MergeEvents bulk-upserts events and their extractions. Every node is
// merged on its natural key; xmax = 0 on the returned row distinguishes
// a fresh insert from an update, which is what feeds the counters.
func (s *GraphDBStore) MergeEvents(ctx context.Context, events []common.CanonicalEvent, extractions []common.Extraction) (common.Counters, error) {
	if len(events) != len(extractions) {
		return common.Counters{}, fmt.Errorf("events and extractions length mismatch: %d vs %d", len(events), len(extractions))
	}

	var counters common.Counters
	err := common.ChunkRange(len(events), mergeChunk, func(start, end int) error {
		logger.Debug("[Graph][MergeEvents] Merging chunk", "events", end-start)

		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%w: begin merge: %v", common.ErrStoreUnavailable, err)
		}
		defer tx.Rollback(ctx)

		var chunk common.Counters
		for i := start; i < end; i++ {
			if err := s.mergeOne(ctx, tx, events[i], extractions[i], &chunk); err != nil {
				return err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: commit merge: %v", common.ErrStoreUnavailable, err)
		}
		counters.Add(chunk)
		return nil
	})
	if err != nil {
		return counters, err
	}

	logger.Info("[Graph][MergeEvents] Merge complete",
		"events", len(events),
		"nodes_created", counters.NodesCreated,
		"relationships_created", counters.RelationshipsCreated,
	)
	return counters, nil
}

func (s *GraphDBStore) mergeOne(ctx context.Context, tx pgxv5.Tx, event common.CanonicalEvent, extraction common.Extraction, counters *common.Counters) error {
	var inserted bool

	err := tx.QueryRow(ctx, `INSERT INTO users (user_id, name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING (xmax = 0)`,
		event.UserID, event.DisplayName(),
	).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("%w: merge user: %v", common.ErrStoreUnavailable, err)
	}
	if inserted {
		counters.NodesCreated++
	}

	channelID := event.ChannelOrDefault()
	err = tx.QueryRow(ctx, `INSERT INTO channels (channel_id, source, name)
		VALUES ($1, $2, $1)
		ON CONFLICT (channel_id) DO NOTHING
		RETURNING true`,
		channelID, string(event.Source),
	).Scan(&inserted)
	if err == nil && inserted {
		counters.NodesCreated++
	} else if err != nil && !isNoRows(err) {
		return fmt.Errorf("%w: merge channel: %v", common.ErrStoreUnavailable, err)
	}

	redacted := extraction.RedactedText
	if redacted == "" {
		redacted = event.Text
	}
	sentiment := extraction.Sentiment
	if sentiment.Label == "" {
		sentiment.Label = "neutral"
	}
	err = tx.QueryRow(ctx, `INSERT INTO events
		(event_id, channel_id, user_id, raw_text, redacted_text, source, sentiment_label, sentiment_score, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO UPDATE SET
			raw_text = EXCLUDED.raw_text,
			redacted_text = EXCLUDED.redacted_text,
			source = EXCLUDED.source,
			sentiment_label = EXCLUDED.sentiment_label,
			sentiment_score = EXCLUDED.sentiment_score,
			ts = EXCLUDED.ts
		RETURNING (xmax = 0)`,
		event.ID, channelID, event.UserID, event.Text, redacted,
		string(event.Source), sentiment.Label, sentiment.Score, event.Timestamp,
	).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("%w: merge event: %v", common.ErrStoreUnavailable, err)
	}
	if inserted {
		counters.NodesCreated++
		// SAID and IN_CHANNEL exist once the event row does.
		counters.RelationshipsCreated += 2
	}

	for _, entity := range extraction.Entities {
		if strings.TrimSpace(entity.Text) == "" {
			continue
		}
		err = tx.QueryRow(ctx, `INSERT INTO entities (name, type)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET type = EXCLUDED.type
			RETURNING (xmax = 0)`,
			entity.Text, entity.Label,
		).Scan(&inserted)
		if err != nil {
			return fmt.Errorf("%w: merge entity: %v", common.ErrStoreUnavailable, err)
		}
		if inserted {
			counters.NodesCreated++
		}

		err = tx.QueryRow(ctx, `INSERT INTO event_mentions (event_id, entity_name)
			VALUES ($1, $2)
			ON CONFLICT (event_id, entity_name) DO NOTHING
			RETURNING true`,
			event.ID, entity.Text,
		).Scan(&inserted)
		if err == nil && inserted {
			counters.RelationshipsCreated++
		} else if err != nil && !isNoRows(err) {
			return fmt.Errorf("%w: merge mention: %v", common.ErrStoreUnavailable, err)
		}
	}

	for idx, decision := range extraction.Decisions {
		err = tx.QueryRow(ctx, `INSERT INTO decisions (decision_id, event_id, text)
			VALUES ($1, $2, $3)
			ON CONFLICT (decision_id) DO UPDATE SET text = EXCLUDED.text
			RETURNING (xmax = 0)`,
			store.DecisionKey(event.ID, idx), event.ID, decision.Text,
		).Scan(&inserted)
		if err != nil {
			return fmt.Errorf("%w: merge decision: %v", common.ErrStoreUnavailable, err)
		}
		if inserted {
			counters.NodesCreated++
			counters.RelationshipsCreated++
		}
	}

	for idx, task := range extraction.Tasks {
		assignee := task.Assignee
		if assignee == "" {
			assignee = event.UserID
		}
		err = tx.QueryRow(ctx, `INSERT INTO tasks (task_id, event_id, text, status, assignee_id, created_at)
			VALUES ($1, $2, $3, 'open', $4, $5)
			ON CONFLICT (task_id) DO UPDATE SET
				text = EXCLUDED.text,
				assignee_id = EXCLUDED.assignee_id
			RETURNING (xmax = 0)`,
			store.TaskKey(event.ID, idx), event.ID, task.Text, assignee, event.Timestamp,
		).Scan(&inserted)
		if err != nil {
			return fmt.Errorf("%w: merge task: %v", common.ErrStoreUnavailable, err)
		}
		if inserted {
			counters.NodesCreated++
			counters.RelationshipsCreated++
		}
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgxv5.ErrNoRows)
}
