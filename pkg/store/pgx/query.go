package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// FetchEventContext batch-loads graph records for the given event ids in
// one round trip, plus one more for linked context when requested.
func (s *GraphDBStore) FetchEventContext(ctx context.Context, eventIDs []string, includeContext bool) (map[string]store.EventContext, error) {
	ids := common.DedupeStrings(eventIDs)
	if len(ids) == 0 {
		return map[string]store.EventContext{}, nil
	}

	rows, err := s.conn.Query(ctx, `SELECT
			e.event_id, e.raw_text, e.redacted_text, e.source, e.channel_id,
			COALESCE(u.name, e.user_id), e.ts, e.sentiment_label, e.sentiment_score
		FROM events e
		LEFT JOIN users u ON u.user_id = e.user_id
		WHERE e.event_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch event context: %v", common.ErrStoreUnavailable, err)
	}

	out := make(map[string]store.EventContext, len(ids))
	for rows.Next() {
		var ec store.EventContext
		if err := rows.Scan(
			&ec.EventID, &ec.RawText, &ec.RedactedText, &ec.Source, &ec.Channel,
			&ec.UserName, &ec.Timestamp, &ec.SentimentLabel, &ec.SentimentScore,
		); err != nil {
			rows.Close()
			return nil, err
		}
		out[ec.EventID] = ec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !includeContext || len(out) == 0 {
		return out, nil
	}

	contexts := make(map[string]*common.GraphContext, len(out))
	for id := range out {
		contexts[id] = &common.GraphContext{}
	}

	dRows, err := s.conn.Query(ctx, `SELECT event_id, decision_id, text
		FROM decisions WHERE event_id = ANY($1) ORDER BY decision_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch decisions: %v", common.ErrStoreUnavailable, err)
	}
	for dRows.Next() {
		var eventID string
		var ref common.DecisionRef
		if err := dRows.Scan(&eventID, &ref.ID, &ref.Text); err != nil {
			dRows.Close()
			return nil, err
		}
		if gc := contexts[eventID]; gc != nil {
			gc.Decisions = append(gc.Decisions, ref)
		}
	}
	dRows.Close()
	if err := dRows.Err(); err != nil {
		return nil, err
	}

	tRows, err := s.conn.Query(ctx, `SELECT event_id, task_id, text, status
		FROM tasks WHERE event_id = ANY($1) ORDER BY task_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch tasks: %v", common.ErrStoreUnavailable, err)
	}
	for tRows.Next() {
		var eventID string
		var ref common.TaskRef
		if err := tRows.Scan(&eventID, &ref.ID, &ref.Text, &ref.Status); err != nil {
			tRows.Close()
			return nil, err
		}
		if gc := contexts[eventID]; gc != nil {
			gc.Tasks = append(gc.Tasks, ref)
		}
	}
	tRows.Close()
	if err := tRows.Err(); err != nil {
		return nil, err
	}

	eRows, err := s.conn.Query(ctx, `SELECT m.event_id, m.entity_name, COALESCE(en.type, '')
		FROM event_mentions m
		LEFT JOIN entities en ON en.name = m.entity_name
		WHERE m.event_id = ANY($1) ORDER BY m.entity_name`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch mentions: %v", common.ErrStoreUnavailable, err)
	}
	for eRows.Next() {
		var eventID string
		var ref common.EntityRef
		if err := eRows.Scan(&eventID, &ref.Name, &ref.Type); err != nil {
			eRows.Close()
			return nil, err
		}
		if gc := contexts[eventID]; gc != nil {
			gc.Entities = append(gc.Entities, ref)
		}
	}
	eRows.Close()
	if err := eRows.Err(); err != nil {
		return nil, err
	}

	for id, gc := range contexts {
		ec := out[id]
		ec.Context = gc
		out[id] = ec
	}
	return out, nil
}

func (s *GraphDBStore) OpenTasks(ctx context.Context, assigneeID string) ([]common.OpenTask, error) {
	query := `SELECT task_id, COALESCE(NULLIF(text, ''), 'Untitled Task'), status,
			COALESCE(assigned_user_id, assignee_id), created_at
		FROM tasks
		WHERE status = 'open'`
	args := []any{}
	if assigneeID != "" {
		query += ` AND COALESCE(assigned_user_id, assignee_id) = $1`
		args = append(args, assigneeID)
	}
	query += ` ORDER BY created_at DESC, task_id`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: open tasks: %v", common.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var tasks []common.OpenTask
	for rows.Next() {
		var t common.OpenTask
		if err := rows.Scan(&t.ID, &t.Text, &t.Status, &t.Assignee, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *GraphDBStore) UpdateTaskStatus(ctx context.Context, taskID, status string) (*common.OpenTask, error) {
	var t common.OpenTask
	err := s.conn.QueryRow(ctx, `UPDATE tasks
		SET status = $2
		WHERE task_id = $1
		RETURNING task_id, text, status, COALESCE(assigned_user_id, assignee_id), created_at`,
		taskID, status,
	).Scan(&t.ID, &t.Text, &t.Status, &t.Assignee, &t.CreatedAt)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update task: %v", common.ErrStoreUnavailable, err)
	}
	return &t, nil
}

func (s *GraphDBStore) ChannelEvents(ctx context.Context, channel string, lookback time.Duration, limit int) ([]common.ChannelEvent, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.conn.Query(ctx, `SELECT COALESCE(u.name, e.user_id), e.raw_text, e.ts
		FROM events e
		LEFT JOIN users u ON u.user_id = e.user_id
		WHERE e.channel_id = $1
		  AND e.ts > now() - make_interval(secs => $2)
		ORDER BY e.ts ASC
		LIMIT $3`,
		channel, lookback.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: channel events: %v", common.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var events []common.ChannelEvent
	for rows.Next() {
		var e common.ChannelEvent
		if err := rows.Scan(&e.UserName, &e.Text, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *GraphDBStore) SentimentStats(ctx context.Context) (common.SentimentStats, error) {
	var stats common.SentimentStats
	err := s.conn.QueryRow(ctx, `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE sentiment_label = 'positive'),
			COUNT(*) FILTER (WHERE sentiment_label = 'negative'),
			COUNT(*) FILTER (WHERE sentiment_label NOT IN ('positive', 'negative'))
		FROM events`,
	).Scan(&stats.Total, &stats.Positive, &stats.Negative, &stats.Neutral)
	if err != nil {
		return stats, fmt.Errorf("%w: sentiment stats: %v", common.ErrStoreUnavailable, err)
	}

	if stats.Total > 0 {
		stats.PositivePercent = float64(stats.Positive) / float64(stats.Total) * 100
		stats.NeutralPercent = float64(stats.Neutral) / float64(stats.Total) * 100
		stats.NegativePercent = float64(stats.Negative) / float64(stats.Total) * 100
	}
	switch {
	case stats.Positive > stats.Negative && stats.Positive > stats.Neutral:
		stats.OverallLabel = "positive"
	case stats.Negative > stats.Positive && stats.Negative > stats.Neutral:
		stats.OverallLabel = "negative"
	default:
		stats.OverallLabel = "neutral"
	}
	return stats, nil
}

// RunQuery is the parametrized passthrough for analytics collaborators.
// Results come back as flat records keyed by column name.
func (s *GraphDBStore) RunQuery(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	rows, err := s.conn.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: passthrough query: %v", common.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var records []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(fields))
		for i, field := range fields {
			record[field.Name] = values[i]
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
