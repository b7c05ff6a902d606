package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/logger"
	"github.com/contextiq/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// AssignTasks creates the missing user node and the assignment for
// every open task with a known assignee that has none yet. The
// assigned_user_id IS NULL guard is what keeps re-runs free.
func (s *GraphDBStore) AssignTasks(ctx context.Context) ([]store.Assignment, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin assign: %v", common.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO users (user_id, name)
		SELECT DISTINCT t.assignee_id, t.assignee_id
		FROM tasks t
		WHERE t.status = 'open'
		  AND t.assignee_id <> ''
		  AND t.assigned_user_id IS NULL
		ON CONFLICT (user_id) DO NOTHING`); err != nil {
		return nil, fmt.Errorf("%w: create assignee users: %v", common.ErrStoreUnavailable, err)
	}

	rows, err := tx.Query(ctx, `UPDATE tasks
		SET assigned_user_id = assignee_id
		WHERE status = 'open'
		  AND assignee_id <> ''
		  AND assigned_user_id IS NULL
		RETURNING task_id, text, status, assignee_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: assign tasks: %v", common.ErrStoreUnavailable, err)
	}

	var assignments []store.Assignment
	for rows.Next() {
		var a store.Assignment
		if err := rows.Scan(&a.TaskID, &a.TaskText, &a.TaskStatus, &a.AssigneeID); err != nil {
			rows.Close()
			return nil, err
		}
		assignments = append(assignments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit assign: %v", common.ErrStoreUnavailable, err)
	}

	if len(assignments) > 0 {
		logger.Info("[Graph][AssignTasks] Created new task assignments", "count", len(assignments))
	} else {
		logger.Debug("[Graph][AssignTasks] No new task assignments")
	}
	return assignments, nil
}

// CreateAgreementLinks merges weighted AGREES_WITH edges for short
// agreement replies toward earlier authors in the same channel. The
// agreement_pairs table records which (agreeing, original) event pairs
// have already been counted, making repeats of the pass free while the
// edge weight keeps accumulating across distinct agreement events.
func (s *GraphDBStore) CreateAgreementLinks(ctx context.Context, lookback time.Duration) (int, error) {
	if lookback <= 0 {
		lookback = store.DefaultAgreementLookback
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin agreement pass: %v", common.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `WITH candidates AS (
			SELECT agree_evt.event_id   AS agree_event_id,
			       orig_evt.event_id    AS orig_event_id,
			       agree_evt.user_id    AS from_user_id,
			       orig_evt.user_id     AS to_user_id,
			       agree_evt.ts         AS agreed_at
			FROM events agree_evt
			JOIN events orig_evt
			  ON orig_evt.channel_id = agree_evt.channel_id
			 AND orig_evt.ts < agree_evt.ts
			 AND agree_evt.ts - orig_evt.ts < make_interval(secs => $1)
			 AND orig_evt.user_id <> agree_evt.user_id
			WHERE agree_evt.ts > now() - make_interval(secs => $2)
			  AND length(agree_evt.raw_text) < $3
			  AND lower(agree_evt.raw_text) ~ $4
		)
		INSERT INTO agreement_pairs (agree_event_id, orig_event_id)
		SELECT agree_event_id, orig_event_id FROM candidates
		ON CONFLICT (agree_event_id, orig_event_id) DO NOTHING
		RETURNING agree_event_id, orig_event_id`,
		store.AgreementWindow.Seconds(),
		lookback.Seconds(),
		store.AgreementMaxTextLen,
		agreementPattern(s.keywords),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: agreement candidates: %v", common.ErrStoreUnavailable, err)
	}

	type pair struct{ agreeID, origID string }
	var newPairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.agreeID, &p.origID); err != nil {
			rows.Close()
			return 0, err
		}
		newPairs = append(newPairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range newPairs {
		if _, err := tx.Exec(ctx, `INSERT INTO agreement_links (from_user_id, to_user_id, count, last_agreed)
			SELECT agree_evt.user_id, orig_evt.user_id, 1, agree_evt.ts
			FROM events agree_evt, events orig_evt
			WHERE agree_evt.event_id = $1 AND orig_evt.event_id = $2
			ON CONFLICT (from_user_id, to_user_id) DO UPDATE SET
				count = agreement_links.count + 1,
				last_agreed = GREATEST(agreement_links.last_agreed, EXCLUDED.last_agreed)`,
			p.agreeID, p.origID,
		); err != nil {
			return 0, fmt.Errorf("%w: merge agreement link: %v", common.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit agreement pass: %v", common.ErrStoreUnavailable, err)
	}

	logger.Info("[Graph][CreateAgreementLinks] Agreement pass complete", "new_pairs", len(newPairs))
	return len(newPairs), nil
}

func (s *GraphDBStore) AgreementLink(ctx context.Context, fromUserID, toUserID string) (*store.AgreementLink, error) {
	link := store.AgreementLink{FromUserID: fromUserID, ToUserID: toUserID}
	err := s.conn.QueryRow(ctx, `SELECT count, last_agreed
		FROM agreement_links
		WHERE from_user_id = $1 AND to_user_id = $2`,
		fromUserID, toUserID,
	).Scan(&link.Count, &link.LastAgreed)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load agreement link: %v", common.ErrStoreUnavailable, err)
	}
	return &link, nil
}

// agreementPattern builds a POSIX regexp alternation over the lexicon.
// Keywords are plain phrases; the only metacharacter they carry is the
// apostrophe-free text itself, so escaping is limited to regex specials.
func agreementPattern(keywords []string) string {
	escaped := make([]byte, 0, 128)
	for i, kw := range keywords {
		if i > 0 {
			escaped = append(escaped, '|')
		}
		for _, r := range kw {
			switch r {
			case '.', '(', ')', '[', ']', '{', '}', '*', '+', '?', '^', '$', '\\', '|':
				escaped = append(escaped, '\\')
			}
			escaped = append(escaped, []byte(string(r))...)
		}
	}
	return string(escaped)
}
