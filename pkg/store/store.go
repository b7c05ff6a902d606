// Package store defines the graph store abstraction: idempotent
// natural-key merges for events and their derived signals, plus the
// second-pass relationship derivation and the query surface retrieval
// and analytics read from.
package store

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/contextiq/backend/pkg/common"
)

// DefaultAgreementKeywords is the fixed lexicon the agreement pass
// matches against. Substring matching is case-insensitive, so short
// replies like "Agreed!" or "sounds good to me" qualify. The heuristic
// trades precision for simplicity; false positives across unrelated
// conversations in a busy channel are accepted.
var DefaultAgreementKeywords = []string{
	"agree", "agreed", "makes sense", "good point", "sounds good",
	"let's do that", "great idea", "i'm aligned", "support this", "approve",
	"endorsed", "concur", "exactly", "precisely", "absolutely",
}

const (
	// AgreementMaxTextLen bounds agreement candidates to short replies.
	AgreementMaxTextLen = 150

	// AgreementWindow is how far back from an agreeing event an
	// original statement may lie in the same channel.
	AgreementWindow = 5 * time.Minute

	// DefaultAgreementLookback is how much recent history one
	// agreement pass scans for agreeing events.
	DefaultAgreementLookback = 60 * time.Minute
)

// Assignment is one ASSIGNED_TO edge created by the task assignment
// pass, reported so the caller can notify the assignee.
type Assignment struct {
	TaskID     string `json:"task_id"`
	TaskText   string `json:"task_text"`
	TaskStatus string `json:"task_status"`
	AssigneeID string `json:"assignee_id"`
}

// EventContext is the graph-side record for one event as needed by
// retrieval: both text variants plus optionally the linked decisions,
// tasks and entities.
type EventContext struct {
	EventID        string
	RawText        string
	RedactedText   string
	Source         string
	Channel        string
	UserName       string
	Timestamp      time.Time
	SentimentLabel string
	SentimentScore float64
	Context        *common.GraphContext
}

// AgreementLink is one weighted AGREES_WITH edge.
type AgreementLink struct {
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	Count      int       `json:"count"`
	LastAgreed time.Time `json:"last_agreed"`
}

// GraphStore is the property-graph persistence layer. All writes merge
// on natural keys so retried or overlapping batches are safe without
// application-level locking.
type GraphStore interface {
	// EnsureSchema creates tables and constraints when missing.
	EnsureSchema(ctx context.Context) error

	// MergeEvents bulk-upserts events with their extractions: users,
	// channels, events, deduplicated entities, decisions and tasks,
	// together with their edges. Counters report how much was newly
	// created; a repeat merge of identical input reports zeros.
	MergeEvents(ctx context.Context, events []common.CanonicalEvent, extractions []common.Extraction) (common.Counters, error)

	// AssignTasks links open tasks with a known assignee to their
	// user, creating the user node if needed. Tasks that already have
	// an assignment are skipped, so re-running is free. Returns the
	// assignments created by this invocation.
	AssignTasks(ctx context.Context) ([]Assignment, error)

	// CreateAgreementLinks scans events of the lookback window for
	// short agreement replies and merges weighted AGREES_WITH edges
	// toward earlier authors in the same channel. Each qualifying
	// (agreeing event, original event) pair is counted exactly once
	// across invocations. Returns how many pairs were newly counted.
	CreateAgreementLinks(ctx context.Context, lookback time.Duration) (int, error)

	// AgreementLink loads one weighted edge, or nil when absent.
	AgreementLink(ctx context.Context, fromUserID, toUserID string) (*AgreementLink, error)

	// FetchEventContext batch-loads graph records for the given event
	// ids in one call. Missing ids are simply absent from the map.
	// Linked decisions/tasks/entities are attached only when
	// includeContext is set.
	FetchEventContext(ctx context.Context, eventIDs []string, includeContext bool) (map[string]EventContext, error)

	// OpenTasks lists tasks with status "open", newest first. An empty
	// assigneeID lists all of them.
	OpenTasks(ctx context.Context, assigneeID string) ([]common.OpenTask, error)

	// UpdateTaskStatus sets a task's status. Returns the updated task.
	UpdateTaskStatus(ctx context.Context, taskID, status string) (*common.OpenTask, error)

	// ChannelEvents returns a channel's events in ascending time order
	// within the lookback, capped at limit.
	ChannelEvents(ctx context.Context, channel string, lookback time.Duration, limit int) ([]common.ChannelEvent, error)

	// SentimentStats aggregates the sentiment distribution over all events.
	SentimentStats(ctx context.Context) (common.SentimentStats, error)

	// RunQuery is the parametrized passthrough used by analytics
	// collaborators. It returns flat records keyed by column name.
	RunQuery(ctx context.Context, query string, params []any) ([]map[string]any, error)
}

// DecisionKey derives the deterministic decision node key from the
// owning event and the decision's within-event ordinal.
func DecisionKey(eventID string, idx int) string {
	return eventID + "-decision-" + strconv.Itoa(idx)
}

// TaskKey derives the deterministic task node key from the owning
// event and the task's within-event ordinal.
func TaskKey(eventID string, idx int) string {
	return eventID + "-task-" + strconv.Itoa(idx)
}

// MatchesAgreement reports whether text qualifies as an agreement reply
// under the keyword lexicon: short and containing at least one phrase,
// case-insensitively. Length is counted in characters, as the SQL
// length() used by the database pass does.
func MatchesAgreement(text string, keywords []string) bool {
	if utf8.RuneCountInString(text) >= AgreementMaxTextLen {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
