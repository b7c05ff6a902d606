package common

import (
	"encoding/json"
	"time"
)

// Source identifies the origin system of a communication record.
type Source string

const (
	SourceSlack      Source = "slack"
	SourceDiscord    Source = "discord"
	SourceTeams      Source = "teams"
	SourceEmail      Source = "email"
	SourceGDocs      Source = "gdocs"
	SourceNotion     Source = "notion"
	SourceJira       Source = "jira"
	SourceZoom       Source = "zoom"
	SourceLocalFiles Source = "local_files"
)

var knownSources = map[Source]struct{}{
	SourceSlack:      {},
	SourceDiscord:    {},
	SourceTeams:      {},
	SourceEmail:      {},
	SourceGDocs:      {},
	SourceNotion:     {},
	SourceJira:       {},
	SourceZoom:       {},
	SourceLocalFiles: {},
}

// ParseSource validates a raw source string against the fixed set of
// known origins.
func ParseSource(raw string) (Source, bool) {
	s := Source(raw)
	_, ok := knownSources[s]
	return s, ok
}

// CanonicalEvent is the single normalized representation of any source
// communication record: a chat message, a document revision, a ticket
// update or a meeting transcript segment.
//
// Events are immutable once produced by the normalizer. The ID is the
// idempotency key for both stores: re-ingesting the same ID must never
// duplicate a node or a vector record.
type CanonicalEvent struct {
	ID         string          `json:"id" validate:"required"`
	Source     Source          `json:"source" validate:"required"`
	Channel    string          `json:"channel,omitempty"`
	UserID     string          `json:"user_id" validate:"required"`
	UserName   string          `json:"user_name,omitempty"`
	Text       string          `json:"text" validate:"required"`
	Timestamp  time.Time       `json:"timestamp" validate:"required"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// DisplayName returns the user name when known, falling back to the user id.
func (e CanonicalEvent) DisplayName() string {
	if e.UserName != "" {
		return e.UserName
	}
	return e.UserID
}

// ChannelOrDefault returns the channel, or "unknown_channel" for events
// without a logical grouping (e.g. direct uploads).
func (e CanonicalEvent) ChannelOrDefault() string {
	if e.Channel != "" {
		return e.Channel
	}
	return "unknown_channel"
}

// Sentiment is the label/score pair produced by the extraction collaborator.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// PIIEntity is a single detected piece of personally identifiable
// information.
type PIIEntity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NamedEntity is a non-PII entity mention (organization, product, ...).
type NamedEntity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Decision is a decision statement detected in an event's text.
type Decision struct {
	Text string `json:"text"`
}

// Task is an action item detected in an event's text. Assignee may be
// empty when the collaborator could not attribute it; the orchestrator
// then falls back to the speaking user.
type Task struct {
	Text     string `json:"text"`
	Assignee string `json:"assignee"`
}

// Extraction is the per-event output of the extraction collaborator.
// It is ephemeral: computed per ingestion run and persisted only as
// graph node properties and vector metadata.
type Extraction struct {
	RedactedText string        `json:"redacted_text"`
	PIIEntities  []PIIEntity   `json:"pii_entities"`
	Sentiment    Sentiment     `json:"sentiment"`
	Entities     []NamedEntity `json:"entities"`
	Decisions    []Decision    `json:"decisions"`
	Tasks        []Task        `json:"tasks"`
}

// DegradedExtraction is the fallback used when extraction fails for a
// single event: redaction is skipped and all derived lists are empty.
func DegradedExtraction(rawText string) Extraction {
	return Extraction{
		RedactedText: rawText,
		Sentiment:    Sentiment{Label: "neutral", Score: 0},
	}
}

// VectorRecord is one row of the vector similarity index. EventID joins
// back to the graph's Event node.
type VectorRecord struct {
	EventID        string    `json:"event_id"`
	Embedding      []float32 `json:"embedding"`
	Text           string    `json:"text"`
	Source         string    `json:"source"`
	Channel        string    `json:"channel"`
	UserName       string    `json:"user_name"`
	Timestamp      time.Time `json:"timestamp"`
	SentimentLabel string    `json:"sentiment_label"`
	SentimentScore float64   `json:"sentiment_score"`
}

// VectorHit is a single nearest-neighbor search result ordered by
// ascending distance.
type VectorHit struct {
	EventID        string
	Distance       float64
	Text           string
	Source         string
	Channel        string
	UserName       string
	Timestamp      time.Time
	SentimentLabel string
	SentimentScore float64
}

// Counters reports the effect of a bulk graph merge. On a repeat merge
// of the same events both values are zero.
type Counters struct {
	NodesCreated         int `json:"nodes_created"`
	RelationshipsCreated int `json:"relationships_created"`
}

func (c *Counters) Add(other Counters) {
	c.NodesCreated += other.NodesCreated
	c.RelationshipsCreated += other.RelationshipsCreated
}

// IngestError records a failure isolated to one event or one store
// during a batch. The batch itself continues.
type IngestError struct {
	EventID string `json:"event_id,omitempty"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// IngestStats is the structured result of one ingestion batch, returned
// instead of raising across the ingestion boundary so that callers can
// always inspect what partially succeeded.
type IngestStats struct {
	EventsIn          int           `json:"events_in"`
	VectorsWritten    int           `json:"vectors_written"`
	GraphNodesTouched int           `json:"graph_nodes_touched"`
	Graph             Counters      `json:"graph"`
	AssignmentsMade   int           `json:"assignments_made"`
	AgreementLinks    int           `json:"agreement_links"`
	Errors            []IngestError `json:"errors"`
	DurationMs        int64         `json:"duration_ms"`
}

// GraphContext is the optional enrichment attached to an evidence item:
// decisions, tasks and entities linked to the event in the graph.
type GraphContext struct {
	Decisions []DecisionRef `json:"related_decisions"`
	Tasks     []TaskRef     `json:"related_tasks"`
	Entities  []EntityRef   `json:"related_entities"`
}

type DecisionRef struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type TaskRef struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"`
}

type EntityRef struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// EvidenceItem is one retrieval result: vector-search metadata combined
// with graph enrichment and role-appropriate text.
type EvidenceItem struct {
	EventID        string        `json:"event_id"`
	Score          float64       `json:"score"`
	Text           string        `json:"text"`
	Source         string        `json:"source"`
	Channel        string        `json:"channel"`
	UserName       string        `json:"user_name"`
	Timestamp      time.Time     `json:"timestamp"`
	SentimentLabel string        `json:"sentiment_label"`
	SentimentScore float64       `json:"sentiment_score"`
	GraphContext   *GraphContext `json:"graph_context,omitempty"`
}

// OpenTask is a task row as surfaced by the task listing operation.
type OpenTask struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Status    string    `json:"status"`
	Assignee  string    `json:"assignee,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChannelEvent is one row of a channel history lookup, used by
// summarization collaborators.
type ChannelEvent struct {
	UserName  string    `json:"user_name"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SentimentStats is the global sentiment distribution over all events.
type SentimentStats struct {
	Total           int     `json:"total_messages"`
	Positive        int     `json:"positive_count"`
	Neutral         int     `json:"neutral_count"`
	Negative        int     `json:"negative_count"`
	OverallLabel    string  `json:"overall_sentiment"`
	PositivePercent float64 `json:"positive_pct"`
	NeutralPercent  float64 `json:"neutral_pct"`
	NegativePercent float64 `json:"negative_pct"`
}
