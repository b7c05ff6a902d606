// Package base is the in-memory graph store, used in tests and
// single-process deployments without Postgres. It mirrors the Postgres
// implementation's merge semantics exactly so the ingestion invariants
// can be asserted against either.
package base

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/store"
)

// ErrQueryPassthroughUnsupported is returned by RunQuery: the in-memory
// store has no query engine behind it.
var ErrQueryPassthroughUnsupported = errors.New("query passthrough requires the postgres store")

type userNode struct {
	ID   string
	Name string
}

type channelNode struct {
	ID     string
	Source string
	Name   string
}

type eventNode struct {
	ID             string
	ChannelID      string
	UserID         string
	RawText        string
	RedactedText   string
	Source         string
	SentimentLabel string
	SentimentScore float64
	Timestamp      time.Time
}

type entityNode struct {
	Name string
	Type string
}

type decisionNode struct {
	ID      string
	EventID string
	Text    string
}

type taskNode struct {
	ID             string
	EventID        string
	Text           string
	Status         string
	AssigneeID     string
	AssignedUserID string
	CreatedAt      time.Time
}

type pairKey struct {
	agreeEventID string
	origEventID  string
}

type edgeKey struct {
	from string
	to   string
}

type MemoryGraphStore struct {
	keywords []string

	mu             sync.RWMutex
	users          map[string]*userNode
	channels       map[string]*channelNode
	events         map[string]*eventNode
	entities       map[string]*entityNode
	decisions      map[string]*decisionNode
	tasks          map[string]*taskNode
	mentions       map[string]map[string]struct{}
	agreements     map[edgeKey]*store.AgreementLink
	agreementPairs map[pairKey]struct{}

	// now is swappable for deterministic lookback windows in tests.
	now func() time.Time
}

type Params struct {
	// AgreementKeywords overrides the default lexicon when non-empty.
	AgreementKeywords []string

	// Now overrides the clock used for lookback windows.
	Now func() time.Time
}

func NewMemoryGraphStore(params Params) *MemoryGraphStore {
	keywords := params.AgreementKeywords
	if len(keywords) == 0 {
		keywords = store.DefaultAgreementKeywords
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryGraphStore{
		keywords:       keywords,
		users:          make(map[string]*userNode),
		channels:       make(map[string]*channelNode),
		events:         make(map[string]*eventNode),
		entities:       make(map[string]*entityNode),
		decisions:      make(map[string]*decisionNode),
		tasks:          make(map[string]*taskNode),
		mentions:       make(map[string]map[string]struct{}),
		agreements:     make(map[edgeKey]*store.AgreementLink),
		agreementPairs: make(map[pairKey]struct{}),
		now:            now,
	}
}

func (m *MemoryGraphStore) EnsureSchema(ctx context.Context) error {
	return nil
}

func (m *MemoryGraphStore) MergeEvents(ctx context.Context, events []common.CanonicalEvent, extractions []common.Extraction) (common.Counters, error) {
	if len(events) != len(extractions) {
		return common.Counters{}, fmt.Errorf("events and extractions length mismatch: %d vs %d", len(events), len(extractions))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var counters common.Counters
	for i := range events {
		event := events[i]
		extraction := extractions[i]

		userName := event.DisplayName()
		if existing, ok := m.users[event.UserID]; ok {
			existing.Name = userName
		} else {
			m.users[event.UserID] = &userNode{ID: event.UserID, Name: userName}
			counters.NodesCreated++
		}

		channelID := event.ChannelOrDefault()
		if _, ok := m.channels[channelID]; !ok {
			m.channels[channelID] = &channelNode{
				ID:     channelID,
				Source: string(event.Source),
				Name:   channelID,
			}
			counters.NodesCreated++
		}

		redacted := extraction.RedactedText
		if redacted == "" {
			redacted = event.Text
		}
		sentiment := extraction.Sentiment
		if sentiment.Label == "" {
			sentiment.Label = "neutral"
		}
		if existing, ok := m.events[event.ID]; ok {
			existing.RawText = event.Text
			existing.RedactedText = redacted
			existing.Timestamp = event.Timestamp
			existing.Source = string(event.Source)
			existing.SentimentLabel = sentiment.Label
			existing.SentimentScore = sentiment.Score
		} else {
			m.events[event.ID] = &eventNode{
				ID:             event.ID,
				ChannelID:      channelID,
				UserID:         event.UserID,
				RawText:        event.Text,
				RedactedText:   redacted,
				Source:         string(event.Source),
				SentimentLabel: sentiment.Label,
				SentimentScore: sentiment.Score,
				Timestamp:      event.Timestamp,
			}
			counters.NodesCreated++
			// SAID and IN_CHANNEL come into existence with the event.
			counters.RelationshipsCreated += 2
		}

		for _, entity := range extraction.Entities {
			if strings.TrimSpace(entity.Text) == "" {
				continue
			}
			if existing, ok := m.entities[entity.Text]; ok {
				existing.Type = entity.Label
			} else {
				m.entities[entity.Text] = &entityNode{Name: entity.Text, Type: entity.Label}
				counters.NodesCreated++
			}
			if m.mentions[event.ID] == nil {
				m.mentions[event.ID] = make(map[string]struct{})
			}
			if _, ok := m.mentions[event.ID][entity.Text]; !ok {
				m.mentions[event.ID][entity.Text] = struct{}{}
				counters.RelationshipsCreated++
			}
		}

		for idx, decision := range extraction.Decisions {
			key := store.DecisionKey(event.ID, idx)
			if existing, ok := m.decisions[key]; ok {
				existing.Text = decision.Text
			} else {
				m.decisions[key] = &decisionNode{ID: key, EventID: event.ID, Text: decision.Text}
				counters.NodesCreated++
				counters.RelationshipsCreated++
			}
		}

		for idx, task := range extraction.Tasks {
			key := store.TaskKey(event.ID, idx)
			assignee := task.Assignee
			if assignee == "" {
				assignee = event.UserID
			}
			if existing, ok := m.tasks[key]; ok {
				existing.Text = task.Text
				existing.AssigneeID = assignee
			} else {
				m.tasks[key] = &taskNode{
					ID:         key,
					EventID:    event.ID,
					Text:       task.Text,
					Status:     "open",
					AssigneeID: assignee,
					CreatedAt:  event.Timestamp,
				}
				counters.NodesCreated++
				counters.RelationshipsCreated++
			}
		}
	}
	return counters, nil
}

func (m *MemoryGraphStore) AssignTasks(ctx context.Context) ([]store.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var assignments []store.Assignment
	taskIDs := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		taskIDs = append(taskIDs, id)
	}
	sort.Strings(taskIDs)

	for _, id := range taskIDs {
		task := m.tasks[id]
		if task.Status != "open" || task.AssigneeID == "" || task.AssignedUserID != "" {
			continue
		}
		if _, ok := m.users[task.AssigneeID]; !ok {
			m.users[task.AssigneeID] = &userNode{ID: task.AssigneeID, Name: task.AssigneeID}
		}
		task.AssignedUserID = task.AssigneeID
		assignments = append(assignments, store.Assignment{
			TaskID:     task.ID,
			TaskText:   task.Text,
			TaskStatus: task.Status,
			AssigneeID: task.AssigneeID,
		})
	}
	return assignments, nil
}

func (m *MemoryGraphStore) CreateAgreementLinks(ctx context.Context, lookback time.Duration) (int, error) {
	if lookback <= 0 {
		lookback = store.DefaultAgreementLookback
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-lookback)
	created := 0

	for _, agreeEvt := range m.events {
		if agreeEvt.Timestamp.Before(cutoff) {
			continue
		}
		if !store.MatchesAgreement(agreeEvt.RawText, m.keywords) {
			continue
		}
		for _, origEvt := range m.events {
			if origEvt.ChannelID != agreeEvt.ChannelID {
				continue
			}
			if !origEvt.Timestamp.Before(agreeEvt.Timestamp) {
				continue
			}
			if agreeEvt.Timestamp.Sub(origEvt.Timestamp) >= store.AgreementWindow {
				continue
			}
			if origEvt.UserID == agreeEvt.UserID {
				continue
			}

			pair := pairKey{agreeEventID: agreeEvt.ID, origEventID: origEvt.ID}
			if _, ok := m.agreementPairs[pair]; ok {
				continue
			}
			m.agreementPairs[pair] = struct{}{}

			edge := edgeKey{from: agreeEvt.UserID, to: origEvt.UserID}
			link, ok := m.agreements[edge]
			if !ok {
				link = &store.AgreementLink{
					FromUserID: agreeEvt.UserID,
					ToUserID:   origEvt.UserID,
				}
				m.agreements[edge] = link
			}
			link.Count++
			if agreeEvt.Timestamp.After(link.LastAgreed) {
				link.LastAgreed = agreeEvt.Timestamp
			}
			created++
		}
	}
	return created, nil
}

func (m *MemoryGraphStore) AgreementLink(ctx context.Context, fromUserID, toUserID string) (*store.AgreementLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, ok := m.agreements[edgeKey{from: fromUserID, to: toUserID}]
	if !ok {
		return nil, nil
	}
	copied := *link
	return &copied, nil
}

func (m *MemoryGraphStore) FetchEventContext(ctx context.Context, eventIDs []string, includeContext bool) (map[string]store.EventContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]store.EventContext, len(eventIDs))
	for _, id := range eventIDs {
		evt, ok := m.events[id]
		if !ok {
			continue
		}
		ec := store.EventContext{
			EventID:        evt.ID,
			RawText:        evt.RawText,
			RedactedText:   evt.RedactedText,
			Source:         evt.Source,
			Channel:        evt.ChannelID,
			UserName:       m.userName(evt.UserID),
			Timestamp:      evt.Timestamp,
			SentimentLabel: evt.SentimentLabel,
			SentimentScore: evt.SentimentScore,
		}
		if includeContext {
			gc := &common.GraphContext{}
			for _, d := range m.decisions {
				if d.EventID == id {
					gc.Decisions = append(gc.Decisions, common.DecisionRef{ID: d.ID, Text: d.Text})
				}
			}
			for _, t := range m.tasks {
				if t.EventID == id {
					gc.Tasks = append(gc.Tasks, common.TaskRef{ID: t.ID, Text: t.Text, Status: t.Status})
				}
			}
			for name := range m.mentions[id] {
				entity := m.entities[name]
				ref := common.EntityRef{Name: name}
				if entity != nil {
					ref.Type = entity.Type
				}
				gc.Entities = append(gc.Entities, ref)
			}
			sortContext(gc)
			ec.Context = gc
		}
		out[id] = ec
	}
	return out, nil
}

func (m *MemoryGraphStore) OpenTasks(ctx context.Context, assigneeID string) ([]common.OpenTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tasks []common.OpenTask
	for _, task := range m.tasks {
		if task.Status != "open" {
			continue
		}
		assignee := task.AssignedUserID
		if assignee == "" {
			assignee = task.AssigneeID
		}
		if assigneeID != "" && assignee != assigneeID {
			continue
		}
		tasks = append(tasks, common.OpenTask{
			ID:        task.ID,
			Text:      task.Text,
			Status:    task.Status,
			Assignee:  assignee,
			CreatedAt: task.CreatedAt,
		})
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (m *MemoryGraphStore) UpdateTaskStatus(ctx context.Context, taskID, status string) (*common.OpenTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	task.Status = status

	assignee := task.AssignedUserID
	if assignee == "" {
		assignee = task.AssigneeID
	}
	return &common.OpenTask{
		ID:        task.ID,
		Text:      task.Text,
		Status:    task.Status,
		Assignee:  assignee,
		CreatedAt: task.CreatedAt,
	}, nil
}

func (m *MemoryGraphStore) ChannelEvents(ctx context.Context, channel string, lookback time.Duration, limit int) ([]common.ChannelEvent, error) {
	if limit <= 0 {
		limit = 200
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-lookback)
	var events []common.ChannelEvent
	for _, evt := range m.events {
		if evt.ChannelID != channel || evt.Timestamp.Before(cutoff) {
			continue
		}
		events = append(events, common.ChannelEvent{
			UserName:  m.userName(evt.UserID),
			Text:      evt.RawText,
			Timestamp: evt.Timestamp,
		})
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *MemoryGraphStore) SentimentStats(ctx context.Context) (common.SentimentStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats common.SentimentStats
	for _, evt := range m.events {
		stats.Total++
		switch evt.SentimentLabel {
		case "positive":
			stats.Positive++
		case "negative":
			stats.Negative++
		default:
			stats.Neutral++
		}
	}
	finalizeSentimentStats(&stats)
	return stats, nil
}

func (m *MemoryGraphStore) RunQuery(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	return nil, ErrQueryPassthroughUnsupported
}

func (m *MemoryGraphStore) userName(userID string) string {
	if user, ok := m.users[userID]; ok {
		return user.Name
	}
	return userID
}

func sortContext(gc *common.GraphContext) {
	sort.Slice(gc.Decisions, func(i, j int) bool { return gc.Decisions[i].ID < gc.Decisions[j].ID })
	sort.Slice(gc.Tasks, func(i, j int) bool { return gc.Tasks[i].ID < gc.Tasks[j].ID })
	sort.Slice(gc.Entities, func(i, j int) bool { return gc.Entities[i].Name < gc.Entities[j].Name })
}

func finalizeSentimentStats(stats *common.SentimentStats) {
	if stats.Total == 0 {
		stats.OverallLabel = "neutral"
		return
	}
	stats.PositivePercent = float64(stats.Positive) / float64(stats.Total) * 100
	stats.NeutralPercent = float64(stats.Neutral) / float64(stats.Total) * 100
	stats.NegativePercent = float64(stats.Negative) / float64(stats.Total) * 100
	switch {
	case stats.Positive > stats.Negative && stats.Positive > stats.Neutral:
		stats.OverallLabel = "positive"
	case stats.Negative > stats.Positive && stats.Negative > stats.Neutral:
		stats.OverallLabel = "negative"
	default:
		stats.OverallLabel = "neutral"
	}
}
