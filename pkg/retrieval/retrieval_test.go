package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	aimock "github.com/contextiq/backend/pkg/ai/mock"
	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/store"
	storebase "github.com/contextiq/backend/pkg/store/base"
	vectorbase "github.com/contextiq/backend/pkg/vector/base"
)

var seededAt = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

// seedStores writes three events into both stores. The vectors are
// placed so that a zero query vector ranks them e1, e2, e3, and every
// graph record carries distinct raw and redacted text.
func seedStores(t *testing.T) (*vectorbase.MemoryIndex, *storebase.MemoryGraphStore) {
	t.Helper()
	ctx := context.Background()

	vectors := vectorbase.NewMemoryIndex(2)
	graph := storebase.NewMemoryGraphStore(storebase.Params{})

	events := []common.CanonicalEvent{
		{ID: "e1", Source: common.SourceSlack, Channel: "#eng", UserID: "u1", UserName: "Alice", Text: "Call me at 555-0100 about the launch", Timestamp: seededAt},
		{ID: "e2", Source: common.SourceSlack, Channel: "#eng", UserID: "u2", UserName: "Bob", Text: "Launch is scheduled for Friday", Timestamp: seededAt.Add(time.Minute)},
		{ID: "e3", Source: common.SourceJira, Channel: "#ops", UserID: "u3", UserName: "Cara", Text: "Ticket closed", Timestamp: seededAt.Add(2 * time.Minute)},
	}
	extractions := []common.Extraction{
		{
			RedactedText: "Call me at [PHONE] about the launch",
			Sentiment:    common.Sentiment{Label: "neutral"},
			Decisions:    []common.Decision{{Text: "Launch on Friday"}},
			Tasks:        []common.Task{{Text: "Prepare release notes", Assignee: "u2"}},
		},
		{RedactedText: "Launch is scheduled for Friday", Sentiment: common.Sentiment{Label: "positive", Score: 0.8}},
		{RedactedText: "Ticket closed", Sentiment: common.Sentiment{Label: "neutral"}},
	}
	if _, err := graph.MergeEvents(ctx, events, extractions); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := []common.VectorRecord{
		{EventID: "e1", Embedding: []float32{1, 0}, Text: "Call me at [PHONE] about the launch", Source: "slack", Channel: "#eng", UserName: "Alice", Timestamp: seededAt},
		{EventID: "e2", Embedding: []float32{2, 0}, Text: "Launch is scheduled for Friday", Source: "slack", Channel: "#eng", UserName: "Bob", Timestamp: seededAt.Add(time.Minute)},
		{EventID: "e3", Embedding: []float32{3, 0}, Text: "Ticket closed", Source: "jira", Channel: "#ops", UserName: "Cara", Timestamp: seededAt.Add(2 * time.Minute)},
	}
	if _, _, err := vectors.Upsert(ctx, records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return vectors, graph
}

func newTestEngine(t *testing.T, vectors *vectorbase.MemoryIndex, graph store.GraphStore, audit AuditLogger) *Engine {
	t.Helper()

	embedder := aimock.NewMockPipelineClient()
	embedder.GenerateEmbeddingFunc = func(ctx context.Context, input []byte) ([]float32, error) {
		return []float32{0, 0}, nil
	}

	engine, err := NewEngine(NewEngineParams{
		Embedder: embedder,
		Vectors:  vectors,
		Graph:    graph,
		Audit:    audit,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return engine
}

func TestNewEngine_RequiresCoreDeps(t *testing.T) {
	_, err := NewEngine(NewEngineParams{})
	if err == nil {
		t.Fatal("expected error when core dependencies are missing")
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	vectors, graph := seedStores(t)
	engine := newTestEngine(t, vectors, graph, &MockAuditLogger{})

	if _, err := engine.Search(context.Background(), SearchParams{Query: ""}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestSearch_NoHitsReturnsEmptySlice(t *testing.T) {
	vectors, graph := seedStores(t)
	engine := newTestEngine(t, vectors, graph, &MockAuditLogger{})

	items, err := engine.Search(context.Background(), SearchParams{
		Query:   "launch",
		Filters: map[string]string{"source": "gdocs"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty result set, got %#v", items)
	}
}

func TestSearch_RedactedByDefault(t *testing.T) {
	vectors, graph := seedStores(t)
	audit := &MockAuditLogger{}
	engine := newTestEngine(t, vectors, graph, audit)

	items, err := engine.Search(context.Background(), SearchParams{Query: "launch", TopK: 1, Role: "user"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].EventID != "e1" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].Text != "Call me at [PHONE] about the launch" {
		t.Fatalf("non-admin must receive redacted text, got %q", items[0].Text)
	}
	if len(audit.Records()) != 0 {
		t.Fatal("no audit records without a raw-text disclosure")
	}
}

func TestSearch_AdminSeesRawTextWithAuditTrail(t *testing.T) {
	vectors, graph := seedStores(t)
	audit := &MockAuditLogger{}
	engine := newTestEngine(t, vectors, graph, audit)

	items, err := engine.Search(context.Background(), SearchParams{Query: "launch", TopK: 2, Role: RoleAdmin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Text != "Call me at 555-0100 about the launch" {
		t.Fatalf("admin must receive raw text, got %q", items[0].Text)
	}

	records := audit.Records()
	if len(records) != 2 {
		t.Fatalf("expected one audit record per disclosed item, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Action != ActionViewRawPII || rec.Role != RoleAdmin || rec.ID == "" {
			t.Fatalf("unexpected audit record: %+v", rec)
		}
	}
	if records[0].EventID != "e1" || records[1].EventID != "e2" {
		t.Fatalf("unexpected audited event ids: %+v", records)
	}
}

func TestSearch_AuditFailureDoesNotFailQuery(t *testing.T) {
	vectors, graph := seedStores(t)
	audit := &MockAuditLogger{
		RecordFunc: func(ctx context.Context, record AccessRecord) error {
			return errors.New("audit sink down")
		},
	}
	engine := newTestEngine(t, vectors, graph, audit)

	items, err := engine.Search(context.Background(), SearchParams{Query: "launch", TopK: 1, Role: RoleAdmin})
	if err != nil {
		t.Fatalf("audit failures must not surface to the caller: %v", err)
	}
	if len(items) != 1 || items[0].Text != "Call me at 555-0100 about the launch" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestSearch_RankOrderFollowsDistance(t *testing.T) {
	vectors, graph := seedStores(t)
	engine := newTestEngine(t, vectors, graph, &MockAuditLogger{})

	items, err := engine.Search(context.Background(), SearchParams{Query: "launch", TopK: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []string{"e1", "e2", "e3"} {
		if items[i].EventID != want {
			t.Fatalf("unexpected rank order: %+v", items)
		}
	}
	if !(items[0].Score < items[1].Score && items[1].Score < items[2].Score) {
		t.Fatalf("scores must ascend with rank: %+v", items)
	}
}

func TestSearch_IncludeGraphContext(t *testing.T) {
	vectors, graph := seedStores(t)
	engine := newTestEngine(t, vectors, graph, &MockAuditLogger{})

	items, err := engine.Search(context.Background(), SearchParams{Query: "launch", TopK: 1, IncludeGraphContext: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].GraphContext == nil {
		t.Fatalf("expected graph context on the hit, got %+v", items)
	}
	gc := items[0].GraphContext
	if len(gc.Decisions) != 1 || gc.Decisions[0].ID != "e1-decision-0" {
		t.Fatalf("unexpected decisions: %+v", gc.Decisions)
	}
	if len(gc.Tasks) != 1 || gc.Tasks[0].ID != "e1-task-0" {
		t.Fatalf("unexpected tasks: %+v", gc.Tasks)
	}

	// Without the flag no context is attached.
	items, err = engine.Search(context.Background(), SearchParams{Query: "launch", TopK: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items[0].GraphContext != nil {
		t.Fatalf("context must only be attached on request, got %+v", items[0].GraphContext)
	}
}

func TestSearch_DivergentReferenceDegradesToVectorOnly(t *testing.T) {
	vectors, graph := seedStores(t)
	engine := newTestEngine(t, vectors, graph, &MockAuditLogger{})
	ctx := context.Background()

	// A vector record with no graph counterpart.
	if _, _, err := vectors.Upsert(ctx, []common.VectorRecord{
		{EventID: "ghost", Embedding: []float32{0.5, 0}, Text: "orphaned record", Source: "slack", Channel: "#eng", UserName: "Alice"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items, err := engine.Search(ctx, SearchParams{Query: "launch", TopK: 4, Role: RoleAdmin})
	if err != nil {
		t.Fatalf("divergence must not fail the query: %v", err)
	}
	if len(items) != 4 || items[0].EventID != "ghost" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].Text != "orphaned record" {
		t.Fatalf("divergent hit must keep vector metadata text, got %q", items[0].Text)
	}
}

type outageGraph struct {
	*storebase.MemoryGraphStore
}

func (outageGraph) FetchEventContext(ctx context.Context, eventIDs []string, includeContext bool) (map[string]store.EventContext, error) {
	return nil, errors.New("graph store down")
}

func TestSearch_GraphOutageDegradesAllHits(t *testing.T) {
	vectors, graph := seedStores(t)
	engine := newTestEngine(t, vectors, outageGraph{graph}, &MockAuditLogger{})

	items, err := engine.Search(context.Background(), SearchParams{Query: "launch", TopK: 3})
	if err != nil {
		t.Fatalf("a graph outage must not fail the query: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 degraded items, got %d", len(items))
	}
	for _, item := range items {
		if item.Text == "" || item.GraphContext != nil {
			t.Fatalf("degraded item must keep vector metadata only: %+v", item)
		}
	}
}
