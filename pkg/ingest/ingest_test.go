package ingest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	aimock "github.com/contextiq/backend/pkg/ai/mock"
	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/notify"
	storebase "github.com/contextiq/backend/pkg/store/base"
	vectorbase "github.com/contextiq/backend/pkg/vector/base"
)

var testTime = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func testClock() time.Time { return testTime.Add(10 * time.Minute) }

func chatEvent(id, userID, text string, ts time.Time) common.CanonicalEvent {
	return common.CanonicalEvent{
		ID:        id,
		Source:    common.SourceSlack,
		Channel:   "#eng",
		UserID:    userID,
		UserName:  strings.ToUpper(userID),
		Text:      text,
		Timestamp: ts,
	}
}

type testPipeline struct {
	orchestrator *Orchestrator
	ai           *aimock.MockPipelineClient
	vectors      *vectorbase.MemoryIndex
	graph        *storebase.MemoryGraphStore
	notifier     *notify.MockNotifier
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	aiClient := aimock.NewMockPipelineClient()
	aiClient.Dim = 8
	vectors := vectorbase.NewMemoryIndex(8)
	graph := storebase.NewMemoryGraphStore(storebase.Params{Now: testClock})
	notifier := &notify.MockNotifier{}

	// Serial extraction keeps the mock's call counters deterministic.
	orchestrator, err := NewOrchestrator(NewOrchestratorParams{
		AIClient:            aiClient,
		Vectors:             vectors,
		Graph:               graph,
		Notifier:            notifier,
		ParallelExtractions: 1,
		MaxRetries:          2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &testPipeline{
		orchestrator: orchestrator,
		ai:           aiClient,
		vectors:      vectors,
		graph:        graph,
		notifier:     notifier,
	}
}

func TestNewOrchestrator_RequiresCoreDeps(t *testing.T) {
	_, err := NewOrchestrator(NewOrchestratorParams{})
	if err == nil {
		t.Fatal("expected error when core dependencies are missing")
	}
}

func TestIngest_EmptyBatch(t *testing.T) {
	p := newTestPipeline(t)

	stats, err := p.orchestrator.Ingest(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.EventsIn != 0 || stats.VectorsWritten != 0 || len(stats.Errors) != 0 {
		t.Fatalf("unexpected stats for empty batch: %+v", stats)
	}
	if p.ai.ExtractCallCount() != 0 || p.ai.EmbedCallCount() != 0 {
		t.Fatal("empty batch must not call the AI client")
	}
}

func TestIngest_EndToEndWithAssignmentAndRerun(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.ai.ExtractSignalsFunc = func(ctx context.Context, text string) (common.Extraction, error) {
		extraction := common.Extraction{
			RedactedText: text,
			Sentiment:    common.Sentiment{Label: "neutral"},
		}
		if strings.Contains(text, "deploy") {
			extraction.Tasks = []common.Task{{Text: "Deploy the fix", Assignee: "u2"}}
		}
		return extraction, nil
	}

	events := []common.CanonicalEvent{
		chatEvent("e1", "u1", "Someone should deploy the fix today", testTime),
		chatEvent("e2", "u2", "The dashboard looks fine now", testTime.Add(time.Minute)),
	}

	stats, err := p.orchestrator.Ingest(ctx, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.EventsIn != 2 || stats.VectorsWritten != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Graph.NodesCreated == 0 || stats.Graph.RelationshipsCreated == 0 {
		t.Fatalf("expected graph creations on first ingest, got %+v", stats.Graph)
	}
	if stats.AssignmentsMade != 1 {
		t.Fatalf("expected 1 assignment, got %d", stats.AssignmentsMade)
	}
	if len(stats.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", stats.Errors)
	}

	published := p.notifier.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(published))
	}
	if published[0].Type != notify.TypeNewTask || published[0].TaskID != "e1-task-0" || published[0].AssigneeID != "u2" {
		t.Fatalf("unexpected notification: %+v", published[0])
	}

	// Same batch again: upserts converge, nothing new is created or
	// notified.
	stats, err = p.orchestrator.Ingest(ctx, events)
	if err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if stats.Graph.NodesCreated != 0 || stats.Graph.RelationshipsCreated != 0 {
		t.Fatalf("rerun must not create graph objects, got %+v", stats.Graph)
	}
	if stats.AssignmentsMade != 0 || stats.AgreementLinks != 0 {
		t.Fatalf("rerun must not repeat relationship passes, got %+v", stats)
	}
	if len(p.notifier.Published()) != 1 {
		t.Fatal("rerun must not publish again")
	}
	count, _ := p.vectors.Count(ctx)
	if count != 2 {
		t.Fatalf("expected 2 vector records after rerun, got %d", count)
	}
}

func TestIngest_ExtractionFailureDegradesSingleEvent(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.ai.ExtractSignalsFunc = func(ctx context.Context, text string) (common.Extraction, error) {
		if strings.Contains(text, "boom") {
			return common.Extraction{}, errors.New("model unavailable")
		}
		return common.Extraction{RedactedText: text, Sentiment: common.Sentiment{Label: "neutral"}}, nil
	}

	events := []common.CanonicalEvent{
		chatEvent("e1", "u1", "this one goes boom", testTime),
		chatEvent("e2", "u2", "this one is fine", testTime.Add(time.Minute)),
	}

	stats, err := p.orchestrator.Ingest(ctx, events)
	if err != nil {
		t.Fatalf("a degraded extraction must not fail the batch: %v", err)
	}

	var extractionErrs []common.IngestError
	for _, e := range stats.Errors {
		if e.Stage == "extraction" {
			extractionErrs = append(extractionErrs, e)
		}
	}
	if len(extractionErrs) != 1 || extractionErrs[0].EventID != "e1" {
		t.Fatalf("expected one extraction error for e1, got %+v", stats.Errors)
	}

	// The failing event is attempted MaxRetries times, the healthy one once.
	if got := p.ai.ExtractCallCount(); got != 3 {
		t.Fatalf("expected 3 extraction calls, got %d", got)
	}

	// The degraded event still reaches both stores with its raw text.
	if stats.VectorsWritten != 2 {
		t.Fatalf("expected both events in the vector index, got %d", stats.VectorsWritten)
	}
	contexts, err := p.graph.FetchEventContext(ctx, []string{"e1", "e2"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contexts) != 2 {
		t.Fatalf("expected both events in the graph, got %d", len(contexts))
	}
	if contexts["e1"].RedactedText != "this one goes boom" {
		t.Fatalf("degraded event must fall back to raw text, got %q", contexts["e1"].RedactedText)
	}
}

func TestIngest_EmbeddingBatchFailureDropsVectorWriteOnly(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.ai.GenerateEmbeddingsFunc = func(ctx context.Context, inputs [][]byte) ([][]float32, error) {
		return nil, errors.New("embedding service down")
	}

	events := []common.CanonicalEvent{
		chatEvent("e1", "u1", "first", testTime),
		chatEvent("e2", "u2", "second", testTime.Add(time.Minute)),
	}

	stats, err := p.orchestrator.Ingest(ctx, events)
	if err != nil {
		t.Fatalf("an embedding failure must not fail the batch: %v", err)
	}
	if stats.VectorsWritten != 0 {
		t.Fatalf("expected no vectors written, got %d", stats.VectorsWritten)
	}

	embedErrs := 0
	for _, e := range stats.Errors {
		if e.Stage == "embedding" {
			embedErrs++
		}
	}
	if embedErrs != 2 {
		t.Fatalf("expected a per-event embedding error for both events, got %+v", stats.Errors)
	}

	// The graph write proceeds regardless.
	contexts, err := p.graph.FetchEventContext(ctx, []string{"e1", "e2"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contexts) != 2 {
		t.Fatalf("expected both events in the graph, got %d", len(contexts))
	}
}

func TestIngest_EmptyEmbeddingDropsOneEvent(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.ai.GenerateEmbeddingsFunc = func(ctx context.Context, inputs [][]byte) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i := range inputs {
			if i != 0 {
				out[i] = aimock.DeterministicVector(string(inputs[i]), 8)
			}
		}
		return out, nil
	}

	events := []common.CanonicalEvent{
		chatEvent("e1", "u1", "first", testTime),
		chatEvent("e2", "u2", "second", testTime.Add(time.Minute)),
	}

	stats, err := p.orchestrator.Ingest(ctx, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.VectorsWritten != 1 {
		t.Fatalf("expected 1 vector written, got %d", stats.VectorsWritten)
	}
	if len(stats.Errors) != 1 || stats.Errors[0].Stage != "embedding" || stats.Errors[0].EventID != "e1" {
		t.Fatalf("expected one embedding error for e1, got %+v", stats.Errors)
	}
}

type failingGraph struct {
	*storebase.MemoryGraphStore
}

func (f *failingGraph) MergeEvents(ctx context.Context, events []common.CanonicalEvent, extractions []common.Extraction) (common.Counters, error) {
	return common.Counters{}, errors.New("graph store down")
}

func TestIngest_GraphWriteFailureIsRetryable(t *testing.T) {
	aiClient := aimock.NewMockPipelineClient()
	aiClient.Dim = 8
	vectors := vectorbase.NewMemoryIndex(8)
	notifier := &notify.MockNotifier{}
	graph := &failingGraph{storebase.NewMemoryGraphStore(storebase.Params{Now: testClock})}

	orchestrator, err := NewOrchestrator(NewOrchestratorParams{
		AIClient:            aiClient,
		Vectors:             vectors,
		Graph:               graph,
		Notifier:            notifier,
		ParallelExtractions: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := []common.CanonicalEvent{chatEvent("e1", "u1", "first", testTime)}
	stats, err := orchestrator.Ingest(context.Background(), events)
	if err == nil {
		t.Fatal("a graph write failure must surface for retry")
	}

	found := false
	for _, e := range stats.Errors {
		if e.Stage == "graph_write" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a graph_write error, got %+v", stats.Errors)
	}
	if stats.AssignmentsMade != 0 || stats.AgreementLinks != 0 {
		t.Fatalf("relationship passes must not run after a failed merge, got %+v", stats)
	}

	// The vector side is independent and still written.
	if stats.VectorsWritten != 1 {
		t.Fatalf("expected the vector write to succeed, got %d", stats.VectorsWritten)
	}
	if len(notifier.Published()) != 0 {
		t.Fatal("no notifications without a committed graph")
	}
}

func TestIngest_ParallelExtraction(t *testing.T) {
	aiClient := aimock.NewMockPipelineClient()
	aiClient.Dim = 8
	vectors := vectorbase.NewMemoryIndex(8)
	graph := storebase.NewMemoryGraphStore(storebase.Params{Now: testClock})

	// Default pool size, so extraction workers run concurrently.
	orchestrator, err := NewOrchestrator(NewOrchestratorParams{
		AIClient: aiClient,
		Vectors:  vectors,
		Graph:    graph,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := make([]common.CanonicalEvent, 16)
	for i := range events {
		events[i] = chatEvent(
			"e"+strconv.Itoa(i),
			"u"+strconv.Itoa(i%4),
			"message number "+strconv.Itoa(i),
			testTime.Add(time.Duration(i)*time.Second),
		)
	}

	stats, err := orchestrator.Ingest(context.Background(), events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.VectorsWritten != 16 || len(stats.Errors) != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := aiClient.ExtractCallCount(); got != 16 {
		t.Fatalf("expected 16 extraction calls, got %d", got)
	}
	contexts, err := graph.FetchEventContext(context.Background(), []string{"e0", "e15"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contexts) != 2 {
		t.Fatalf("expected both sampled ids in the graph, got %d", len(contexts))
	}
}

type failingArchiver struct{}

func (failingArchiver) ArchiveEvent(ctx context.Context, event common.CanonicalEvent) error {
	return errors.New("bucket unavailable")
}

func TestIngest_ArchiveFailureIsReportedNotFatal(t *testing.T) {
	aiClient := aimock.NewMockPipelineClient()
	aiClient.Dim = 8
	vectors := vectorbase.NewMemoryIndex(8)
	graph := storebase.NewMemoryGraphStore(storebase.Params{Now: testClock})

	orchestrator, err := NewOrchestrator(NewOrchestratorParams{
		AIClient:            aiClient,
		Vectors:             vectors,
		Graph:               graph,
		Archiver:            failingArchiver{},
		ParallelExtractions: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := []common.CanonicalEvent{chatEvent("e1", "u1", "first", testTime)}
	stats, err := orchestrator.Ingest(context.Background(), events)
	if err != nil {
		t.Fatalf("archive failures must not fail the batch: %v", err)
	}
	if len(stats.Errors) != 1 || stats.Errors[0].Stage != "archive" || stats.Errors[0].EventID != "e1" {
		t.Fatalf("expected one archive error for e1, got %+v", stats.Errors)
	}
	if stats.VectorsWritten != 1 || stats.Graph.NodesCreated == 0 {
		t.Fatalf("both stores must still be written, got %+v", stats)
	}
}

func TestIngest_AgreementLinkEndToEnd(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	events := []common.CanonicalEvent{
		chatEvent("e0", "u2", "Should we ship on Friday?", testTime.Add(-2*time.Minute)),
		chatEvent("e1", "u1", "I agree, let's ship Friday", testTime),
	}

	stats, err := p.orchestrator.Ingest(ctx, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.AgreementLinks != 1 {
		t.Fatalf("expected 1 agreement link, got %d", stats.AgreementLinks)
	}

	link, err := p.graph.AgreementLink(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link == nil || link.Count != 1 {
		t.Fatalf("expected u1->u2 agreement with count 1, got %+v", link)
	}
}
