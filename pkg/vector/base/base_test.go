package base

import (
	"context"
	"testing"

	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/vector"
)

func record(id string, embedding []float32, source string) common.VectorRecord {
	return common.VectorRecord{
		EventID:   id,
		Embedding: embedding,
		Text:      "text for " + id,
		Source:    source,
		Channel:   "#eng",
		UserName:  "alice",
	}
}

func TestUpsert_OverwriteByEventID(t *testing.T) {
	idx := NewMemoryIndex(3)
	ctx := context.Background()

	written, rejected, err := idx.Upsert(ctx, []common.VectorRecord{
		record("e1", []float32{1, 0, 0}, "slack"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != 1 || len(rejected) != 0 {
		t.Fatalf("unexpected result: written=%d rejected=%d", written, len(rejected))
	}

	// Same id again: overwrite, not append.
	if _, _, err := idx.Upsert(ctx, []common.VectorRecord{
		record("e1", []float32{0, 1, 0}, "slack"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one record after overwrite, got %d", count)
	}

	hits, err := idx.Search(ctx, []float32{0, 1, 0}, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].Distance != 0 {
		t.Fatalf("expected overwritten vector to match exactly, got %+v", hits)
	}
}

func TestUpsert_DimensionMismatchRejectedPerRecord(t *testing.T) {
	idx := NewMemoryIndex(3)
	ctx := context.Background()

	written, rejected, err := idx.Upsert(ctx, []common.VectorRecord{
		record("good", []float32{1, 0, 0}, "slack"),
		record("bad", []float32{1, 0}, "slack"),
	})
	if err != nil {
		t.Fatalf("batch must not fail on a per-record mismatch: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected 1 written, got %d", written)
	}
	if len(rejected) != 1 || rejected[0].EventID != "bad" {
		t.Fatalf("unexpected rejections: %+v", rejected)
	}
	if rejected[0].Stage != "vector_upsert" {
		t.Fatalf("unexpected rejection stage: %q", rejected[0].Stage)
	}
}

func TestSearch_OrderedByAscendingDistance(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()

	if _, _, err := idx.Upsert(ctx, []common.VectorRecord{
		record("far", []float32{10, 10}, "slack"),
		record("near", []float32{1, 1}, "slack"),
		record("mid", []float32{4, 4}, "slack"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hits, err := idx.Search(ctx, []float32{0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected top_k=2 hits, got %d", len(hits))
	}
	if hits[0].EventID != "near" || hits[1].EventID != "mid" {
		t.Fatalf("unexpected order: %q, %q", hits[0].EventID, hits[1].EventID)
	}
	// Squared Euclidean, not plain L2.
	if hits[0].Distance != 2 {
		t.Fatalf("expected squared distance 2, got %v", hits[0].Distance)
	}
}

func TestSearch_FilterConjunction(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()

	slack := record("s1", []float32{1, 0}, "slack")
	jira := record("j1", []float32{0, 1}, "jira")
	if _, _, err := idx.Upsert(ctx, []common.VectorRecord{slack, jira}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hits, err := idx.Search(ctx, []float32{0, 0}, 10, map[string]string{"source": "jira"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].EventID != "j1" {
		t.Fatalf("unexpected filtered hits: %+v", hits)
	}

	hits, err = idx.Search(ctx, []float32{0, 0}, 10, map[string]string{"source": "jira", "channel": "#other"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("conjunction must require all predicates, got %+v", hits)
	}
}

func TestSearch_RejectsUnknownFilterField(t *testing.T) {
	idx := NewMemoryIndex(2)
	_, err := idx.Search(context.Background(), []float32{0, 0}, 5, map[string]string{"text": "x"})
	if err == nil {
		t.Fatal("expected error for unsupported filter field")
	}
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	idx := NewMemoryIndex(3)
	_, err := idx.Search(context.Background(), []float32{0, 0}, 5, nil)
	if err == nil {
		t.Fatal("expected error for query dimension mismatch")
	}
}

func TestDeleteBySource(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()

	if _, _, err := idx.Upsert(ctx, []common.VectorRecord{
		record("s1", []float32{1, 0}, "slack"),
		record("s2", []float32{0, 1}, "slack"),
		record("j1", []float32{1, 1}, "jira"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deleted, err := idx.DeleteBySource(ctx, "slack")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	count, _ := idx.Count(ctx)
	if count != 1 {
		t.Fatalf("expected 1 remaining, got %d", count)
	}
}

var _ vector.Index = (*MemoryIndex)(nil)
