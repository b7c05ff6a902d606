// Package base is the in-memory vector index, used in tests and
// single-process deployments without Postgres.
package base

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/contextiq/backend/pkg/common"
	"github.com/contextiq/backend/pkg/vector"
)

type MemoryIndex struct {
	dim int

	mu      sync.RWMutex
	records map[string]common.VectorRecord
}

func NewMemoryIndex(dim int) *MemoryIndex {
	if dim <= 0 {
		dim = 384
	}
	return &MemoryIndex{
		dim:     dim,
		records: make(map[string]common.VectorRecord),
	}
}

func (m *MemoryIndex) EnsureSchema(ctx context.Context) error {
	return nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, records []common.VectorRecord) (int, []common.IngestError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	written := 0
	var rejected []common.IngestError
	for _, rec := range records {
		if len(rec.Embedding) != m.dim {
			rejected = append(rejected, common.IngestError{
				EventID: rec.EventID,
				Stage:   "vector_upsert",
				Message: fmt.Sprintf("dimension mismatch: got %d want %d", len(rec.Embedding), m.dim),
			})
			continue
		}
		m.records[rec.EventID] = rec
		written++
	}
	return written, rejected, nil
}

func (m *MemoryIndex) Search(ctx context.Context, queryVector []float32, topK int, filter map[string]string) ([]common.VectorHit, error) {
	if len(queryVector) != m.dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d want %d", len(queryVector), m.dim)
	}
	for field := range filter {
		if _, ok := vector.FilterFields[field]; !ok {
			return nil, fmt.Errorf("unsupported filter field %q", field)
		}
	}
	if topK <= 0 {
		topK = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]common.VectorHit, 0, len(m.records))
	for _, rec := range m.records {
		if !matches(rec, filter) {
			continue
		}
		hits = append(hits, common.VectorHit{
			EventID:        rec.EventID,
			Distance:       squaredEuclidean(queryVector, rec.Embedding),
			Text:           rec.Text,
			Source:         rec.Source,
			Channel:        rec.Channel,
			UserName:       rec.UserName,
			Timestamp:      rec.Timestamp,
			SentimentLabel: rec.SentimentLabel,
			SentimentScore: rec.SentimentScore,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

func (m *MemoryIndex) DeleteBySource(ctx context.Context, source string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, rec := range m.records {
		if rec.Source == source {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func matches(rec common.VectorRecord, filter map[string]string) bool {
	for field, want := range filter {
		var got string
		switch field {
		case "source":
			got = rec.Source
		case "channel":
			got = rec.Channel
		case "user_name":
			got = rec.UserName
		case "sentiment_label":
			got = rec.SentimentLabel
		}
		if got != want {
			return false
		}
	}
	return true
}

func squaredEuclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
