// Package vector defines the vector index abstraction: one record per
// canonical event, filtered nearest-neighbor search, overwrite-by-id
// upsert semantics.
package vector

import (
	"context"

	"github.com/contextiq/backend/pkg/common"
)

// FilterFields are the scalar metadata columns that search filters may
// reference. Anything else is rejected before touching the index.
var FilterFields = map[string]struct{}{
	"source":          {},
	"channel":         {},
	"user_name":       {},
	"sentiment_label": {},
}

// Index is the vector similarity store. Distance is squared Euclidean
// across all implementations so scores stay comparable.
type Index interface {
	// EnsureSchema lazily creates the index storage on first use.
	EnsureSchema(ctx context.Context) error

	// Upsert writes records keyed by event id with overwrite semantics.
	// Records whose vector dimensionality does not match the index are
	// rejected individually; the rest of the batch is still written.
	// The returned count is the number of records accepted.
	Upsert(ctx context.Context, records []common.VectorRecord) (int, []common.IngestError, error)

	// Search returns at most topK hits ordered by ascending distance.
	// filter is a conjunction of equality predicates over FilterFields.
	Search(ctx context.Context, queryVector []float32, topK int, filter map[string]string) ([]common.VectorHit, error)

	// Count reports the number of stored records.
	Count(ctx context.Context) (int64, error)

	// DeleteBySource removes all records from one source.
	DeleteBySource(ctx context.Context, source string) (int64, error)
}
