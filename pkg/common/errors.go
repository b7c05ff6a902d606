package common

import (
	"errors"
	"fmt"
)

// Sentinels for conditions callers branch on with errors.Is.
var (
	// ErrStoreUnavailable wraps connectivity failures to either store.
	// Batches fail fast on it instead of per-event isolation.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDivergentReference marks a vector hit whose event id has no
	// counterpart in the graph. Retrieval degrades instead of failing.
	ErrDivergentReference = errors.New("divergent reference between stores")
)

// MalformedSourceRecordError reports a source record the normalizer
// rejected. The original record never enters the pipeline.
type MalformedSourceRecordError struct {
	Source string
	Reason string
}

func (e *MalformedSourceRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: %s", e.Source, e.Reason)
}

// ExtractionError reports a per-event extraction failure. Ingestion
// degrades that event instead of aborting the batch.
type ExtractionError struct {
	EventID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for event %s: %v", e.EventID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError reports a per-event embedding failure. The event is
// excluded from the vector index but still written to the graph.
type EmbeddingError struct {
	EventID string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed for event %s: %v", e.EventID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
