package ai

import (
	"context"
	"sync"

	"github.com/contextiq/backend/pkg/common"
)

// Embedder creates vector embeddings for text inputs. Implementations
// must return vectors of a fixed dimensionality for a given model.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// Extractor derives per-event signals from text: PII redaction,
// sentiment, named entities, decisions and tasks.
type Extractor interface {
	ExtractSignals(ctx context.Context, text string) (common.Extraction, error)
}

// PipelineAIClient bundles the two collaborators the ingestion pipeline
// depends on, plus request accounting.
type PipelineAIClient interface {
	Embedder
	Extractor

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// ModelMetrics contains accumulated usage metrics from AI model operations.
type ModelMetrics struct {
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	TotalTokens  int   `json:"total_tokens"`
	DurationMs   int64 `json:"duration_ms"`
}

// MetricsTracker is the shared accumulator embedded by adapters.
type MetricsTracker struct {
	mu      sync.Mutex
	metrics ModelMetrics
}

func (t *MetricsTracker) AddMetrics(m ModelMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.InputTokens += m.InputTokens
	t.metrics.OutputTokens += m.OutputTokens
	t.metrics.TotalTokens += m.TotalTokens
	t.metrics.DurationMs += m.DurationMs
}

func (t *MetricsTracker) ResetMetrics() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = ModelMetrics{}
}

func (t *MetricsTracker) GetMetrics() ModelMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}
