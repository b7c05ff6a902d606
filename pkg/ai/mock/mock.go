// Package mock provides test doubles for the pipeline AI client.
//
// The defaults are deterministic: embeddings are derived from a text
// hash so the same text always produces the same vector, and extraction
// passes text through unredacted with neutral sentiment. Custom behavior
// is injected via function fields.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/contextiq/backend/pkg/ai"
	"github.com/contextiq/backend/pkg/common"
)

// MockPipelineClient is a test double for ai.PipelineAIClient.
type MockPipelineClient struct {
	ai.MetricsTracker

	// GenerateEmbeddingFunc is called by GenerateEmbedding if set.
	GenerateEmbeddingFunc func(ctx context.Context, input []byte) ([]float32, error)

	// GenerateEmbeddingsFunc is called by GenerateEmbeddings if set.
	GenerateEmbeddingsFunc func(ctx context.Context, inputs [][]byte) ([][]float32, error)

	// ExtractSignalsFunc is called by ExtractSignals if set.
	ExtractSignalsFunc func(ctx context.Context, text string) (common.Extraction, error)

	// Dim is the embedding dimensionality of the default vectors.
	// Zero means 384.
	Dim int

	// mu guards the call counters; ExtractSignals runs concurrently in
	// the ingestion worker pool.
	mu           sync.Mutex
	embedCalls   int
	extractCalls int
}

func NewMockPipelineClient() *MockPipelineClient {
	return &MockPipelineClient{}
}

func (m *MockPipelineClient) dim() int {
	if m.Dim > 0 {
		return m.Dim
	}
	return 384
}

func (m *MockPipelineClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	m.mu.Lock()
	m.embedCalls++
	m.mu.Unlock()
	if m.GenerateEmbeddingFunc != nil {
		return m.GenerateEmbeddingFunc(ctx, input)
	}
	return DeterministicVector(string(input), m.dim()), nil
}

func (m *MockPipelineClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	m.mu.Lock()
	m.embedCalls++
	m.mu.Unlock()
	if m.GenerateEmbeddingsFunc != nil {
		return m.GenerateEmbeddingsFunc(ctx, inputs)
	}
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		out[i] = DeterministicVector(string(input), m.dim())
	}
	return out, nil
}

func (m *MockPipelineClient) ExtractSignals(ctx context.Context, text string) (common.Extraction, error) {
	m.mu.Lock()
	m.extractCalls++
	m.mu.Unlock()
	if m.ExtractSignalsFunc != nil {
		return m.ExtractSignalsFunc(ctx, text)
	}
	return common.Extraction{
		RedactedText: text,
		Sentiment:    common.Sentiment{Label: "neutral", Score: 0},
	}, nil
}

// EmbedCallCount returns how many embedding methods were invoked.
func (m *MockPipelineClient) EmbedCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls
}

// ExtractCallCount returns how many times ExtractSignals was invoked.
func (m *MockPipelineClient) ExtractCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractCalls
}

// Reset clears counters and custom functions.
func (m *MockPipelineClient) Reset() {
	m.mu.Lock()
	m.embedCalls = 0
	m.extractCalls = 0
	m.GenerateEmbeddingFunc = nil
	m.GenerateEmbeddingsFunc = nil
	m.ExtractSignalsFunc = nil
	m.mu.Unlock()
	m.ResetMetrics()
}

// DeterministicVector creates a reproducible embedding from a text hash.
// The same text always yields the same vector, so distance assertions in
// tests are stable.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := 0; i < dim; i++ {
		seed = seed*1664525 + 1013904223
		vector[i] = float32(seed%1000) / 1000.0
	}

	var sumSquares float32
	for _, v := range vector {
		sumSquares += v * v
	}
	if sumSquares > 0 {
		norm := float32(1.0) / sumSquares
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}
