// Package openai implements the pipeline AI client against any
// OpenAI-compatible API. Embedding and chat endpoints can point at
// different providers.
package openai

import (
	"github.com/contextiq/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

type PipelineOpenAIClient struct {
	ai.MetricsTracker

	embeddingModel  string
	extractionModel string

	chatURL string

	reqLock    *semaphore.Weighted
	timeoutMin int

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

type NewPipelineOpenAIClientParams struct {
	EmbeddingModel  string
	ExtractionModel string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxConcurrentRequests int64
	TimeoutMin            int
}

// NewPipelineOpenAIClient creates a client with separate OpenAI clients
// for embeddings and extraction so the two can run on different
// providers or deployments.
func NewPipelineOpenAIClient(
	params NewPipelineOpenAIClientParams,
) *PipelineOpenAIClient {
	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 15
	}
	timeoutMin := params.TimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = 5
	}

	return &PipelineOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,

		chatURL: params.ChatURL,

		reqLock:    semaphore.NewWeighted(maxReq),
		timeoutMin: timeoutMin,

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
