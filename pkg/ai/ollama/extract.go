package ollama

import (
	"context"
	"encoding/json"
	"time"

	"github.com/contextiq/backend/pkg/ai"
	"github.com/contextiq/backend/pkg/common"

	"github.com/ollama/ollama/api"
)

const extractPrompt = `Analyze the workplace message below and return JSON with these fields:
- redacted_text: the message with person names, email addresses, phone numbers and locations replaced by <PERSON>, <EMAIL_ADDRESS>, <PHONE_NUMBER>, <LOCATION>
- pii_entities: list of {type, value} for every redacted span
- sentiment: {label: positive|neutral|negative, score: compound in [-1, 1]}
- entities: list of {text, label} for notable non-person mentions
- decisions: list of {text} for statements committing to a course of action
- tasks: list of {text, assignee} for concrete action items

Message:
`

type extractionResult struct {
	RedactedText string `json:"redacted_text"`
	PIIEntities  []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"pii_entities"`
	Sentiment struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	} `json:"sentiment"`
	Entities []struct {
		Text  string `json:"text"`
		Label string `json:"label"`
	} `json:"entities"`
	Decisions []struct {
		Text string `json:"text"`
	} `json:"decisions"`
	Tasks []struct {
		Text     string `json:"text"`
		Assignee string `json:"assignee"`
	} `json:"tasks"`
}

// ExtractSignals runs structured extraction against the extraction model
// using Ollama's constrained JSON output.
func (c *PipelineOllamaClient) ExtractSignals(ctx context.Context, text string) (common.Extraction, error) {
	schemaObj := ai.GenerateSchema(extractionResult{})
	formatBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return common.Extraction{}, err
	}
	var format json.RawMessage = formatBytes

	truncated := ai.TruncateTokens(text, 8192)

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return common.Extraction{}, err
	}
	defer c.reqLock.Release(1)

	stream := false
	req := &api.ChatRequest{
		Model: c.extractionModel,
		Messages: []api.Message{
			{Role: "user", Content: extractPrompt + truncated},
		},
		Stream:  &stream,
		Format:  format,
		Options: map[string]any{"temperature": 0.1},
	}

	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return common.Extraction{}, err
	}

	c.AddMetrics(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	var parsed extractionResult
	if err := ai.UnmarshalFlexible(final.Message.Content, &parsed); err != nil {
		return common.Extraction{}, err
	}

	out := common.Extraction{
		RedactedText: parsed.RedactedText,
		Sentiment: common.Sentiment{
			Label: parsed.Sentiment.Label,
			Score: parsed.Sentiment.Score,
		},
	}
	if out.Sentiment.Label == "" {
		out.Sentiment.Label = "neutral"
	}
	if out.RedactedText == "" {
		out.RedactedText = text
	}
	for _, p := range parsed.PIIEntities {
		out.PIIEntities = append(out.PIIEntities, common.PIIEntity{Type: p.Type, Value: p.Value})
	}
	for _, e := range parsed.Entities {
		out.Entities = append(out.Entities, common.NamedEntity{Text: e.Text, Label: e.Label})
	}
	for _, d := range parsed.Decisions {
		out.Decisions = append(out.Decisions, common.Decision{Text: d.Text})
	}
	for _, t := range parsed.Tasks {
		out.Tasks = append(out.Tasks, common.Task{Text: t.Text, Assignee: t.Assignee})
	}
	return out, nil
}
