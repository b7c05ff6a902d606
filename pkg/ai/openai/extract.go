package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/contextiq/backend/pkg/ai"
	"github.com/contextiq/backend/pkg/common"

	"github.com/openai/openai-go/v3"
)

const extractMaxInputTokens = 8192

const extractSystemPrompt = `You analyze a single workplace message and return structured signals.
Rules:
- redacted_text: the message with person names, email addresses, phone numbers and locations replaced by <PERSON>, <EMAIL_ADDRESS>, <PHONE_NUMBER>, <LOCATION>.
- pii_entities: every redacted span with its type and original value.
- sentiment: label is one of positive, neutral, negative; score is a compound value in [-1, 1].
- entities: organizations, products, projects and other notable non-person mentions.
- decisions: statements committing the team to a course of action.
- tasks: concrete action items; set assignee to the mentioned person or empty.`

type extractionSchema struct {
	RedactedText string `json:"redacted_text" jsonschema_description:"Message text with PII placeholders"`
	PIIEntities  []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"pii_entities"`
	Sentiment struct {
		Label string  `json:"label" jsonschema:"enum=positive,enum=neutral,enum=negative"`
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

// ExtractSignals runs structured extraction over one event text using
// the extraction model.
func (c *PipelineOpenAIClient) ExtractSignals(ctx context.Context, text string) (common.Extraction, error) {
	truncated := ai.TruncateTokens(text, extractMaxInputTokens)

	schema := ai.GenerateSchema(extractionSchema{})
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "event_signals",
		Description: openai.String("Structured signals extracted from one workplace message"),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return common.Extraction{}, err
	}
	defer c.reqLock.Release(1)

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.extractionModel),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractSystemPrompt),
			openai.UserMessage(truncated),
		},
		Temperature: openai.Float(0.1),
	}

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(rCtx, body)
	if err != nil {
		return common.Extraction{}, err
	}

	c.AddMetrics(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return common.Extraction{}, fmt.Errorf("empty completion response")
	}

	var parsed extractionSchema
	if err := ai.UnmarshalFlexible(response.Choices[0].Message.Content, &parsed); err != nil {
		return common.Extraction{}, err
	}

	return toExtraction(parsed), nil
}

func toExtraction(parsed extractionSchema) common.Extraction {
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
	return out
}
