package ai

import (
	"testing"
)

type extractionShape struct {
	RedactedText string   `json:"redacted_text"`
	Decisions    []string `json:"decisions"`
}

func TestUnmarshalFlexible(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			"plain json",
			`{"redacted_text":"hello","decisions":[]}`,
			"hello",
		},
		{
			"double encoded",
			`"{\"redacted_text\":\"hello\",\"decisions\":[]}"`,
			"hello",
		},
		{
			"trailing comma repaired",
			`{"redacted_text":"hello","decisions":[],}`,
			"hello",
		},
		{
			"unquoted keys repaired",
			`{redacted_text: "hello", decisions: []}`,
			"hello",
		},
		{
			"duplicate leading brace",
			`{{"redacted_text":"hello","decisions":[]}`,
			"hello",
		},
		{
			"surrounding whitespace",
			"  \n{\"redacted_text\":\"hello\",\"decisions\":[]}\n ",
			"hello",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out extractionShape
			if err := UnmarshalFlexible(tc.input, &out); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.RedactedText != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, out.RedactedText)
			}
		})
	}
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema(extractionShape{})
	if schema == nil {
		t.Fatal("expected a schema")
	}
	// Pointer input resolves to the same element type.
	if GenerateSchema(&extractionShape{}) == nil {
		t.Fatal("expected a schema for pointer input")
	}
}

func TestTruncateTokens_NoLimit(t *testing.T) {
	if got := TruncateTokens("unchanged", 0); got != "unchanged" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
