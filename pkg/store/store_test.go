package store

import (
	"strings"
	"testing"
)

func TestMatchesAgreement(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			name: "exact keyword",
			text: "agreed",
			want: true,
		},
		{
			name: "keyword inside sentence",
			text: "I agree, let's ship Friday",
			want: true,
		},
		{
			name: "case insensitive",
			text: "Sounds Good to me",
			want: true,
		},
		{
			name: "no keyword",
			text: "what is the deployment plan?",
			want: false,
		},
		{
			name: "too long",
			text: "I agree with everything said here, " + strings.Repeat("really ", 20) + "everything",
			want: false,
		},
		{
			name: "empty text",
			text: "",
			want: false,
		},
		{
			// 127 characters but well over 150 bytes; the cutoff counts
			// characters like the SQL length().
			name: "multibyte text under the character cutoff",
			text: strings.Repeat("ü", 120) + " agreed",
			want: true,
		},
		{
			name: "multibyte text over the character cutoff",
			text: strings.Repeat("ü", 150) + " agreed",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchesAgreement(tt.text, DefaultAgreementKeywords)
			if got != tt.want {
				t.Fatalf("MatchesAgreement(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDecisionAndTaskKeys(t *testing.T) {
	if got := DecisionKey("e1", 0); got != "e1-decision-0" {
		t.Fatalf("unexpected decision key: %q", got)
	}
	if got := TaskKey("e1", 2); got != "e1-task-2" {
		t.Fatalf("unexpected task key: %q", got)
	}
}
