package normalize

import (
	"crypto/md5"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/contextiq/backend/pkg/common"
)

func TestNormalize_ValidPayload(t *testing.T) {
	payload := []byte(`{
		"id": "slack-C1-1717322400.000100",
		"source": "slack",
		"channel": "#eng",
		"user_id": "u1",
		"user_name": "Alice",
		"text": "ship it",
		"timestamp": "2025-06-02T10:00:00Z"
	}`)

	event, err := Normalize(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != "slack-C1-1717322400.000100" || event.Source != common.SourceSlack {
		t.Fatalf("unexpected event: %+v", event)
	}
	if !event.Timestamp.Equal(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", event.Timestamp)
	}
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{not json`},
		{"unknown source", `{"id":"x","source":"carrier_pigeon","user_id":"u1","text":"hi","timestamp":"2025-06-02T10:00:00Z"}`},
		{"empty id", `{"id":"","source":"slack","user_id":"u1","text":"hi","timestamp":"2025-06-02T10:00:00Z"}`},
		{"whitespace id", `{"id":"   ","source":"slack","user_id":"u1","text":"hi","timestamp":"2025-06-02T10:00:00Z"}`},
		{"empty text", `{"id":"x","source":"slack","user_id":"u1","text":"","timestamp":"2025-06-02T10:00:00Z"}`},
		{"empty user_id", `{"id":"x","source":"slack","user_id":"","text":"hi","timestamp":"2025-06-02T10:00:00Z"}`},
		{"missing timestamp", `{"id":"x","source":"slack","user_id":"u1","text":"hi"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.payload))
			var malformed *common.MalformedSourceRecordError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedSourceRecordError, got %v", err)
			}
		})
	}
}

func TestNormalizeBatch_IsolatesMalformedElements(t *testing.T) {
	payload := []byte(`[
		{"id":"e1","source":"slack","channel":"#eng","user_id":"u1","text":"first","timestamp":"2025-06-02T10:00:00Z"},
		{"id":"","source":"slack","user_id":"u1","text":"bad","timestamp":"2025-06-02T10:00:00Z"},
		{"id":"e3","source":"jira","user_id":"u2","text":"third","timestamp":"2025-06-02T10:01:00Z"}
	]`)

	events, errs := NormalizeBatch(payload)
	if len(events) != 2 || len(errs) != 1 {
		t.Fatalf("expected 2 events and 1 error, got %d and %d", len(events), len(errs))
	}
	if events[0].ID != "e1" || events[1].ID != "e3" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestNormalizeBatch_NotAnArray(t *testing.T) {
	_, errs := NormalizeBatch([]byte(`{"id":"e1"}`))
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
}

func TestFromSlack(t *testing.T) {
	event, err := FromSlack(SlackMessage{
		ChannelID:   "C1",
		ChannelName: "eng",
		UserID:      "u1",
		UserName:    "Alice",
		Text:        "ship it",
		TS:          "1748858400.000100",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != "slack-C1-1748858400.000100" {
		t.Fatalf("unexpected natural key: %q", event.ID)
	}
	if event.Channel != "#eng" || event.Source != common.SourceSlack {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Timestamp.Unix() != 1748858400 {
		t.Fatalf("unexpected timestamp: %v", event.Timestamp)
	}
}

func TestFromSlack_BotMessagesSkipped(t *testing.T) {
	_, err := FromSlack(SlackMessage{
		ChannelID: "C1",
		BotID:     "B42",
		Text:      "automated reply",
		TS:        "1748858400.000100",
	})
	if !errors.Is(err, ErrSkipRecord) {
		t.Fatalf("expected ErrSkipRecord, got %v", err)
	}
}

func TestFromSlack_BadTimestamp(t *testing.T) {
	_, err := FromSlack(SlackMessage{ChannelID: "C1", UserID: "u1", Text: "hi", TS: "not-a-ts"})
	var malformed *common.MalformedSourceRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedSourceRecordError, got %v", err)
	}
}

func TestFromDiscord(t *testing.T) {
	event, err := FromDiscord(DiscordMessage{
		GuildID:     "g1",
		GuildName:   "acme",
		ChannelID:   "c1",
		ChannelName: "general",
		MessageID:   "m1",
		AuthorID:    "a1",
		AuthorName:  "Bob",
		Content:     "hello",
		CreatedAt:   "2025-06-02T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != "discord-g1-c1-m1" || event.Channel != "acme#general" {
		t.Fatalf("unexpected event: %+v", event)
	}

	_, err = FromDiscord(DiscordMessage{
		GuildID: "g1", ChannelID: "c1", MessageID: "m2",
		AuthorBot: true, Content: "beep", CreatedAt: "2025-06-02T10:00:00Z",
	})
	if !errors.Is(err, ErrSkipRecord) {
		t.Fatalf("expected ErrSkipRecord for bot author, got %v", err)
	}
}

func TestFromTeams_StripsHTML(t *testing.T) {
	event, err := FromTeams(TeamsMessage{
		TeamID:          "t1",
		TeamName:        "acme",
		ChannelID:       "c1",
		ChannelName:     "general",
		MessageID:       "m1",
		FromUserID:      "u1",
		FromUserName:    "Cara",
		BodyContent:     "<p>Let's <b>ship</b> on Friday</p>",
		CreatedDateTime: "2025-06-02T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Text != "Let's ship on Friday" {
		t.Fatalf("expected tags stripped, got %q", event.Text)
	}
	if event.ID != "teams-t1-c1-m1" {
		t.Fatalf("unexpected natural key: %q", event.ID)
	}
}

func TestFromEmail(t *testing.T) {
	event, err := FromEmail(EmailMessage{
		MessageID: "abc123",
		Subject:   "Launch plan",
		From:      `"Dana Smith" <dana@example.com>`,
		Date:      "2025-06-02T10:00:00Z",
		Body:      "Here is the plan.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != "gmail-abc123" {
		t.Fatalf("unexpected natural key: %q", event.ID)
	}
	if event.UserName != "Dana Smith" {
		t.Fatalf("expected display name parsed from From, got %q", event.UserName)
	}
	if event.Text != "Subject: Launch plan\n\nHere is the plan." {
		t.Fatalf("unexpected text: %q", event.Text)
	}
}

func TestFromJira(t *testing.T) {
	event, err := FromJira(JiraIssue{
		IssueID:      "PROJ-42",
		ProjectKey:   "PROJ",
		Summary:      "Fix login",
		Description:  "Users cannot log in.",
		AssigneeID:   "u1",
		AssigneeName: "Alice",
		UpdatedAt:    "2025-06-02T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != "jira-PROJ-42" || event.Channel != "project-PROJ" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestFromMeetingTranscript_KeyIncludesTime(t *testing.T) {
	event, err := FromMeetingTranscript(MeetingTranscript{
		FileName:     "standup.mp4",
		Text:         "We discussed the launch.",
		TranscribedA: "2025-06-02T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := fmt.Sprintf("audio-standup.mp4-%d", event.Timestamp.Unix())
	if event.ID != want {
		t.Fatalf("unexpected natural key: %q", event.ID)
	}
}

func TestFromLocalFile_KeyIsPathHash(t *testing.T) {
	event, err := FromLocalFile(LocalFile{
		FilePath:     "/docs/plan.md",
		FileName:     "plan.md",
		Text:         "The plan.",
		ModifiedTime: "2025-06-02T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := fmt.Sprintf("file-%x", md5.Sum([]byte("/docs/plan.md")))
	if event.ID != want {
		t.Fatalf("unexpected natural key: %q", event.ID)
	}

	// Same path again maps onto the same event.
	again, err := FromLocalFile(LocalFile{
		FilePath:     "/docs/plan.md",
		FileName:     "plan.md",
		Text:         "The revised plan.",
		ModifiedTime: "2025-06-03T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.ID != event.ID {
		t.Fatalf("re-scan must keep the key, got %q vs %q", again.ID, event.ID)
	}
}
