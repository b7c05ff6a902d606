package normalize

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/contextiq/backend/pkg/common"
)

// Per-source mappers turn raw connector payloads into canonical events.
// Each source owns its natural-key scheme; the id must be reproducible
// from the payload so retried deliveries collapse onto the same event.

type SlackMessage struct {
	ChannelID   string          `json:"channel_id"`
	ChannelName string          `json:"channel_name"`
	UserID      string          `json:"user"`
	UserName    string          `json:"user_name"`
	Text        string          `json:"text"`
	TS          string          `json:"ts"`
	BotID       string          `json:"bot_id"`
	Raw         json.RawMessage `json:"raw"`
}

// FromSlack maps one Slack message. Bot-authored messages are skipped.
// The natural key is "slack-{channel_id}-{ts}".
func FromSlack(msg SlackMessage) (common.CanonicalEvent, error) {
	if msg.BotID != "" {
		return common.CanonicalEvent{}, ErrSkipRecord
	}
	if msg.ChannelID == "" || msg.TS == "" {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "slack",
			Reason: "missing channel_id or ts",
		}
	}
	tsFloat, err := strconv.ParseFloat(msg.TS, 64)
	if err != nil {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "slack",
			Reason: "bad ts " + msg.TS,
		}
	}
	userID := msg.UserID
	if userID == "" {
		userID = "unknown"
	}
	userName := msg.UserName
	if userName == "" {
		userName = userID
	}
	sec := int64(tsFloat)
	nsec := int64((tsFloat - float64(sec)) * 1e9)

	event := common.CanonicalEvent{
		ID:         fmt.Sprintf("slack-%s-%s", msg.ChannelID, msg.TS),
		Source:     common.SourceSlack,
		Channel:    "#" + msg.ChannelName,
		UserID:     userID,
		UserName:   userName,
		Text:       msg.Text,
		Timestamp:  time.Unix(sec, nsec).UTC(),
		RawPayload: msg.Raw,
	}
	return event, Validate(event)
}

type DiscordMessage struct {
	GuildID     string          `json:"guild_id"`
	GuildName   string          `json:"guild_name"`
	ChannelID   string          `json:"channel_id"`
	ChannelName string          `json:"channel_name"`
	MessageID   string          `json:"message_id"`
	AuthorID    string          `json:"author_id"`
	AuthorName  string          `json:"author_name"`
	AuthorBot   bool            `json:"author_bot"`
	Content     string          `json:"content"`
	CreatedAt   string          `json:"created_at"`
	Raw         json.RawMessage `json:"raw"`
}

// FromDiscord maps one Discord message. The natural key is
// "discord-{guild}-{channel}-{message}".
func FromDiscord(msg DiscordMessage) (common.CanonicalEvent, error) {
	if msg.AuthorBot {
		return common.CanonicalEvent{}, ErrSkipRecord
	}
	if msg.GuildID == "" || msg.ChannelID == "" || msg.MessageID == "" {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "discord",
			Reason: "missing guild_id, channel_id or message_id",
		}
	}
	ts, err := parseTimestamp("discord", msg.CreatedAt)
	if err != nil {
		return common.CanonicalEvent{}, err
	}

	event := common.CanonicalEvent{
		ID:         fmt.Sprintf("discord-%s-%s-%s", msg.GuildID, msg.ChannelID, msg.MessageID),
		Source:     common.SourceDiscord,
		Channel:    fmt.Sprintf("%s#%s", msg.GuildName, msg.ChannelName),
		UserID:     msg.AuthorID,
		UserName:   msg.AuthorName,
		Text:       msg.Content,
		Timestamp:  ts,
		RawPayload: msg.Raw,
	}
	return event, Validate(event)
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

type TeamsMessage struct {
	TeamID          string          `json:"team_id"`
	TeamName        string          `json:"team_name"`
	ChannelID       string          `json:"channel_id"`
	ChannelName     string          `json:"channel_name"`
	MessageID       string          `json:"id"`
	FromUserID      string          `json:"from_user_id"`
	FromUserName    string          `json:"from_user_name"`
	BodyContent     string          `json:"body_content"`
	CreatedDateTime string          `json:"created_date_time"`
	Raw             json.RawMessage `json:"raw"`
}

// FromTeams maps one Teams channel message. Teams bodies arrive as HTML;
// tags are stripped before canonicalization.
func FromTeams(msg TeamsMessage) (common.CanonicalEvent, error) {
	if msg.TeamID == "" || msg.ChannelID == "" || msg.MessageID == "" {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "teams",
			Reason: "missing team_id, channel_id or id",
		}
	}
	ts, err := parseTimestamp("teams", msg.CreatedDateTime)
	if err != nil {
		return common.CanonicalEvent{}, err
	}
	userID := msg.FromUserID
	if userID == "" {
		userID = "unknown"
	}
	userName := msg.FromUserName
	if userName == "" {
		userName = "Unknown User"
	}

	event := common.CanonicalEvent{
		ID:         fmt.Sprintf("teams-%s-%s-%s", msg.TeamID, msg.ChannelID, msg.MessageID),
		Source:     common.SourceTeams,
		Channel:    fmt.Sprintf("%s#%s", msg.TeamName, msg.ChannelName),
		UserID:     userID,
		UserName:   userName,
		Text:       strings.TrimSpace(htmlTagRe.ReplaceAllString(msg.BodyContent, "")),
		Timestamp:  ts,
		RawPayload: msg.Raw,
	}
	return event, Validate(event)
}

type EmailMessage struct {
	MessageID string          `json:"message_id"`
	Subject   string          `json:"subject"`
	From      string          `json:"from"`
	Date      string          `json:"date"`
	Body      string          `json:"body"`
	Raw       json.RawMessage `json:"raw"`
}

// FromEmail maps one email. The sender address is the user id; the
// display part of "Name <addr>" becomes the user name.
func FromEmail(msg EmailMessage) (common.CanonicalEvent, error) {
	if msg.MessageID == "" {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "email",
			Reason: "missing message_id",
		}
	}
	ts, err := parseTimestamp("email", msg.Date)
	if err != nil {
		return common.CanonicalEvent{}, err
	}
	subject := msg.Subject
	if subject == "" {
		subject = "No Subject"
	}
	from := msg.From
	if from == "" {
		from = "Unknown"
	}
	userName := from
	if idx := strings.Index(from, "<"); idx > 0 {
		userName = strings.ReplaceAll(strings.TrimSpace(from[:idx]), `"`, "")
	}

	event := common.CanonicalEvent{
		ID:         "gmail-" + msg.MessageID,
		Source:     common.SourceEmail,
		Channel:    "email",
		UserID:     from,
		UserName:   userName,
		Text:       fmt.Sprintf("Subject: %s\n\n%s", subject, msg.Body),
		Timestamp:  ts,
		RawPayload: msg.Raw,
	}
	return event, Validate(event)
}

type GDocsDocument struct {
	FileID       string          `json:"file_id"`
	FileName     string          `json:"file_name"`
	FolderID     string          `json:"folder_id"`
	Text         string          `json:"text"`
	OwnerName    string          `json:"owner_name"`
	OwnerEmail   string          `json:"owner_email"`
	ModifiedTime string          `json:"modified_time"`
	Raw          json.RawMessage `json:"raw"`
}

// FromGDocs maps one Google Docs revision snapshot.
func FromGDocs(doc GDocsDocument) (common.CanonicalEvent, error) {
	if doc.FileID == "" {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "gdocs",
			Reason: "missing file_id",
		}
	}
	ts, err := parseTimestamp("gdocs", doc.ModifiedTime)
	if err != nil {
		return common.CanonicalEvent{}, err
	}
	ownerEmail := doc.OwnerEmail
	if ownerEmail == "" {
		ownerEmail = "unknown@example.com"
	}
	ownerName := doc.OwnerName
	if ownerName == "" {
		ownerName = "Unknown"
	}

	event := common.CanonicalEvent{
		ID:         "gdocs-" + doc.FileID,
		Source:     common.SourceGDocs,
		Channel:    "folder-" + doc.FolderID,
		UserID:     ownerEmail,
		UserName:   ownerName,
		Text:       fmt.Sprintf("Document: %s\n\n%s", doc.FileName, doc.Text),
		Timestamp:  ts,
		RawPayload: doc.Raw,
	}
	return event, Validate(event)
}

type NotionPage struct {
	PageID         string          `json:"page_id"`
	DatabaseID     string          `json:"database_id"`
	Title          string          `json:"title"`
	Text           string          `json:"text"`
	CreatedBy      string          `json:"created_by"`
	LastEditedTime string          `json:"last_edited_time"`
	Raw            json.RawMessage `json:"raw"`
}

// FromNotion maps one Notion page edit.
func FromNotion(page NotionPage) (common.CanonicalEvent, error) {
	if page.PageID == "" {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "notion",
			Reason: "missing page_id",
		}
	}
	ts, err := parseTimestamp("notion", page.LastEditedTime)
	if err != nil {
		return common.CanonicalEvent{}, err
	}
	title := page.Title
	if title == "" {
		title = "No Title"
	}
	userID := page.CreatedBy
	if userID == "" {
		userID = "unknown"
	}

	event := common.CanonicalEvent{
		ID:         "notion-" + page.PageID,
		Source:     common.SourceNotion,
		Channel:    "db-" + page.DatabaseID,
		UserID:     userID,
		UserName:   userID,
		Text:       fmt.Sprintf("Notion Page: %s\n\n%s", title, page.Text),
		Timestamp:  ts,
		RawPayload: page.Raw,
	}
	return event, Validate(event)
}

type JiraIssue struct {
	IssueID      string          `json:"issue_id"`
	ProjectKey   string          `json:"project_key"`
	Summary      string          `json:"summary"`
	Description  string          `json:"description"`
	AssigneeID   string          `json:"assignee_id"`
	AssigneeName string          `json:"assignee_name"`
	UpdatedAt    string          `json:"updated_at"`
	Raw          json.RawMessage `json:"raw"`
}

// FromJira maps one Jira issue update.
func FromJira(issue JiraIssue) (common.CanonicalEvent, error) {
	if issue.IssueID == "" {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "jira",
			Reason: "missing issue_id",
		}
	}
	ts, err := parseTimestamp("jira", issue.UpdatedAt)
	if err != nil {
		return common.CanonicalEvent{}, err
	}
	assigneeID := issue.AssigneeID
	if assigneeID == "" {
		assigneeID = "unassigned"
	}

	event := common.CanonicalEvent{
		ID:         "jira-" + issue.IssueID,
		Source:     common.SourceJira,
		Channel:    "project-" + issue.ProjectKey,
		UserID:     assigneeID,
		UserName:   issue.AssigneeName,
		Text:       fmt.Sprintf("Jira Issue: %s\n\n%s", issue.Summary, issue.Description),
		Timestamp:  ts,
		RawPayload: issue.Raw,
	}
	return event, Validate(event)
}

type MeetingTranscript struct {
	FileName     string          `json:"file_name"`
	Text         string          `json:"text"`
	TranscribedA string          `json:"transcribed_at"`
	Raw          json.RawMessage `json:"raw"`
}

// FromMeetingTranscript maps one transcribed meeting recording. The
// transcription time is part of the key so re-uploads of the same file
// produce distinct events.
func FromMeetingTranscript(t MeetingTranscript) (common.CanonicalEvent, error) {
	if t.FileName == "" {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "zoom",
			Reason: "missing file_name",
		}
	}
	ts, err := parseTimestamp("zoom", t.TranscribedA)
	if err != nil {
		return common.CanonicalEvent{}, err
	}

	event := common.CanonicalEvent{
		ID:         fmt.Sprintf("audio-%s-%d", t.FileName, ts.Unix()),
		Source:     common.SourceZoom,
		Channel:    "meeting-" + t.FileName,
		UserID:     "transcriber",
		UserName:   "Meeting AI",
		Text:       t.Text,
		Timestamp:  ts,
		RawPayload: t.Raw,
	}
	return event, Validate(event)
}

type LocalFile struct {
	FilePath     string          `json:"file_path"`
	FileName     string          `json:"file_name"`
	Text         string          `json:"text"`
	ModifiedTime string          `json:"modified_time"`
	Raw          json.RawMessage `json:"raw"`
}

// FromLocalFile maps one uploaded document. The path hash keys the
// event, so re-scanning the same file updates instead of duplicating.
func FromLocalFile(f LocalFile) (common.CanonicalEvent, error) {
	if f.FilePath == "" {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "local_files",
			Reason: "missing file_path",
		}
	}
	ts, err := parseTimestamp("local_files", f.ModifiedTime)
	if err != nil {
		return common.CanonicalEvent{}, err
	}

	event := common.CanonicalEvent{
		ID:         fmt.Sprintf("file-%x", md5.Sum([]byte(f.FilePath))),
		Source:     common.SourceLocalFiles,
		Channel:    "uploads",
		UserID:     "file_system",
		UserName:   "Local Upload",
		Text:       fmt.Sprintf("Document: %s\n\n%s", f.FileName, f.Text),
		Timestamp:  ts,
		RawPayload: f.Raw,
	}
	return event, Validate(event)
}
