// Package normalize converts source-specific payloads into canonical
// events. Normalization is pure: no store access, no collaborator
// calls. Malformed records are rejected before they enter the pipeline.
package normalize

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/contextiq/backend/pkg/common"

	"github.com/go-playground/validator"
)

// ErrSkipRecord marks records that are well-formed but intentionally
// not ingested, such as bot-authored chat messages.
var ErrSkipRecord = errors.New("record skipped")

var validate = validator.New()

// Normalize parses and validates a payload already in the canonical
// event shape. The id must be non-empty, the source must be one of the
// known origins, and text and timestamp must be present.
func Normalize(payload []byte) (common.CanonicalEvent, error) {
	var event common.CanonicalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return common.CanonicalEvent{}, &common.MalformedSourceRecordError{
			Source: "unknown",
			Reason: "invalid JSON: " + err.Error(),
		}
	}
	if err := Validate(event); err != nil {
		return common.CanonicalEvent{}, err
	}
	return event, nil
}

// Validate checks an already-constructed event against the canonical
// contract. Used both by Normalize and by the per-source mappers.
func Validate(event common.CanonicalEvent) error {
	source := string(event.Source)
	if source == "" {
		source = "unknown"
	}
	if _, ok := common.ParseSource(source); !ok {
		return &common.MalformedSourceRecordError{
			Source: source,
			Reason: "unknown source " + source,
		}
	}
	if strings.TrimSpace(event.ID) == "" {
		return &common.MalformedSourceRecordError{Source: source, Reason: "empty id"}
	}
	if strings.TrimSpace(event.Text) == "" {
		return &common.MalformedSourceRecordError{Source: source, Reason: "empty text"}
	}
	if event.Timestamp.IsZero() {
		return &common.MalformedSourceRecordError{Source: source, Reason: "missing timestamp"}
	}
	if strings.TrimSpace(event.UserID) == "" {
		return &common.MalformedSourceRecordError{Source: source, Reason: "empty user_id"}
	}
	if err := validate.Struct(event); err != nil {
		return &common.MalformedSourceRecordError{Source: source, Reason: err.Error()}
	}
	return nil
}

// NormalizeBatch parses a JSON array of canonical events. Malformed
// elements are collected as errors while well-formed ones pass through,
// so one bad record never rejects a whole webhook delivery.
func NormalizeBatch(payload []byte) ([]common.CanonicalEvent, []error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(payload, &raws); err != nil {
		return nil, []error{&common.MalformedSourceRecordError{
			Source: "unknown",
			Reason: "invalid JSON array: " + err.Error(),
		}}
	}

	events := make([]common.CanonicalEvent, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		event, err := Normalize(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, event)
	}
	return events, errs
}

func parseTimestamp(source, value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &common.MalformedSourceRecordError{
			Source: source,
			Reason: "bad timestamp " + value,
		}
	}
	return ts, nil
}
