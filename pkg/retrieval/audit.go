package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/contextiq/backend/pkg/logger"
)

// ActionViewRawPII marks a disclosure of unredacted event text.
const ActionViewRawPII = "VIEW_RAW_PII"

// AccessRecord is one auditable disclosure. Every raw-text disclosure
// produces exactly one record.
type AccessRecord struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Role      string    `json:"role"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditLogger receives access records. Delivery is fire and forget;
// a failed record is logged by the engine, never surfaced to the
// querying caller.
type AuditLogger interface {
	Record(ctx context.Context, record AccessRecord) error
}

// LogAuditLogger writes access records to the process log. It is the
// default sink when no external audit collaborator is wired.
type LogAuditLogger struct{}

func (LogAuditLogger) Record(_ context.Context, record AccessRecord) error {
	logger.Info("[Audit] Raw text disclosed",
		"record_id", record.ID,
		"event_id", record.EventID,
		"role", record.Role,
		"action", record.Action,
	)
	return nil
}

// MockAuditLogger records access records in memory for tests.
type MockAuditLogger struct {
	// RecordFunc overrides the default recording behavior when set.
	RecordFunc func(ctx context.Context, record AccessRecord) error

	mu      sync.Mutex
	records []AccessRecord
}

func (m *MockAuditLogger) Record(ctx context.Context, record AccessRecord) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *MockAuditLogger) Records() []AccessRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AccessRecord, len(m.records))
	copy(out, m.records)
	return out
}
