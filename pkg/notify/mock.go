package notify

import (
	"context"
	"sync"
)

// MockNotifier records published notifications for tests.
type MockNotifier struct {
	// PublishFunc overrides the default recording behavior when set.
	PublishFunc func(ctx context.Context, notification Notification) error

	mu        sync.Mutex
	published []Notification
}

func (m *MockNotifier) Publish(ctx context.Context, notification Notification) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, notification)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, notification)
	return nil
}

// Published returns a copy of everything recorded so far.
func (m *MockNotifier) Published() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}
