// Package notify is the outbound notification boundary of the pipeline.
// Delivery is fire and forget: the contract ends once the enqueue was
// accepted, and callers are expected to log failures rather than abort.
package notify

import (
	"context"
	"time"
)

const (
	TypeNewTask    = "NEW_TASK"
	TypeTaskUpdate = "TASK_UPDATE"
)

// Notification is the payload sent to assignees when the relationship
// builder assigns a task or a task changes status.
type Notification struct {
	Type       string    `json:"type"`
	TaskID     string    `json:"task_id"`
	TaskText   string    `json:"task_text"`
	TaskStatus string    `json:"task_status"`
	AssigneeID string    `json:"assignee_id"`
	Timestamp  time.Time `json:"timestamp"`
}

type Notifier interface {
	Publish(ctx context.Context, notification Notification) error
}
