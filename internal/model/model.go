// Package model holds the persistent entities shared by the reminder,
// notification, and realtime layers.
package model

import (
	"encoding/json"
	"time"
)

// ReminderStatus is the lifecycle state of a reminder.
//
// The transition graph is strictly one-way:
//
//	scheduled -> delivered
//	scheduled -> cancelled
//
// A delivered or cancelled reminder never returns to scheduled, and rows are
// kept forever as an audit trail.
type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderDelivered ReminderStatus = "delivered"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Reminder is a scheduled intent to notify a user at a future instant,
// optionally tied to a task or an event (at most one of TaskID/EventID is set).
type Reminder struct {
	ID          string         `db:"id" json:"id"`
	WorkspaceID string         `db:"workspace_id" json:"workspaceId"`
	UserID      string         `db:"user_id" json:"userId"`
	TaskID      *string        `db:"task_id" json:"taskId"`
	EventID     *string        `db:"event_id" json:"eventId"`
	RemindAt    time.Time      `db:"remind_at" json:"remindAt"`
	Label       *string        `db:"label" json:"label"`
	Status      ReminderStatus `db:"status" json:"status"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	DeliveredAt *time.Time     `db:"delivered_at" json:"deliveredAt"`
}

// NotificationType classifies a notification for client rendering.
type NotificationType string

const (
	NotificationMention  NotificationType = "mention"
	NotificationAssigned NotificationType = "assigned"
	NotificationReminder NotificationType = "reminder"
	NotificationSystem   NotificationType = "system"
)

// Notification is one entry in a user's durable inbox. Data carries an opaque
// structured payload (e.g. {"taskId": "..."}) stored as JSON.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	WorkspaceID string           `db:"workspace_id" json:"workspaceId"`
	UserID      string           `db:"user_id" json:"userId"`
	Type        NotificationType `db:"type" json:"type"`
	Title       string           `db:"title" json:"title"`
	Body        *string          `db:"body" json:"body"`
	Data        json.RawMessage  `db:"data" json:"data"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	ReadAt      *time.Time       `db:"read_at" json:"readAt"`
}

// Unread reports whether the notification has not been marked read yet.
func (n Notification) Unread() bool { return n.ReadAt == nil }
