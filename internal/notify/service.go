// Package notify owns the durable per-user notification inbox and the
// helpers the delivery workflows use to write into it.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"beacon/internal/model"
	"beacon/internal/storage"
	"beacon/pkg/logx"
)

// ErrNotFound reports a notification that does not exist or belongs to
// another user; the two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("notification not found")

// ErrInvalidInput reports a create call with missing required fields.
var ErrInvalidInput = errors.New("invalid notification input")

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

type Service struct {
	store *storage.NotificationStore
	log   logx.Logger
}

func New(store *storage.NotificationStore, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// CreateInput describes one notification to persist. Data is marshaled to
// JSON and stored opaque.
type CreateInput struct {
	WorkspaceID string
	UserID      string
	Type        model.NotificationType
	Title       string
	Body        *string
	Data        any
}

func (s *Service) Create(ctx context.Context, in CreateInput) (model.Notification, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.Title) == "" {
		return model.Notification{}, ErrInvalidInput
	}
	n := model.Notification{
		ID:          uuid.NewString(),
		WorkspaceID: in.WorkspaceID,
		UserID:      in.UserID,
		Type:        in.Type,
		Title:       in.Title,
		Body:        in.Body,
		CreatedAt:   time.Now().UTC(),
	}
	if in.Data != nil {
		b, err := json.Marshal(in.Data)
		if err != nil {
			return model.Notification{}, fmt.Errorf("marshal notification data: %w", err)
		}
		n.Data = b
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return model.Notification{}, err
	}
	s.log.Debug("notification created",
		logx.String("id", n.ID),
		logx.String("user", n.UserID),
		logx.String("type", string(n.Type)))
	return n, nil
}

type ListOptions struct {
	UnreadOnly bool
	Limit      int
}

// ListForUser returns the user's inbox newest first. The default page is 50,
// capped at 100.
func (s *Service) ListForUser(ctx context.Context, userID string, opts ListOptions) ([]model.Notification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListForUser(ctx, userID, opts.UnreadOnly, limit)
}

// MarkRead sets readAt on one notification. Idempotent: re-marking an
// already-read notification succeeds and returns the unchanged row.
func (s *Service) MarkRead(ctx context.Context, userID, id string) (model.Notification, error) {
	n, err := s.store.MarkRead(ctx, userID, id, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return model.Notification{}, ErrNotFound
	}
	return n, err
}

// MarkAllRead marks every unread notification read and returns the count.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllRead(ctx, userID, time.Now().UTC())
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// ---- Typed helpers used by the delivery workflows ----

func (s *Service) NotifyMention(ctx context.Context, workspaceID, userID, mentionerName, taskTitle, taskID string) (model.Notification, error) {
	body := "In task: " + taskTitle
	return s.Create(ctx, CreateInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Type:        model.NotificationMention,
		Title:       mentionerName + " mentioned you",
		Body:        &body,
		Data:        map[string]string{"taskId": taskID},
	})
}

func (s *Service) NotifyAssignment(ctx context.Context, workspaceID, userID, assignerName, taskTitle, taskID string) (model.Notification, error) {
	return s.Create(ctx, CreateInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Type:        model.NotificationAssigned,
		Title:       assignerName + " assigned you a task",
		Body:        &taskTitle,
		Data:        map[string]string{"taskId": taskID},
	})
}

func (s *Service) NotifyReminder(ctx context.Context, workspaceID, userID, title, body string, data map[string]string) (model.Notification, error) {
	return s.Create(ctx, CreateInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Type:        model.NotificationReminder,
		Title:       title,
		Body:        &body,
		Data:        data,
	})
}
