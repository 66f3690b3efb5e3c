// Package reminder is the authoritative state machine for scheduled
// reminders. It persists intent, delegates timing to the delayed execution
// queue, and resolves the cancel-vs-deliver race through conditional status
// transitions: whichever side flips the row away from scheduled first wins.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"beacon/internal/model"
	"beacon/internal/storage"
	"beacon/pkg/logx"
)

// JobKind tags reminder deliveries in the queue backlog.
const JobKind = "reminder.deliver"

// JobKey returns the stable queue key for a reminder. One reminder id maps to
// at most one live queued execution.
func JobKey(reminderID string) string { return "reminder:" + reminderID }

type jobPayload struct {
	ReminderID string `json:"reminderId"`
}

// Scheduler is the slice of the queue service the reminder store needs.
type Scheduler interface {
	Schedule(ctx context.Context, jobKey, kind string, payload []byte, delay time.Duration) error
	Remove(ctx context.Context, jobKey string) (bool, error)
}

type Service struct {
	store *storage.ReminderStore
	queue Scheduler
	log   logx.Logger
}

func NewService(store *storage.ReminderStore, queue Scheduler, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, queue: queue, log: log}
}

// CreateInput describes a reminder to schedule. At most one of TaskID and
// EventID may be set; neither makes a free-standing reminder.
type CreateInput struct {
	WorkspaceID string
	UserID      string
	TaskID      *string
	EventID     *string
	RemindAt    time.Time
	Label       *string
}

// Create persists a scheduled reminder and enqueues its delivery job. A
// remindAt in the past is accepted and fires on the next processing cycle.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.Reminder, error) {
	if strings.TrimSpace(in.WorkspaceID) == "" || strings.TrimSpace(in.UserID) == "" {
		return model.Reminder{}, fmt.Errorf("%w: workspace and user are required", ErrInvalidInput)
	}
	if in.RemindAt.IsZero() {
		return model.Reminder{}, fmt.Errorf("%w: remindAt is required", ErrInvalidInput)
	}
	if in.TaskID != nil && in.EventID != nil {
		return model.Reminder{}, fmt.Errorf("%w: a reminder targets a task or an event, not both", ErrInvalidInput)
	}

	r := model.Reminder{
		ID:          uuid.NewString(),
		WorkspaceID: in.WorkspaceID,
		UserID:      in.UserID,
		TaskID:      in.TaskID,
		EventID:     in.EventID,
		RemindAt:    in.RemindAt.UTC(),
		Label:       in.Label,
		Status:      model.ReminderScheduled,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return model.Reminder{}, err
	}

	payload, _ := json.Marshal(jobPayload{ReminderID: r.ID})
	delay := time.Until(r.RemindAt)
	if delay < 0 {
		delay = 0
	}
	if err := s.queue.Schedule(ctx, JobKey(r.ID), JobKind, payload, delay); err != nil {
		return model.Reminder{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	s.log.Debug("reminder scheduled",
		logx.String("id", r.ID),
		logx.String("user", r.UserID),
		logx.Time("remind_at", r.RemindAt))
	return r, nil
}

// RemindAtFromDue computes the fire time for a "minutes before" reminder.
// The arithmetic is exact to the minute.
func RemindAtFromDue(dueAt time.Time, minutesBefore int) (time.Time, error) {
	if minutesBefore < 0 {
		return time.Time{}, fmt.Errorf("%w: minutesBefore must be >= 0", ErrInvalidInput)
	}
	return dueAt.Add(-time.Duration(minutesBefore) * time.Minute), nil
}

// CreateForTask derives a reminder from a task's due date.
func (s *Service) CreateForTask(ctx context.Context, workspaceID, userID, taskID string, dueAt time.Time, minutesBefore int) (model.Reminder, error) {
	remindAt, err := RemindAtFromDue(dueAt, minutesBefore)
	if err != nil {
		return model.Reminder{}, err
	}
	label := fmt.Sprintf("%d minutes before due", minutesBefore)
	return s.Create(ctx, CreateInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		TaskID:      &taskID,
		RemindAt:    remindAt,
		Label:       &label,
	})
}

// CreateForEvent derives a reminder from an event's start time.
func (s *Service) CreateForEvent(ctx context.Context, workspaceID, userID, eventID string, startAt time.Time, minutesBefore int) (model.Reminder, error) {
	remindAt, err := RemindAtFromDue(startAt, minutesBefore)
	if err != nil {
		return model.Reminder{}, err
	}
	label := fmt.Sprintf("%d minutes before event", minutesBefore)
	return s.Create(ctx, CreateInput{
		WorkspaceID: workspaceID,
		UserID:      userID,
		EventID:     &eventID,
		RemindAt:    remindAt,
		Label:       &label,
	})
}

// Cancel transitions a caller-owned reminder out of the scheduled state and
// removes its queued job best-effort. From the caller's point of view a
// cancel never fails once ownership is established: a reminder that already
// delivered (or was already cancelled) is left as-is, and a job removal that
// finds nothing is normal: the delivery may have raced ahead, in which case
// the processor's status check already settled who won.
func (s *Service) Cancel(ctx context.Context, userID, reminderID string) error {
	if _, err := s.store.GetForUser(ctx, userID, reminderID); err != nil {
		if err == storage.ErrNotFound {
			return ErrNotFound
		}
		return err
	}

	changed, err := s.store.Transition(ctx, reminderID, model.ReminderScheduled, model.ReminderCancelled, nil)
	if err != nil {
		return err
	}
	if !changed {
		s.log.Debug("cancel no-op (already resolved)", logx.String("id", reminderID))
		return nil
	}

	removed, err := s.queue.Remove(ctx, JobKey(reminderID))
	if err != nil {
		// The state transition is committed; a stray job is harmless because
		// the processor re-checks status before acting.
		s.log.Warn("queue removal failed after cancel", logx.String("id", reminderID), logx.Err(err))
		return nil
	}
	s.log.Debug("reminder cancelled", logx.String("id", reminderID), logx.Bool("job_removed", removed))
	return nil
}

// ListScheduledForUser returns the caller's scheduled reminders in a
// workspace, soonest first.
func (s *Service) ListScheduledForUser(ctx context.Context, userID, workspaceID string) ([]model.Reminder, error) {
	return s.store.ListScheduled(ctx, userID, workspaceID)
}

// Get returns a reminder by id regardless of owner (processor use).
func (s *Service) Get(ctx context.Context, id string) (model.Reminder, error) {
	r, err := s.store.Get(ctx, id)
	if err == storage.ErrNotFound {
		return model.Reminder{}, ErrNotFound
	}
	return r, err
}

// MarkDelivered flips scheduled -> delivered and stamps deliveredAt. It
// reports false when the reminder already left the scheduled state.
func (s *Service) MarkDelivered(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	return s.store.Transition(ctx, id, model.ReminderScheduled, model.ReminderDelivered, &now)
}
