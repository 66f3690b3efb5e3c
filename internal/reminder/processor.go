package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"beacon/internal/model"
	"beacon/internal/queue"
	"beacon/internal/storage"
	"beacon/pkg/logx"
)

// TargetResolver looks up display titles for reminder targets.
type TargetResolver interface {
	TaskTitle(ctx context.Context, taskID string) (string, error)
	EventTitle(ctx context.Context, eventID string) (string, error)
}

// Notifier writes the delivered reminder into the recipient's inbox.
type Notifier interface {
	NotifyReminder(ctx context.Context, workspaceID, userID, title, body string, data map[string]string) (model.Notification, error)
}

// Announcer pushes the fresh notification to the recipient's live
// connections. Pushes are fire-and-forget.
type Announcer interface {
	NotificationNew(userID string, n model.Notification)
}

// Processor consumes reminder.deliver jobs. It is the idempotency boundary
// for redelivered jobs: anything not in the scheduled state is discarded
// without side effects, so a duplicate execution or a post-cancel stray job
// produces nothing.
type Processor struct {
	svc      *Service
	resolver TargetResolver
	notifier Notifier
	announce Announcer
	log      logx.Logger
}

func NewProcessor(svc *Service, resolver TargetResolver, notifier Notifier, announce Announcer, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{svc: svc, resolver: resolver, notifier: notifier, announce: announce, log: log}
}

// HandleJob runs one delivery attempt. Returning an error requeues the job,
// so only failures that a retry could fix (storage or resolver I/O) bubble
// up; terminal conditions are logged and acked.
func (p *Processor) HandleJob(ctx context.Context, job queue.Job) error {
	var payload jobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.ReminderID == "" {
		p.log.Warn("malformed reminder job payload", logx.String("key", job.Key))
		return nil
	}

	r, err := p.svc.Get(ctx, payload.ReminderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			p.log.Warn("reminder job for unknown reminder", logx.String("id", payload.ReminderID))
			return nil
		}
		return fmt.Errorf("load reminder %s: %w", payload.ReminderID, err)
	}
	if r.Status != model.ReminderScheduled {
		p.log.Debug("skipping resolved reminder",
			logx.String("id", r.ID),
			logx.String("status", string(r.Status)))
		return nil
	}

	title, body, data, err := p.compose(ctx, r)
	if err != nil {
		return fmt.Errorf("compose reminder %s: %w", r.ID, err)
	}

	n, err := p.notifier.NotifyReminder(ctx, r.WorkspaceID, r.UserID, title, body, data)
	if err != nil {
		return fmt.Errorf("notify for reminder %s: %w", r.ID, err)
	}
	if p.announce != nil {
		p.announce.NotificationNew(r.UserID, n)
	}

	changed, err := p.svc.MarkDelivered(ctx, r.ID)
	if err != nil {
		// The notification exists but the status flip failed; a redelivery
		// would duplicate the notification. Accepted gap, matches the
		// at-least-once contract, so log loudly and ack.
		p.log.Error("reminder delivered but status update failed",
			logx.String("id", r.ID), logx.Err(err))
		return nil
	}
	if !changed {
		p.log.Warn("reminder resolved concurrently after delivery", logx.String("id", r.ID))
		return nil
	}

	p.log.Info("reminder delivered",
		logx.String("id", r.ID),
		logx.String("user", r.UserID),
		logx.Int("attempt", job.Attempt))
	return nil
}

// compose picks the notification title and body from the reminder's target.
// A label always wins as the body; a target that vanished since scheduling
// falls back to the generic form.
func (p *Processor) compose(ctx context.Context, r model.Reminder) (title, body string, data map[string]string, err error) {
	switch {
	case r.TaskID != nil:
		t, err := p.resolver.TaskTitle(ctx, *r.TaskID)
		if err != nil {
			// A target deleted since scheduling degrades to the generic form.
			if errors.Is(err, storage.ErrNotFound) {
				break
			}
			return "", "", nil, err
		}
		title = "Task reminder: " + t
		body = "Don't forget: " + t
		if r.Label != nil && *r.Label != "" {
			body = *r.Label
		}
		return title, body, map[string]string{"taskId": *r.TaskID}, nil
	case r.EventID != nil:
		t, err := p.resolver.EventTitle(ctx, *r.EventID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				break
			}
			return "", "", nil, err
		}
		title = "Event reminder: " + t
		body = "Upcoming: " + t
		if r.Label != nil && *r.Label != "" {
			body = *r.Label
		}
		return title, body, map[string]string{"eventId": *r.EventID}, nil
	}

	title = "Reminder"
	body = "You have a reminder"
	if r.Label != nil && *r.Label != "" {
		body = *r.Label
	}
	return title, body, nil, nil
}
