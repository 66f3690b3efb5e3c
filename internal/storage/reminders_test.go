package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"beacon/internal/model"
)

func strptr(s string) *string { return &s }

func insertReminder(t *testing.T, store *ReminderStore, m model.Reminder) model.Reminder {
	t.Helper()
	if m.Status == "" {
		m.Status = model.ReminderScheduled
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := store.Insert(context.Background(), m); err != nil {
		t.Fatalf("insert reminder: %v", err)
	}
	return m
}

func TestReminderRoundTrip(t *testing.T) {
	t.Parallel()
	store := NewReminderStore(newTestDB(t))
	ctx := context.Background()

	remindAt := time.Date(2026, 1, 16, 11, 45, 0, 0, time.UTC)
	in := insertReminder(t, store, model.Reminder{
		ID:          "r1",
		WorkspaceID: "w1",
		UserID:      "u1",
		TaskID:      strptr("t1"),
		RemindAt:    remindAt,
		Label:       strptr("15 minutes before due"),
	})

	got, err := store.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WorkspaceID != "w1" || got.UserID != "u1" {
		t.Fatalf("unexpected owner fields: %+v", got)
	}
	if got.TaskID == nil || *got.TaskID != "t1" {
		t.Fatalf("task id = %v", got.TaskID)
	}
	if got.EventID != nil {
		t.Fatalf("event id should be nil, got %v", *got.EventID)
	}
	if !got.RemindAt.Equal(remindAt) {
		t.Fatalf("remindAt = %v, want %v", got.RemindAt, remindAt)
	}
	if got.Label == nil || *got.Label != "15 minutes before due" {
		t.Fatalf("label = %v", got.Label)
	}
	if got.Status != model.ReminderScheduled {
		t.Fatalf("status = %q", got.Status)
	}
	if got.DeliveredAt != nil {
		t.Fatal("deliveredAt should be unset")
	}
}

func TestReminderGetMissing(t *testing.T) {
	t.Parallel()
	store := NewReminderStore(newTestDB(t))
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReminderGetForUserOwnership(t *testing.T) {
	t.Parallel()
	store := NewReminderStore(newTestDB(t))
	ctx := context.Background()

	insertReminder(t, store, model.Reminder{
		ID: "r1", WorkspaceID: "w1", UserID: "owner", RemindAt: time.Now().UTC(),
	})

	if _, err := store.GetForUser(ctx, "owner", "r1"); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := store.GetForUser(ctx, "intruder", "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign lookup err = %v, want ErrNotFound", err)
	}
}

func TestReminderTransition(t *testing.T) {
	t.Parallel()
	store := NewReminderStore(newTestDB(t))
	ctx := context.Background()

	insertReminder(t, store, model.Reminder{
		ID: "r1", WorkspaceID: "w1", UserID: "u1", RemindAt: time.Now().UTC(),
	})

	at := time.Date(2026, 2, 1, 8, 50, 0, 0, time.UTC)
	changed, err := store.Transition(ctx, "r1", model.ReminderScheduled, model.ReminderDelivered, &at)
	if err != nil || !changed {
		t.Fatalf("deliver transition: changed=%v err=%v", changed, err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.ReminderDelivered {
		t.Fatalf("status = %q", got.Status)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(at) {
		t.Fatalf("deliveredAt = %v, want %v", got.DeliveredAt, at)
	}

	// Status is monotonic: a delivered reminder cannot be cancelled or
	// re-delivered.
	changed, err = store.Transition(ctx, "r1", model.ReminderScheduled, model.ReminderCancelled, nil)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if changed {
		t.Fatal("transition out of delivered must not change anything")
	}
}

func TestReminderListScheduledOrderAndFilter(t *testing.T) {
	t.Parallel()
	store := NewReminderStore(newTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insertReminder(t, store, model.Reminder{ID: "late", WorkspaceID: "w1", UserID: "u1", RemindAt: base.Add(2 * time.Hour)})
	insertReminder(t, store, model.Reminder{ID: "soon", WorkspaceID: "w1", UserID: "u1", RemindAt: base})
	insertReminder(t, store, model.Reminder{ID: "other-ws", WorkspaceID: "w2", UserID: "u1", RemindAt: base})
	insertReminder(t, store, model.Reminder{ID: "done", WorkspaceID: "w1", UserID: "u1", RemindAt: base, Status: model.ReminderDelivered})

	got, err := store.ListScheduled(ctx, "u1", "w1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "soon" || got[1].ID != "late" {
		ids := make([]string, 0, len(got))
		for _, r := range got {
			ids = append(ids, r.ID)
		}
		t.Fatalf("list order = %v, want [soon late]", ids)
	}
}
