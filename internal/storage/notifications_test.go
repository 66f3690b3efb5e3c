package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"beacon/internal/model"
)

func seedNotifications(t *testing.T, store *NotificationStore, userID string, n int) {
	t.Helper()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		err := store.Insert(context.Background(), model.Notification{
			ID:          fmt.Sprintf("%s-n%d", userID, i),
			WorkspaceID: "w1",
			UserID:      userID,
			Type:        model.NotificationReminder,
			Title:       fmt.Sprintf("title %d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestNotificationListNewestFirst(t *testing.T) {
	t.Parallel()
	store := NewNotificationStore(newTestDB(t))
	ctx := context.Background()
	seedNotifications(t, store, "u1", 3)

	got, err := store.ListForUser(ctx, "u1", false, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "u1-n2" || got[2].ID != "u1-n0" {
		t.Fatalf("order = [%s %s %s], want newest first", got[0].ID, got[1].ID, got[2].ID)
	}

	limited, err := store.ListForUser(ctx, "u1", false, 2)
	if err != nil {
		t.Fatalf("limited list: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited len = %d, want 2", len(limited))
	}
}

func TestNotificationDataRoundTrip(t *testing.T) {
	t.Parallel()
	store := NewNotificationStore(newTestDB(t))
	ctx := context.Background()

	err := store.Insert(ctx, model.Notification{
		ID: "n1", WorkspaceID: "w1", UserID: "u1",
		Type: model.NotificationReminder, Title: "Task reminder: ship it",
		Data:      json.RawMessage(`{"taskId":"t1"}`),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.ListForUser(ctx, "u1", false, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("list: %v (%d rows)", err, len(got))
	}
	var data map[string]string
	if err := json.Unmarshal(got[0].Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["taskId"] != "t1" {
		t.Fatalf("data = %v", data)
	}
}

func TestNotificationMarkRead(t *testing.T) {
	t.Parallel()
	store := NewNotificationStore(newTestDB(t))
	ctx := context.Background()
	seedNotifications(t, store, "u1", 1)

	at := time.Now().UTC()
	got, err := store.MarkRead(ctx, "u1", "u1-n0", at)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if got.ReadAt == nil {
		t.Fatal("readAt not set")
	}

	// Re-marking is a found no-op.
	again, err := store.MarkRead(ctx, "u1", "u1-n0", at.Add(time.Hour))
	if err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	if again.ReadAt == nil || !again.ReadAt.Equal(*got.ReadAt) {
		t.Fatalf("readAt changed on re-mark: %v vs %v", again.ReadAt, got.ReadAt)
	}

	// Foreign and missing ids are indistinguishable.
	if _, err := store.MarkRead(ctx, "someone-else", "u1-n0", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign mark err = %v, want ErrNotFound", err)
	}
}

func TestNotificationMarkAllReadAndUnreadCount(t *testing.T) {
	t.Parallel()
	store := NewNotificationStore(newTestDB(t))
	ctx := context.Background()
	seedNotifications(t, store, "u1", 4)
	seedNotifications(t, store, "u2", 2)

	if _, err := store.MarkRead(ctx, "u1", "u1-n0", time.Now().UTC()); err != nil {
		t.Fatalf("mark one: %v", err)
	}

	count, err := store.MarkAllRead(ctx, "u1", time.Now().UTC())
	if err != nil {
		t.Fatalf("mark all: %v", err)
	}
	if count != 3 {
		t.Fatalf("marked = %d, want 3 (one was already read)", count)
	}

	n, err := store.UnreadCount(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("unread after markAll = %d (err %v), want 0", n, err)
	}

	// Other users are untouched.
	n, err = store.UnreadCount(ctx, "u2")
	if err != nil || n != 2 {
		t.Fatalf("u2 unread = %d (err %v), want 2", n, err)
	}
}
