package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobUpsertDedupesWhilePending(t *testing.T) {
	t.Parallel()
	store := NewJobStore(newTestDB(t))
	ctx := context.Background()

	first := time.Now().Add(time.Hour)
	if err := store.Upsert(ctx, "reminder:r1", "reminder.deliver", `{"reminderId":"r1"}`, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	refreshed := first.Add(30 * time.Minute)
	if err := store.Upsert(ctx, "reminder:r1", "reminder.deliver", `{"reminderId":"r1"}`, refreshed); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if n, err := store.PendingCount(ctx); err != nil || n != 1 {
		t.Fatalf("pending = %d (err %v), want 1", n, err)
	}
	rec, err := store.Get(ctx, "reminder:r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.RunAt != refreshed.UnixMilli() {
		t.Fatalf("run_at = %d, want refreshed %d", rec.RunAt, refreshed.UnixMilli())
	}
}

func TestJobUpsertLeavesLeasedAlone(t *testing.T) {
	t.Parallel()
	store := NewJobStore(newTestDB(t))
	ctx := context.Background()

	if err := store.Upsert(ctx, "k", "kind", "p1", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	claimed, err := store.ClaimDue(ctx, time.Now(), time.Now().Add(time.Minute), 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(claimed))
	}

	// An in-flight execution must not be rescheduled under it.
	if err := store.Upsert(ctx, "k", "kind", "p2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("upsert while leased: %v", err)
	}
	rec, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != JobLeased || rec.Payload != "p1" {
		t.Fatalf("leased job mutated: state=%s payload=%s", rec.State, rec.Payload)
	}
}

func TestJobClaimDueRespectsRunAt(t *testing.T) {
	t.Parallel()
	store := NewJobStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now()

	if err := store.Upsert(ctx, "due", "kind", "", now.Add(-time.Second)); err != nil {
		t.Fatalf("upsert due: %v", err)
	}
	if err := store.Upsert(ctx, "future", "kind", "", now.Add(time.Hour)); err != nil {
		t.Fatalf("upsert future: %v", err)
	}

	claimed, err := store.ClaimDue(ctx, now, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Key != "due" {
		t.Fatalf("claimed = %+v, want only the due job", claimed)
	}

	// A second claim sees nothing: the job is leased, the other not due.
	again, err := store.ClaimDue(ctx, now, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second claim returned %d jobs", len(again))
	}
}

func TestJobDeletePending(t *testing.T) {
	t.Parallel()
	store := NewJobStore(newTestDB(t))
	ctx := context.Background()

	if err := store.Upsert(ctx, "k", "kind", "", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	removed, err := store.DeletePending(ctx, "k")
	if err != nil || !removed {
		t.Fatalf("delete pending: removed=%v err=%v", removed, err)
	}
	// Second delete is a no-op, not an error.
	removed, err = store.DeletePending(ctx, "k")
	if err != nil || removed {
		t.Fatalf("delete missing: removed=%v err=%v", removed, err)
	}
}

func TestJobAckRetryAndDead(t *testing.T) {
	t.Parallel()
	store := NewJobStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now()

	if err := store.Upsert(ctx, "k", "kind", "", now.Add(-time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.ClaimDue(ctx, now, now.Add(time.Minute), 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := store.Retry(ctx, "k", now.Add(time.Second), "boom"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	rec, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != JobPending || rec.Attempts != 1 || !rec.LastError.Valid || rec.LastError.String != "boom" {
		t.Fatalf("after retry: %+v", rec)
	}

	if err := store.MarkDead(ctx, "k", "gave up"); err != nil {
		t.Fatalf("mark dead: %v", err)
	}
	rec, err = store.Get(ctx, "k")
	if err != nil || rec.State != JobDead {
		t.Fatalf("after dead: %+v (err %v)", rec, err)
	}

	// Dead rows prune only past the cutoff.
	if n, err := store.PruneDead(ctx, now.Add(-time.Hour)); err != nil || n != 0 {
		t.Fatalf("early prune removed %d (err %v)", n, err)
	}
	if n, err := store.PruneDead(ctx, now.Add(time.Hour)); err != nil || n != 1 {
		t.Fatalf("prune removed %d (err %v), want 1", n, err)
	}

	if err := store.Ack(ctx, "k"); err != nil {
		t.Fatalf("ack after prune: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after prune err = %v, want ErrNotFound", err)
	}
}

func TestJobLeaseReclaim(t *testing.T) {
	t.Parallel()
	store := NewJobStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now()

	if err := store.Upsert(ctx, "k", "kind", "", now.Add(-time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.ClaimDue(ctx, now, now.Add(50*time.Millisecond), 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Lease still live: nothing to reclaim.
	if n, err := store.ReclaimExpired(ctx, now); err != nil || n != 0 {
		t.Fatalf("early reclaim = %d (err %v)", n, err)
	}
	// Lease expired: the job flips back to pending for redelivery.
	if n, err := store.ReclaimExpired(ctx, now.Add(time.Second)); err != nil || n != 1 {
		t.Fatalf("reclaim = %d (err %v), want 1", n, err)
	}
	rec, err := store.Get(ctx, "k")
	if err != nil || rec.State != JobPending {
		t.Fatalf("after reclaim: %+v (err %v)", rec, err)
	}

	// Startup path reclaims every lease unconditionally.
	if _, err := store.ClaimDue(ctx, now, now.Add(time.Hour), 1); err != nil {
		t.Fatalf("reclaim claim: %v", err)
	}
	if n, err := store.ReclaimAllLeased(ctx); err != nil || n != 1 {
		t.Fatalf("reclaim all = %d (err %v), want 1", n, err)
	}
}
