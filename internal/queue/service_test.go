package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"beacon/internal/storage"
	"beacon/pkg/logx"
)

func newTestService(t *testing.T, cfg Config) (*Service, *storage.JobStore) {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "queue.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewJobStore(db)
	return New(cfg, store, logx.Nop(), nil), store
}

func fastCfg() Config {
	return Config{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		LeaseTimeout: 2 * time.Second,
		BatchSize:    8,
		RetryMax:     2,
		RetryBase:    10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduleDispatchesDueJob(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, fastCfg())

	var got atomic.Int32
	done := make(chan Job, 1)
	svc.RegisterHandler("test.job", func(ctx context.Context, j Job) error {
		got.Add(1)
		done <- j
		return nil
	})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(ctx)

	if err := svc.Schedule(ctx, "k1", "test.job", []byte(`{"x":1}`), 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case j := <-done:
		if j.Key != "k1" || j.Kind != "test.job" || j.Attempt != 1 {
			t.Fatalf("job = %+v", j)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never dispatched")
	}
}

func TestScheduleNegativeDelayFiresImmediately(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, fastCfg())

	done := make(chan struct{}, 1)
	svc.RegisterHandler("test.job", func(ctx context.Context, j Job) error {
		done <- struct{}{}
		return nil
	})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(ctx)

	// A fire time in the past clamps to "now".
	if err := svc.Schedule(ctx, "past", "test.job", nil, -time.Hour); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("past-due job never fired")
	}
}

func TestScheduleDedupesByKey(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, fastCfg())
	ctx := context.Background()

	if err := svc.Schedule(ctx, "k1", "test.job", nil, time.Hour); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := svc.Schedule(ctx, "k1", "test.job", nil, 2*time.Hour); err != nil {
		t.Fatalf("re-schedule: %v", err)
	}
	if n, err := store.PendingCount(ctx); err != nil || n != 1 {
		t.Fatalf("pending = %d (err %v), want 1", n, err)
	}
}

func TestRemovePendingJob(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, fastCfg())
	ctx := context.Background()

	if err := svc.Schedule(ctx, "k1", "test.job", nil, time.Hour); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	removed, err := svc.Remove(ctx, "k1")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	// Removing again reports false without error.
	removed, err = svc.Remove(ctx, "k1")
	if err != nil || removed {
		t.Fatalf("second remove: removed=%v err=%v", removed, err)
	}
}

func TestFailedJobRetriesThenDies(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, fastCfg())

	var calls atomic.Int32
	svc.RegisterHandler("test.job", func(ctx context.Context, j Job) error {
		calls.Add(1)
		return errors.New("always fails")
	})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(ctx)

	if err := svc.Schedule(ctx, "k1", "test.job", nil, 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// RetryMax 2 allows attempts 1 and 2; attempt 3 buries the job.
	waitFor(t, 5*time.Second, func() bool {
		rec, err := store.Get(ctx, "k1")
		return err == nil && rec.State == storage.JobDead
	})
	if got := calls.Load(); got != 3 {
		t.Fatalf("handler called %d times, want 3", got)
	}
}

func TestPanickingHandlerIsRetriedNotFatal(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, fastCfg())

	var calls atomic.Int32
	done := make(chan struct{}, 1)
	svc.RegisterHandler("test.job", func(ctx context.Context, j Job) error {
		if calls.Add(1) == 1 {
			panic("first attempt explodes")
		}
		done <- struct{}{}
		return nil
	})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(ctx)

	if err := svc.Schedule(ctx, "k1", "test.job", nil, 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job not retried after panic")
	}
}

func TestStartupReclaimsStaleLeases(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, fastCfg())
	ctx := context.Background()

	// Simulate a previous process that died mid-execution.
	if err := store.Upsert(ctx, "stale", "test.job", "", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.ClaimDue(ctx, time.Now(), time.Now().Add(time.Hour), 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	done := make(chan struct{}, 1)
	svc.RegisterHandler("test.job", func(ctx context.Context, j Job) error {
		done <- struct{}{}
		return nil
	})
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stale lease never redelivered")
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()
	cfg := Config{
		RetryBase:     100 * time.Millisecond,
		RetryMaxDelay: 500 * time.Millisecond,
		RetryJitter:   0,
	}
	if d := backoffDelay(cfg, 1); d != 100*time.Millisecond {
		t.Fatalf("attempt 1 delay = %v", d)
	}
	if d := backoffDelay(cfg, 2); d != 200*time.Millisecond {
		t.Fatalf("attempt 2 delay = %v", d)
	}
	if d := backoffDelay(cfg, 10); d != 500*time.Millisecond {
		t.Fatalf("attempt 10 delay = %v, want the cap", d)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, fastCfg())
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.Stop(ctx)
	svc.Stop(ctx) // second stop must not panic
}
