package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"beacon/internal/eventbus"
	"beacon/internal/storage"
	"beacon/pkg/logx"
)

// Service dispatches due jobs from the durable backlog to registered handlers
// using a worker pool. Workers are panic-safe and cooperate with Start/Stop.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	bus   eventbus.Bus
	store *storage.JobStore

	hmu      sync.RWMutex
	handlers map[string]Handler

	stopCh    chan struct{}
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	dispatch  chan storage.JobRecord
	wake      chan struct{}

	maint *cron.Cron

	// Lifetime counters for diagnostics.
	dispatched atomic.Uint64
	failed     atomic.Uint64
	reclaimed  atomic.Uint64
}

func New(cfg Config, store *storage.JobStore, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		store:    store,
		handlers: map[string]Handler{},
		wake:     make(chan struct{}, 1),
	}
}

// RegisterHandler binds a job kind to its handler. Must be called before the
// first job of that kind fires; re-registering replaces the handler.
func (s *Service) RegisterHandler(kind string, h Handler) {
	kind = strings.TrimSpace(kind)
	if kind == "" || h == nil {
		return
	}
	s.hmu.Lock()
	s.handlers[kind] = h
	s.hmu.Unlock()
}

func (s *Service) handlerFor(kind string) (Handler, bool) {
	s.hmu.RLock()
	h, ok := s.handlers[kind]
	s.hmu.RUnlock()
	return h, ok
}

// Apply swaps the live config. Worker pool size changes take effect on the
// next Start; retry and lease knobs apply immediately.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) snapshotCfg() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return errors.New("queue already started")
	}
	cfg := s.cfg
	s.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.dispatch = make(chan storage.JobRecord)
	stopCh := s.stopCh
	dispatch := s.dispatch
	s.mu.Unlock()

	// Leases from a previous process are stale by definition.
	if n, err := s.store.ReclaimAllLeased(ctx); err != nil {
		s.log.Warn("startup lease reclaim failed", logx.Err(err))
	} else if n > 0 {
		s.reclaimed.Add(uint64(n))
		s.log.Info("reclaimed stale leases", logx.Int64("count", n))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatcher(runCtx, stopCh, dispatch)
	}()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in queue worker", logx.Int("worker", idx), logx.Any("panic", r))
				}
			}()
			s.worker(runCtx, stopCh, dispatch)
		}()
	}

	s.startMaintenance(cfg)

	s.log.Info("queue started",
		logx.Int("workers", cfg.Workers),
		logx.Duration("poll", cfg.PollInterval),
		logx.Duration("lease", cfg.LeaseTimeout))
	return nil
}

func (s *Service) startMaintenance(cfg Config) {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.ReclaimEvery), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if n, err := s.store.ReclaimExpired(ctx, time.Now()); err != nil {
			s.log.Warn("lease reclaim failed", logx.Err(err))
		} else if n > 0 {
			s.reclaimed.Add(uint64(n))
			s.log.Warn("reclaimed expired leases", logx.Int64("count", n))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.JobReclaimed, Data: JobEvent{}})
			}
		}
	})
	if err != nil {
		s.log.Warn("maintenance schedule rejected", logx.Err(err))
	}
	_, err = c.AddFunc("@every 1h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cutoff := time.Now().Add(-s.snapshotCfg().DeadRetention)
		if n, err := s.store.PruneDead(ctx, cutoff); err != nil {
			s.log.Warn("dead job prune failed", logx.Err(err))
		} else if n > 0 {
			s.log.Info("pruned dead jobs", logx.Int64("count", n))
		}
	})
	if err != nil {
		s.log.Warn("prune schedule rejected", logx.Err(err))
	}
	c.Start()

	s.mu.Lock()
	s.maint = c
	s.mu.Unlock()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	maint := s.maint
	s.stopCh = nil
	s.runCancel = nil
	s.maint = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if maint != nil {
		<-maint.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("queue stopped")
	case <-ctx.Done():
		// stop continues in background
	}
}

// Schedule enqueues exactly one pending execution for jobKey, to run no
// earlier than now+delay. Re-scheduling a still-pending key refreshes it; a
// key that is mid-flight is left alone. Negative delays clamp to zero.
func (s *Service) Schedule(ctx context.Context, jobKey, kind string, payload []byte, delay time.Duration) error {
	if strings.TrimSpace(jobKey) == "" {
		return errors.New("queue: job key is required")
	}
	if delay < 0 {
		delay = 0
	}
	runAt := time.Now().Add(delay)
	if err := s.store.Upsert(ctx, jobKey, kind, string(payload), runAt); err != nil {
		return fmt.Errorf("queue: schedule %s: %w", jobKey, err)
	}
	s.log.Debug("job scheduled", logx.String("key", jobKey), logx.String("kind", kind), logx.Duration("delay", delay))
	// Nudge the dispatcher so near-immediate jobs don't wait out a poll tick.
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Remove cancels a still-pending execution. It reports whether anything was
// actually removed: false means the job already fired, is mid-flight, or
// never existed. Callers must not treat false as an error.
func (s *Service) Remove(ctx context.Context, jobKey string) (bool, error) {
	removed, err := s.store.DeletePending(ctx, jobKey)
	if err != nil {
		return false, fmt.Errorf("queue: remove %s: %w", jobKey, err)
	}
	if removed {
		s.log.Debug("job removed", logx.String("key", jobKey))
	}
	return removed, nil
}

func (s *Service) Snapshot() Snapshot {
	return Snapshot{
		Workers:    s.snapshotCfg().Workers,
		Dispatched: s.dispatched.Load(),
		Failed:     s.failed.Load(),
		Reclaimed:  s.reclaimed.Load(),
	}
}
