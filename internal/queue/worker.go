package queue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"beacon/internal/eventbus"
	"beacon/internal/storage"
	"beacon/pkg/logx"
)

func (s *Service) dispatcher(ctx context.Context, stopCh <-chan struct{}, dispatch chan<- storage.JobRecord) {
	for {
		cfg := s.snapshotCfg()
		timer := time.NewTimer(cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}

		now := time.Now()
		claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		jobs, err := s.store.ClaimDue(claimCtx, now, now.Add(cfg.LeaseTimeout), cfg.BatchSize)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("claiming due jobs failed", logx.Err(err))
			}
			continue
		}

		for _, j := range jobs {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case dispatch <- j:
			}
		}
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, dispatch <-chan storage.JobRecord) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case rec := <-dispatch:
			s.execOne(ctx, rec)
		}
	}
}

func (s *Service) execOne(ctx context.Context, rec storage.JobRecord) {
	cfg := s.snapshotCfg()
	start := time.Now()

	job := Job{
		Key:     rec.Key,
		Kind:    rec.Kind,
		Payload: []byte(rec.Payload),
		Attempt: rec.Attempts + 1,
	}

	s.dispatched.Add(1)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.JobDispatched, Time: start, Data: JobEvent{Key: job.Key, Kind: job.Kind, Attempt: job.Attempt}})
	}

	h, ok := s.handlerFor(rec.Kind)
	if !ok {
		// A handler may simply not be wired yet (startup ordering); retry
		// rather than kill the job.
		s.retryOrBury(ctx, rec, cfg, ErrNoHandler)
		return
	}

	// The handler gets at most the lease window; running past it would risk
	// a concurrent redelivery.
	runCtx, cancel := context.WithDeadline(ctx, start.Add(cfg.LeaseTimeout))
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &panicError{val: r}
			}
		}()
		return h(runCtx, job)
	}()
	cancel()

	dur := time.Since(start)
	if err == nil {
		ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Ack(ackCtx, rec.Key); err != nil {
			// The job stays leased and will be reclaimed; the handler must
			// absorb the extra delivery.
			s.log.Warn("job ack failed", logx.String("key", rec.Key), logx.Err(err))
			return
		}
		s.log.Debug("job completed", logx.String("key", rec.Key), logx.Duration("dur", dur), logx.Int("attempt", job.Attempt))
		return
	}

	s.failed.Add(1)
	s.log.Warn("job failed",
		logx.String("key", rec.Key),
		logx.String("kind", rec.Kind),
		logx.Int("attempt", job.Attempt),
		logx.Duration("dur", dur),
		logx.Err(err))
	s.retryOrBury(ctx, rec, cfg, err)
}

func (s *Service) retryOrBury(ctx context.Context, rec storage.JobRecord, cfg Config, cause error) {
	opCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	attempt := rec.Attempts + 1
	if attempt > cfg.RetryMax {
		if err := s.store.MarkDead(opCtx, rec.Key, cause.Error()); err != nil {
			s.log.Error("marking job dead failed", logx.String("key", rec.Key), logx.Err(err))
			return
		}
		s.log.Error("job dead (attempts exhausted)", logx.String("key", rec.Key), logx.Int("attempts", attempt))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.JobDead, Data: JobEvent{Key: rec.Key, Kind: rec.Kind, Attempt: attempt, Error: cause.Error()}})
		}
		return
	}

	delay := backoffDelay(cfg, attempt)
	if err := s.store.Retry(opCtx, rec.Key, time.Now().Add(delay), cause.Error()); err != nil {
		s.log.Error("requeueing job failed", logx.String("key", rec.Key), logx.Err(err))
		return
	}
	s.log.Debug("job retry scheduled", logx.String("key", rec.Key), logx.Int("attempt", attempt+1), logx.Duration("delay", delay))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: JobEvent{Key: rec.Key, Kind: rec.Kind, Attempt: attempt, Error: cause.Error()}})
	}
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	if cfg.RetryJitter > 0 {
		r := (rand.Float64()*2 - 1) * cfg.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

type panicError struct{ val any }

func (p *panicError) Error() string { return fmt.Sprintf("handler panic: %v", p.val) }
