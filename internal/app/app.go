// Package app wires configuration, logging, storage, and the services into
// one process and owns their start/stop order.
package app

import (
	"context"
	"sync"
	"time"

	"beacon/internal/config"
	"beacon/internal/directory"
	"beacon/internal/eventbus"
	"beacon/internal/httpapi"
	"beacon/internal/notify"
	"beacon/internal/queue"
	"beacon/internal/realtime"
	"beacon/internal/reminder"
	"beacon/internal/storage"
	"beacon/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	db   *storage.DB

	dir           *directory.Service
	queue         *queue.Service
	reminders     *reminder.Service
	notifications *notify.Service
	registry      *realtime.Registry
	announcer     *realtime.Announcer
	rt            *realtime.Server
	api           *httpapi.Server

	mu          sync.Mutex
	watchCancel context.CancelFunc
	cfgCh       chan *config.Config
	busCh       <-chan eventbus.Event
	busCancel   func()
	wg          sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	db, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.Duration(cfg.Storage.BusyTimeout, 5*time.Second),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	dir := directory.New(storage.NewDirectoryStore(db), cfg.Auth.JWTSecret,
		log.With(logx.String("comp", "directory")))

	q := queue.New(mapQueueConfig(cfg), storage.NewJobStore(db),
		log.With(logx.String("comp", "queue")), bus)

	notifications := notify.New(storage.NewNotificationStore(db),
		log.With(logx.String("comp", "notify")))

	reminders := reminder.NewService(storage.NewReminderStore(db), q,
		log.With(logx.String("comp", "reminder")))

	registry := realtime.NewRegistry(log.With(logx.String("comp", "realtime")))
	announcer := realtime.NewAnnouncer(registry)
	rt := realtime.NewServer(mapRealtimeConfig(cfg), registry, dir, dir,
		log.With(logx.String("comp", "realtime")))

	processor := reminder.NewProcessor(reminders, dir, notifications, announcer,
		log.With(logx.String("comp", "delivery")))
	q.RegisterHandler(reminder.JobKind, processor.HandleJob)

	api := httpapi.NewServer(httpapi.Config{Addr: cfg.HTTP.Addr},
		reminders, notifications, dir, rt,
		log.With(logx.String("comp", "http")))

	return &App{
		cfgPath:       cfgPath,
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		db:            db,
		dir:           dir,
		queue:         q,
		reminders:     reminders,
		notifications: notifications,
		registry:      registry,
		announcer:     announcer,
		rt:            rt,
		api:           api,
	}, nil
}

// Announcer exposes the fan-out facade for embedding deployments that run
// their CRUD handlers in the same process.
func (a *App) Announcer() *realtime.Announcer { return a.announcer }

func (a *App) Start(ctx context.Context) error {
	if err := a.queue.Start(ctx); err != nil {
		return err
	}
	if err := a.api.Start(ctx); err != nil {
		a.queue.Stop(ctx)
		return err
	}

	// Live config: the watcher republishes validated updates; applyLoop maps
	// them onto the running services.
	watchCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.watchCancel = cancel
	a.cfgCh = a.cfgm.Subscribe(1)
	cfgCh := a.cfgCh
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.applyLoop(watchCtx, cfgCh)
	}()

	// Operator-facing queue diagnostics off the event bus.
	busCh, busCancel := a.bus.Subscribe(16)
	a.mu.Lock()
	a.busCh = busCh
	a.busCancel = busCancel
	a.mu.Unlock()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.diagLoop(watchCtx, busCh)
	}()

	a.log.Info("started")
	return nil
}

func (a *App) applyLoop(ctx context.Context, cfgCh <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-cfgCh:
			if !ok {
				return
			}
			a.logs.Apply(mapLogConfig(cfg))
			a.queue.Apply(mapQueueConfig(cfg))
			a.rt.Apply(mapRealtimeConfig(cfg))
			a.dir.ApplySecret(cfg.Auth.JWTSecret)
			a.log.Info("config applied")
		}
	}
}

func (a *App) diagLoop(ctx context.Context, busCh <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-busCh:
			if !ok {
				return
			}
			if ev.Type == eventbus.JobDead {
				if je, ok := ev.Data.(queue.JobEvent); ok {
					a.log.Error("job moved to dead letter",
						logx.String("key", je.Key),
						logx.String("kind", je.Kind),
						logx.Int("attempts", je.Attempt),
						logx.String("cause", je.Error))
				}
			}
		}
	}
}

func (a *App) Stop(ctx context.Context) {
	a.mu.Lock()
	cancel := a.watchCancel
	a.watchCancel = nil
	cfgCh := a.cfgCh
	a.cfgCh = nil
	busCancel := a.busCancel
	a.busCancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if busCancel != nil {
		busCancel()
	}

	// Stop intake first, then the workers, so in-flight deliveries finish.
	a.api.Stop(ctx)
	a.queue.Stop(ctx)

	if cfgCh != nil {
		a.cfgm.Unsubscribe(cfgCh)
	}
	a.wg.Wait()

	if err := a.db.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("stopped")
	a.logs.Close()
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapQueueConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		Workers:       cfg.Queue.Workers,
		PollInterval:  config.Duration(cfg.Queue.PollInterval, 0),
		LeaseTimeout:  config.Duration(cfg.Queue.LeaseTimeout, 0),
		BatchSize:     cfg.Queue.BatchSize,
		RetryMax:      cfg.Queue.RetryMax,
		RetryBase:     config.Duration(cfg.Queue.RetryBase, 0),
		RetryMaxDelay: config.Duration(cfg.Queue.RetryMaxDelay, 0),
		ReclaimEvery:  config.Duration(cfg.Queue.ReclaimEvery, 0),
		DeadRetention: config.Duration(cfg.Queue.DeadRetention, 0),
	}
}

func mapRealtimeConfig(cfg *config.Config) realtime.Config {
	return realtime.Config{
		SendBuffer:   cfg.Realtime.SendBuffer,
		MsgRate:      float64(cfg.Realtime.MsgRatePerSec),
		AllowOrigins: cfg.Realtime.AllowOrigins,
	}
}
