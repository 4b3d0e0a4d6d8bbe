package app

import (
	"context"
	"fmt"
	"time"

	"fxcalbot/internal/cache"
	"fxcalbot/internal/calendar"
	"fxcalbot/internal/config"
	"fxcalbot/internal/feed"
	"fxcalbot/internal/metrics"
	"fxcalbot/internal/sched"
	"fxcalbot/internal/storage"
	telegram "fxcalbot/internal/transport/telegram"
	logx "fxcalbot/pkg/logx"
)

// App owns the process lifecycle: config, logging, storage, the feed/cache
// pipeline, the telegram adapter and the scheduler.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	store   *storage.Store
	adapter *telegram.Adapter
	gate    *feed.Gate
	cache   *cache.Service
	sched   *sched.Service
	metrics *metrics.Server

	cancel context.CancelFunc
	reload chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, cfg: cfg, logs: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.log

	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	st, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = st

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = ad

	fetchTimeout, _ := config.ParseDurationOrDefault("feed.timeout", cfg.Feed.Timeout, 20*time.Second)
	a.gate = feed.NewGate()
	client := feed.NewClient(cfg.Feed.URL, fetchTimeout, a.gate, log.With(logx.String("comp", "feed")))

	var src feed.Source = client
	if cfg.Feed.MetalsPath != "" {
		src = &feed.MultiSource{
			Primary:   client,
			Secondary: []feed.Source{feed.NewFileSource(cfg.Feed.MetalsPath, log.With(logx.String("comp", "metals")))},
		}
	}

	norm := calendar.NewNormalizer(calendar.StaticLookup{}, log.With(logx.String("comp", "calendar")))

	rawTTL, _ := config.ParseDurationOrDefault("feed.raw_ttl", cfg.Feed.RawTTL, cache.DefaultRawTTL)
	eventsTTL, _ := config.ParseDurationOrDefault("feed.events_ttl", cfg.Feed.EventsTTL, cache.DefaultEventsTTL)
	staleTTL, _ := config.ParseDurationOrDefault("feed.stale_ttl", cfg.Feed.StaleTTL, cache.DefaultStaleTTL)
	a.cache = cache.New(cache.Config{RawTTL: rawTTL, EventsTTL: eventsTTL, StaleTTL: staleTTL},
		src, norm, a.gate, log.With(logx.String("comp", "cache")))

	loc := time.UTC
	if tz := cfg.Scheduler.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			// Validate catches this before commit; refuse rather than run
			// digests in the wrong zone if it ever slips through.
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
		loc = l
	}
	pollInterval, _ := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, 300*time.Second)
	leaseTTL, _ := config.ParseDurationOrDefault("scheduler.lease_ttl", cfg.Scheduler.LeaseTTL, 3*pollInterval)
	a.sched = sched.New(sched.Config{
		Enabled:      cfg.Scheduler.Enabled,
		PollInterval: pollInterval,
		Timezone:     loc,
		RatePerSec:   cfg.Scheduler.RatePerSec,
		LeaseTTL:     leaseTTL,
	}, st, a.cache, ad, nil, log.With(logx.String("comp", "sched")))

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(cfg.Metrics.Addr, log.With(logx.String("comp", "metrics")))
	}
	return nil
}

// Cache exposes the cache service (operator surface).
func (a *App) Cache() *cache.Service { return a.cache }

// Store exposes the persistence layer (presentation layer commands).
func (a *App) Store() *storage.Store { return a.store }

// Adapter exposes the telegram adapter so handlers can be registered before
// Start.
func (a *App) Adapter() *telegram.Adapter { return a.adapter }

func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.adapter.Start(ctx); err != nil {
		cancel()
		return err
	}
	if err := a.sched.Start(ctx); err != nil {
		cancel()
		return err
	}
	if a.metrics != nil {
		a.metrics.Start()
	}

	a.reload = a.cfgm.Subscribe(1)
	go a.reloadLoop(ctx)
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("started")
	return nil
}

// reloadLoop applies the hot-reloadable subset of the config. Anything
// structural (token, storage path, feed URL) needs a restart.
func (a *App) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.reload:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("config reloaded", logx.String("level", cfg.Logging.Level))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.sched.Stop(ctx)
	if a.metrics != nil {
		_ = a.metrics.Stop(ctx)
	}
	_ = a.adapter.Stop(ctx)
	if a.reload != nil {
		a.cfgm.Unsubscribe(a.reload)
	}
	err := a.store.Close()
	a.log.Info("stopped")
	a.logs.Close()
	return err
}
