package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"fxcalbot/internal/cache"
	"fxcalbot/internal/calendar"
	"fxcalbot/internal/metrics"
	"fxcalbot/internal/storage"
	kit "fxcalbot/internal/transport"
	logx "fxcalbot/pkg/logx"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// Service drives the periodic notification pass: pre-event alerts and daily
// digests, both deduplicated through the delivery ledger. Multiple processes
// may run concurrently; only the lease holder delivers.
type Service struct {
	cfg      Config
	store    *storage.Store
	events   EventSource
	sender   kit.Sender
	renderer Renderer
	log      logx.Logger

	owner   string
	limiter *rate.Limiter
	now     func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, store *storage.Store, events EventSource, sender kit.Sender, renderer Renderer, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if renderer == nil {
		renderer = NewHTMLRenderer(cfg.Timezone)
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		events:   events,
		sender:   sender,
		renderer: renderer,
		log:      log.With(logx.String("svc", "sched")),
		owner:    uuid.NewString(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:      time.Now,
	}
}

// SetClock injects the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	c := cron.New(cron.WithLocation(s.cfg.Timezone))
	c.Schedule(cron.Every(s.cfg.PollInterval), cron.FuncJob(func() {
		s.safeTick(ctx)
	}))
	c.Start()
	s.c = c
	s.log.Info("scheduler started",
		logx.Duration("interval", s.cfg.PollInterval),
		logx.String("owner", s.owner),
		logx.String("tz", s.cfg.Timezone.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()

	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.ReleaseLease(rctx, leaseName, s.owner); err != nil {
		s.log.Warn("lease release failed", logx.Err(err))
	}
}

// safeTick isolates tick panics so a bad payload cannot kill the cron
// goroutine.
func (s *Service) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	s.Tick(ctx)
}

// Tick runs one full notification pass. Exported so operator commands and
// tests can trigger a pass outside the cron cadence.
func (s *Service) Tick(ctx context.Context) {
	started := s.now()
	tickID := uuid.NewString()[:8]
	log := s.log.With(logx.String("tick", tickID))

	held, err := s.store.AcquireLease(ctx, leaseName, s.owner, s.cfg.LeaseTTL)
	if err != nil {
		log.Error("lease check failed", logx.Err(err))
		return
	}
	if !held {
		log.Debug("lease held elsewhere, skipping")
		return
	}

	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		log.Error("listing subscriptions failed", logx.Err(err))
		return
	}
	byLocale := s.eventsByLocale(ctx, subs, log)
	now := s.now()
	s.runAlerts(ctx, now, subs, byLocale, log)
	s.runDigests(ctx, now, subs, byLocale, log)

	if n, err := s.store.PruneDeliveries(ctx, deliveryRetention); err != nil {
		log.Warn("ledger prune failed", logx.Err(err))
	} else if n > 0 {
		log.Debug("ledger pruned", logx.Int64("rows", n))
	}

	metrics.TickDuration.Observe(s.now().Sub(started).Seconds())
	log.Debug("tick done", logx.Duration("took", s.now().Sub(started)), logx.Int("subscribers", len(subs)))
}

// eventsByLocale resolves each distinct subscriber locale once per tick. The
// default locale is resolved unconditionally so the raw tier refreshes on the
// tick cadence even when nobody is subscribed, keeping the first user request
// after a quiet stretch a cache hit instead of a cold fetch.
func (s *Service) eventsByLocale(ctx context.Context, subs []storage.Subscription, log logx.Logger) map[string][]calendar.Event {
	out := map[string][]calendar.Event{}
	events, st := s.events.Events(ctx, "")
	if st == cache.StatusUnavailable {
		log.Warn("no calendar data", logx.String("locale", "default"))
	}
	out[""] = events
	for _, sub := range subs {
		if _, ok := out[sub.Locale]; ok {
			continue
		}
		events, st := s.events.Events(ctx, sub.Locale)
		if st == cache.StatusUnavailable {
			log.Warn("no calendar data", logx.String("locale", sub.Locale))
		}
		out[sub.Locale] = events
	}
	return out
}

func (s *Service) runAlerts(ctx context.Context, now time.Time, subs []storage.Subscription, byLocale map[string][]calendar.Event, log logx.Logger) {
	for _, sub := range subs {
		lead := time.Duration(sub.AlertMinutes) * time.Minute
		target := now.Add(lead)
		impacts := splitList(sub.ImpactFilter)
		currencies := splitList(sub.CurrencyFilter)

		for _, ev := range byLocale[sub.Locale] {
			d := ev.At.Sub(target)
			if d < -alertWindow || d > alertWindow {
				continue
			}
			if !calendar.Matches(ev, impacts, currencies) {
				continue
			}
			if err := s.deliver(ctx, sub, ev.DedupKey, storage.KindAlert, []string{s.renderer.Alert(sub, ev, lead)}); err != nil {
				log.Error("alert delivery failed",
					logx.Int64("chat", sub.Target()),
					logx.String("event", ev.Title),
					logx.Err(err))
			}
		}
	}
}

func (s *Service) runDigests(ctx context.Context, now time.Time, subs []storage.Subscription, byLocale map[string][]calendar.Event, log logx.Logger) {
	local := now.In(s.cfg.Timezone)
	minuteOfDay := local.Hour()*60 + local.Minute()

	for _, sub := range subs {
		want := sub.DigestTime
		if want == "" {
			want = storage.DefaultDigestTime
		}
		due, err := parseHHMM(want)
		if err != nil {
			log.Warn("bad digest time", logx.Int64("chat", sub.ChatID), logx.String("digest_time", want))
			continue
		}
		// Due once the local clock reaches digest_time; the ledger's
		// digest-date key keeps it to one per local day even when the tick
		// cadence misses the exact minute.
		if minuteOfDay < due {
			continue
		}

		dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Timezone)
		dayEnd := dayStart.Add(24 * time.Hour)
		// One digest per local day, regardless of how many events it holds.
		digestKey := fmt.Sprintf("digest:%s", dayStart.Format("2006-01-02"))

		impacts := splitList(sub.ImpactFilter)
		currencies := splitList(sub.CurrencyFilter)
		var todays []calendar.Event
		for _, ev := range byLocale[sub.Locale] {
			if ev.At.Before(dayStart) || !ev.At.Before(dayEnd) {
				continue
			}
			if calendar.Matches(ev, impacts, currencies) {
				todays = append(todays, ev)
			}
		}

		texts := s.renderer.Digest(sub, dayStart, todays)
		if err := s.deliver(ctx, sub, digestKey, storage.KindDigest, texts); err != nil {
			log.Error("digest delivery failed", logx.Int64("chat", sub.Target()), logx.Err(err))
		}
	}
}

// deliver sends texts to the subscription target and records the ledger row.
// The ledger is checked first so repeated ticks and restarts never resend;
// the row is written after the send attempt, and a lost row on crash means
// at-least-once rather than lost delivery.
func (s *Service) deliver(ctx context.Context, sub storage.Subscription, dedupKey, kind string, texts []string) error {
	done, err := s.store.WasDelivered(ctx, sub.Target(), dedupKey, kind)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	to := kit.ChatTarget{ChatID: sub.Target()}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	for _, text := range texts {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := s.sender.SendText(ctx, to, text, opt); err != nil {
			metrics.Deliveries.WithLabelValues(kind, "error").Inc()
			return err
		}
	}

	inserted, err := s.store.InsertDelivery(ctx, sub.Target(), dedupKey, kind)
	if err != nil {
		return err
	}
	if !inserted {
		// Another holder raced us to the same delivery. The message may have
		// gone out twice; the ledger still converges to one row.
		metrics.Deliveries.WithLabelValues(kind, "duplicate").Inc()
		return nil
	}
	metrics.Deliveries.WithLabelValues(kind, "sent").Inc()
	return nil
}
