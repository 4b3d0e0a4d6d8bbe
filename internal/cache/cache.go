package cache

import (
	"context"
	"sync"
	"time"

	"fxcalbot/internal/calendar"
	"fxcalbot/internal/feed"
	"fxcalbot/internal/metrics"
	logx "fxcalbot/pkg/logx"
)

// Status tells callers how trustworthy a result is. Unavailable is distinct
// from an empty fresh result so the presentation layer can say "no data
// available, try later" instead of "no events".
type Status int

const (
	StatusFresh Status = iota
	StatusStale
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	default:
		return "unavailable"
	}
}

const (
	DefaultRawTTL    = 10 * time.Minute
	DefaultEventsTTL = 2 * time.Minute
	DefaultStaleTTL  = 2 * time.Minute
)

type Config struct {
	RawTTL    time.Duration
	EventsTTL time.Duration
	StaleTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.RawTTL <= 0 {
		c.RawTTL = DefaultRawTTL
	}
	if c.EventsTTL <= 0 {
		c.EventsTTL = DefaultEventsTTL
	}
	if c.StaleTTL <= 0 {
		c.StaleTTL = DefaultStaleTTL
	}
	return c
}

type derivedEntry struct {
	events    []calendar.Event
	expiresAt time.Time
	stale     bool
}

// Service is the dual-tier cache: one shared raw-payload entry plus derived
// per-locale event lists. The raw tier decouples per-locale normalization
// cost from network cost; the stale-serve path keeps subscribers receiving
// data through upstream outages.
type Service struct {
	cfg  Config
	src  feed.Source
	norm *calendar.Normalizer
	gate *feed.Gate
	log  logx.Logger
	now  func() time.Time

	// mu guards tier state only. Rebuilds and fetches happen outside it so
	// readers are never blocked on parsing or the network.
	mu      sync.Mutex
	raw     []feed.Record
	rawExp  time.Time
	hasRaw  bool
	derived map[string]derivedEntry

	// fetchMu serializes network refreshes: at most one in-flight fetch, so
	// concurrent callers don't hammer the upstream during a 429 episode.
	fetchMu sync.Mutex
}

func New(cfg Config, src feed.Source, norm *calendar.Normalizer, gate *feed.Gate, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		src:     src,
		norm:    norm,
		gate:    gate,
		log:     log,
		now:     time.Now,
		derived: map[string]derivedEntry{},
	}
}

// SetClock injects the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Events resolves the event list for a locale:
//
//  1. derived[locale] unexpired -> hit
//  2. raw tier unexpired -> rebuild derived (no network)
//  3. fetch; on success replace raw, rebuild
//  4. on failure, any previous raw payload (even expired) -> rebuild with the
//     short emergency TTL, labeled stale; else empty/unavailable
func (s *Service) Events(ctx context.Context, locale string) ([]calendar.Event, Status) {
	now := s.now()

	s.mu.Lock()
	if e, ok := s.derived[locale]; ok && now.Before(e.expiresAt) {
		s.mu.Unlock()
		metrics.CacheServes.WithLabelValues("hit").Inc()
		st := StatusFresh
		if e.stale {
			st = StatusStale
		}
		return e.events, st
	}
	rawOK := s.hasRaw && now.Before(s.rawExp)
	raw := s.raw
	s.mu.Unlock()

	if rawOK {
		events := s.norm.Normalize(raw, locale)
		s.store(locale, events, now.Add(s.cfg.EventsTTL), false)
		metrics.CacheServes.WithLabelValues("rebuild").Inc()
		s.log.Debug("served from raw tier", logx.String("locale", locale), logx.Int("events", len(events)))
		return events, StatusFresh
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	// Re-check: another caller may have refreshed while we waited.
	now = s.now()
	s.mu.Lock()
	if e, ok := s.derived[locale]; ok && now.Before(e.expiresAt) {
		s.mu.Unlock()
		metrics.CacheServes.WithLabelValues("hit").Inc()
		st := StatusFresh
		if e.stale {
			st = StatusStale
		}
		return e.events, st
	}
	if s.hasRaw && now.Before(s.rawExp) {
		raw = s.raw
		s.mu.Unlock()
		events := s.norm.Normalize(raw, locale)
		s.store(locale, events, now.Add(s.cfg.EventsTTL), false)
		metrics.CacheServes.WithLabelValues("rebuild").Inc()
		return events, StatusFresh
	}
	s.mu.Unlock()

	records, ok := s.src.Fetch(ctx)
	if ok {
		now = s.now()
		s.mu.Lock()
		s.raw = records
		s.rawExp = now.Add(s.cfg.RawTTL)
		s.hasRaw = true
		s.mu.Unlock()

		events := s.norm.Normalize(records, locale)
		s.store(locale, events, now.Add(s.cfg.EventsTTL), false)
		metrics.CacheServes.WithLabelValues("fetch").Inc()
		s.log.Info("feed refreshed", logx.String("locale", locale), logx.Int("records", len(records)), logx.Int("events", len(events)))
		return events, StatusFresh
	}

	// Degraded fetch: serve stale from any previous raw payload.
	s.mu.Lock()
	hadRaw := s.hasRaw
	raw = s.raw
	s.mu.Unlock()
	if hadRaw {
		now = s.now()
		events := s.norm.Normalize(raw, locale)
		s.store(locale, events, now.Add(s.cfg.StaleTTL), true)
		metrics.CacheServes.WithLabelValues("stale").Inc()
		s.log.Warn("serving stale events after failed refresh", logx.String("locale", locale), logx.Int("events", len(events)))
		return events, StatusStale
	}

	metrics.CacheServes.WithLabelValues("empty").Inc()
	return nil, StatusUnavailable
}

func (s *Service) store(locale string, events []calendar.Event, exp time.Time, stale bool) {
	s.mu.Lock()
	s.derived[locale] = derivedEntry{events: events, expiresAt: exp, stale: stale}
	s.mu.Unlock()
}

// Clear resets both tiers and the backoff gate. Returns the number of
// dropped entries (operator feedback).
func (s *Service) Clear() int {
	s.mu.Lock()
	n := len(s.derived)
	if s.hasRaw {
		n++
	}
	s.derived = map[string]derivedEntry{}
	s.raw = nil
	s.hasRaw = false
	s.rawExp = time.Time{}
	s.mu.Unlock()

	if s.gate != nil {
		s.gate.Reset()
	}
	s.log.Info("cache cleared", logx.Int("entries", n))
	return n
}

// Meta describes the cached state for a locale (operator/status surface).
type Meta struct {
	Count      int
	ValidUntil time.Time
	Stale      bool
}

func (s *Service) Meta(locale string) Meta {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.derived[locale]
	if !ok || !now.Before(e.expiresAt) {
		return Meta{ValidUntil: e.expiresAt}
	}
	return Meta{Count: len(e.events), ValidUntil: e.expiresAt, Stale: e.stale}
}
