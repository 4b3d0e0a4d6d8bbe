package sched

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fxcalbot/internal/cache"
	"fxcalbot/internal/calendar"
	"fxcalbot/internal/storage"
	kit "fxcalbot/internal/transport"
	logx "fxcalbot/pkg/logx"
)

// fakeSender records outgoing messages.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	chatID int64
	text   string
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fixedEvents serves a canned event list for every locale.
type fixedEvents struct {
	events []calendar.Event
}

func (f fixedEvents) Events(context.Context, string) ([]calendar.Event, cache.Status) {
	return f.events, cache.StatusFresh
}

func cpiEvent() calendar.Event {
	return calendar.Event{
		At:       time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC),
		Title:    "CPI y/y",
		Country:  "US",
		Currency: "USD",
		Impact:   calendar.ImpactHigh,
		DedupKey: "cpi-yy-usd",
	}
}

func newTestScheduler(t *testing.T, loc *time.Location, events []calendar.Event) (*Service, *storage.Store, *fakeSender) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sender := &fakeSender{}
	s := New(Config{
		Enabled:      true,
		PollInterval: 300 * time.Second,
		Timezone:     loc,
		RatePerSec:   1000,
	}, st, fixedEvents{events: events}, sender, nil, logx.Nop())
	return s, st, sender
}

func TestAlertFiredOnceInsideWindow(t *testing.T) {
	t.Parallel()
	s, st, sender := newTestScheduler(t, time.UTC, []calendar.Event{cpiEvent()})
	ctx := context.Background()

	if err := st.UpsertSubscription(ctx, storage.Subscription{
		UserID: 1, ChatID: 100, DigestTime: "23:59",
		ImpactFilter: "High", CurrencyFilter: "USD", AlertMinutes: 30,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// 13:00:05 tick, 30m lead: target 13:30:05, event at 13:30 is in window.
	tick := time.Date(2025, 3, 10, 13, 0, 5, 0, time.UTC)
	s.SetClock(func() time.Time { return tick })
	s.Tick(ctx)

	if sender.count() != 1 {
		t.Fatalf("expected exactly one alert, got %d", sender.count())
	}
	if !strings.Contains(sender.sent[0].text, "CPI y/y") {
		t.Fatalf("alert text missing title: %q", sender.sent[0].text)
	}
	done, err := st.WasDelivered(ctx, 100, "cpi-yy-usd", storage.KindAlert)
	if err != nil || !done {
		t.Fatalf("ledger row missing: done=%v err=%v", done, err)
	}

	// A second tick inside the window must not resend.
	tick = tick.Add(300 * time.Second)
	s.Tick(ctx)
	if sender.count() != 1 {
		t.Fatalf("duplicate alert after second tick: %d sends", sender.count())
	}
}

func TestAlertCurrencyMismatchFiresNothing(t *testing.T) {
	t.Parallel()
	s, st, sender := newTestScheduler(t, time.UTC, []calendar.Event{cpiEvent()})
	ctx := context.Background()

	if err := st.UpsertSubscription(ctx, storage.Subscription{
		UserID: 1, ChatID: 100, DigestTime: "23:59",
		ImpactFilter: "High", CurrencyFilter: "EUR", AlertMinutes: 30,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	s.SetClock(func() time.Time { return time.Date(2025, 3, 10, 13, 0, 5, 0, time.UTC) })
	s.Tick(ctx)

	if sender.count() != 0 {
		t.Fatalf("expected zero alerts, got %d", sender.count())
	}
}

func TestAlertOutsideWindowNotFired(t *testing.T) {
	t.Parallel()
	s, st, sender := newTestScheduler(t, time.UTC, []calendar.Event{cpiEvent()})
	ctx := context.Background()

	if err := st.UpsertSubscription(ctx, storage.Subscription{
		UserID: 1, ChatID: 100, DigestTime: "23:59", CurrencyFilter: "USD", AlertMinutes: 30,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Target 12:40, event at 13:30: 50 minutes out, well past the window.
	s.SetClock(func() time.Time { return time.Date(2025, 3, 10, 12, 10, 0, 0, time.UTC) })
	s.Tick(ctx)
	if sender.count() != 0 {
		t.Fatalf("expected zero alerts, got %d", sender.count())
	}
}

func TestEmptyDigestSentAndRecordedOnce(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*3600)
	s, st, sender := newTestScheduler(t, loc, nil)
	ctx := context.Background()

	if err := st.UpsertSubscription(ctx, storage.Subscription{
		UserID: 1, ChatID: 100, DigestTime: "09:00",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Local 09:00 is 07:00 UTC.
	tick := time.Date(2025, 3, 10, 7, 0, 3, 0, time.UTC)
	s.SetClock(func() time.Time { return tick })
	s.Tick(ctx)

	if sender.count() != 1 {
		t.Fatalf("expected one digest, got %d sends", sender.count())
	}
	if !strings.Contains(sender.sent[0].text, "No events") {
		t.Fatalf("empty digest text: %q", sender.sent[0].text)
	}
	done, err := st.WasDelivered(ctx, 100, "digest:2025-03-10", storage.KindDigest)
	if err != nil || !done {
		t.Fatalf("digest ledger row missing: done=%v err=%v", done, err)
	}

	// One minute later: same local day, nothing further.
	tick = tick.Add(time.Minute)
	s.Tick(ctx)
	if sender.count() != 1 {
		t.Fatalf("digest resent: %d sends", sender.count())
	}
}

func TestDigestFiltersAndBatches(t *testing.T) {
	t.Parallel()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	var events []calendar.Event
	for i := 0; i < 10; i++ {
		events = append(events, calendar.Event{
			At:       day.Add(10*time.Hour + time.Duration(i)*30*time.Minute),
			Title:    "Event",
			Currency: "USD",
			Impact:   calendar.ImpactHigh,
			DedupKey: string(rune('a' + i)),
		})
	}
	// Filtered out by currency, and outside the local day.
	events = append(events,
		calendar.Event{At: day.Add(12 * time.Hour), Title: "Skip", Currency: "JPY", Impact: calendar.ImpactHigh, DedupKey: "skip"},
		calendar.Event{At: day.Add(30 * time.Hour), Title: "Tomorrow", Currency: "USD", Impact: calendar.ImpactHigh, DedupKey: "tomorrow"},
	)

	s, st, sender := newTestScheduler(t, time.UTC, events)
	ctx := context.Background()

	if err := st.UpsertSubscription(ctx, storage.Subscription{
		UserID: 1, ChatID: 100, DigestTime: "09:00", CurrencyFilter: "USD",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	s.SetClock(func() time.Time { return day.Add(9 * time.Hour) })
	s.Tick(ctx)

	// 10 matching events in batches of 8: two messages, one ledger row.
	if sender.count() != 2 {
		t.Fatalf("expected 2 digest messages, got %d", sender.count())
	}
	for _, m := range sender.sent {
		if strings.Contains(m.text, "Skip") || strings.Contains(m.text, "Tomorrow") {
			t.Fatalf("digest leaked filtered event: %q", m.text)
		}
	}
	if done, _ := st.WasDelivered(ctx, 100, "digest:2025-03-10", storage.KindDigest); !done {
		t.Fatal("digest ledger row missing")
	}
}

func TestDigestCatchesUpAfterLateStart(t *testing.T) {
	t.Parallel()
	s, st, sender := newTestScheduler(t, time.UTC, nil)
	ctx := context.Background()

	if err := st.UpsertSubscription(ctx, storage.Subscription{
		UserID: 1, ChatID: 100, DigestTime: "09:00",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// First tick of the day lands mid-afternoon (a restart after 09:00).
	// The digest is late but still goes out, once.
	tick := time.Date(2025, 3, 10, 15, 47, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return tick })
	s.Tick(ctx)

	if sender.count() != 1 {
		t.Fatalf("expected the missed digest to be sent, got %d sends", sender.count())
	}
	if done, _ := st.WasDelivered(ctx, 100, "digest:2025-03-10", storage.KindDigest); !done {
		t.Fatal("digest ledger row missing")
	}

	tick = tick.Add(300 * time.Second)
	s.Tick(ctx)
	if sender.count() != 1 {
		t.Fatalf("late digest resent: %d sends", sender.count())
	}
}

// countingEvents records how often the tick consults the event source.
type countingEvents struct {
	mu    sync.Mutex
	calls int
}

func (c *countingEvents) Events(context.Context, string) ([]calendar.Event, cache.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil, cache.StatusFresh
}

func (c *countingEvents) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestTickPrimesCacheWithoutSubscribers(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	src := &countingEvents{}
	sender := &fakeSender{}
	s := New(Config{
		Enabled:      true,
		PollInterval: 300 * time.Second,
		Timezone:     time.UTC,
		RatePerSec:   1000,
	}, st, src, sender, nil, logx.Nop())

	// No subscribers: the tick must still touch the cache so its tiers
	// refresh on the poll cadence, and must send nothing.
	s.Tick(context.Background())
	if src.count() != 1 {
		t.Fatalf("event source consulted %d times, want 1", src.count())
	}
	if sender.count() != 0 {
		t.Fatalf("no subscribers, yet %d sends", sender.count())
	}
}

func TestDigestRedirectsToOutChat(t *testing.T) {
	t.Parallel()
	s, st, sender := newTestScheduler(t, time.UTC, nil)
	ctx := context.Background()

	if err := st.UpsertSubscription(ctx, storage.Subscription{
		UserID: 1, ChatID: 100, OutChatID: -1009, DigestTime: "09:00",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	s.SetClock(func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) })
	s.Tick(ctx)

	if sender.count() != 1 || sender.sent[0].chatID != -1009 {
		t.Fatalf("digest not redirected: %+v", sender.sent)
	}
	if done, _ := st.WasDelivered(ctx, -1009, "digest:2025-03-10", storage.KindDigest); !done {
		t.Fatal("ledger row should be against the output chat")
	}
}

func TestSecondSchedulerSkipsWithoutLease(t *testing.T) {
	t.Parallel()
	s1, st, sender := newTestScheduler(t, time.UTC, []calendar.Event{cpiEvent()})
	ctx := context.Background()

	if err := st.UpsertSubscription(ctx, storage.Subscription{
		UserID: 1, ChatID: 100, DigestTime: "23:59", CurrencyFilter: "USD", AlertMinutes: 30,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A second service against the same store, same tick instant.
	s2 := New(Config{
		Enabled:      true,
		PollInterval: 300 * time.Second,
		Timezone:     time.UTC,
		RatePerSec:   1000,
	}, st, fixedEvents{events: []calendar.Event{cpiEvent()}}, sender, nil, logx.Nop())

	tick := time.Date(2025, 3, 10, 13, 0, 5, 0, time.UTC)
	s1.SetClock(func() time.Time { return tick })
	s2.SetClock(func() time.Time { return tick })

	s1.Tick(ctx)
	s2.Tick(ctx)

	// s2 holds no lease; only s1 delivered.
	if sender.count() != 1 {
		t.Fatalf("expected one delivery across both schedulers, got %d", sender.count())
	}
}
