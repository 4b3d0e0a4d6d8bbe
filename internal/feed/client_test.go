package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "fxcalbot/pkg/logx"
)

// fakeSleeper records requested waits without waiting.
type fakeSleeper struct {
	waits []time.Duration
}

func (f *fakeSleeper) sleep(_ context.Context, d time.Duration) {
	f.waits = append(f.waits, d)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestClient(t *testing.T, url string, gate *Gate, sleeper *fakeSleeper, now time.Time) *Client {
	t.Helper()
	return NewClient(url, 5*time.Second, gate, logx.Nop(),
		WithClock(fixedClock(now)),
		WithSleeper(sleeper.sleep),
	)
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"date":"2026-03-02T14:30:00Z","title":"CPI m/m","impact":"High","forecast":0.3}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, NewGate(), &fakeSleeper{}, time.Now())
	records, ok := c.Fetch(context.Background())
	if !ok {
		t.Fatal("expected ok")
	}
	if len(records) != 1 || records[0].Title != "CPI m/m" {
		t.Fatalf("unexpected records: %+v", records)
	}
	// Numeric forecast coerced to string.
	if records[0].Forecast != "0.3" {
		t.Fatalf("Forecast = %q, want 0.3", records[0].Forecast)
	}
}

func TestFetchNotFoundIsEmptyOK(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, NewGate(), &fakeSleeper{}, time.Now())
	records, ok := c.Fetch(context.Background())
	if !ok {
		t.Fatal("404 should be a valid empty result")
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %+v", records)
	}
}

func TestFetchMalformedBodyIsDegraded(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"oops": "not an array"`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, NewGate(), &fakeSleeper{}, time.Now())
	records, ok := c.Fetch(context.Background())
	if ok {
		t.Fatal("malformed body must be reported as degraded")
	}
	if records != nil {
		t.Fatalf("expected nil records, got %+v", records)
	}
}

func TestFetchRateLimitDefersSharedGate(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	gate := NewGate()
	sleeper := &fakeSleeper{}
	c := newTestClient(t, srv.URL, gate, sleeper, now)

	records, ok := c.Fetch(context.Background())
	if !ok || records == nil {
		t.Fatalf("second attempt should succeed: ok=%v records=%v", ok, records)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", got)
	}

	// Retry-After won over exponential backoff, plus jitter in [0.2s, 0.8s].
	nb := gate.NotBefore()
	lo, hi := now.Add(5*time.Second+200*time.Millisecond), now.Add(5*time.Second+800*time.Millisecond)
	if nb.Before(lo) || nb.After(hi) {
		t.Fatalf("gate deferred to %v, want within [%v, %v]", nb, lo, hi)
	}
	if len(sleeper.waits) == 0 || sleeper.waits[0] < 5*time.Second {
		t.Fatalf("expected a >=5s wait before retrying, got %v", sleeper.waits)
	}
}

func TestFetchWaitsForActiveGate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	gate := NewGate()
	gate.Defer(now.Add(7 * time.Second))
	sleeper := &fakeSleeper{}
	c := newTestClient(t, srv.URL, gate, sleeper, now)

	if _, ok := c.Fetch(context.Background()); !ok {
		t.Fatal("fetch should succeed after waiting out the gate")
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != 7*time.Second {
		t.Fatalf("expected a single 7s gate wait, got %v", sleeper.waits)
	}
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, NewGate(), &fakeSleeper{}, time.Now())
	if _, ok := c.Fetch(context.Background()); ok {
		t.Fatal("persistent 500s must come back degraded")
	}
	if got := calls.Load(); got != fetchAttempts {
		t.Fatalf("expected %d attempts, got %d", fetchAttempts, got)
	}
}

func TestGateNeverMovesBackward(t *testing.T) {
	t.Parallel()
	g := NewGate()
	later := time.Now().Add(time.Minute)
	g.Defer(later)
	g.Defer(later.Add(-30 * time.Second))
	if got := g.NotBefore(); !got.Equal(later) {
		t.Fatalf("gate moved backward: %v, want %v", got, later)
	}
	g.Reset()
	if !g.NotBefore().IsZero() {
		t.Fatal("reset should clear the gate")
	}
}
