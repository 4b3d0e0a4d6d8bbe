package feed

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"fxcalbot/internal/metrics"
	logx "fxcalbot/pkg/logx"
)

// Source produces raw records. ok=false marks a degraded result (upstream
// failure, exhausted retries); the cache uses it for stale-serve decisions.
type Source interface {
	Fetch(ctx context.Context) (records []Record, ok bool)
}

const (
	fetchAttempts  = 4
	backoffBase    = time.Second
	backoffCap     = 30 * time.Second
	maxGateSleep   = 30 * time.Second
	defaultTimeout = 20 * time.Second
)

type ClientOption func(*Client)

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithSleeper injects the sleep function (tests run without real waits).
func WithSleeper(sleep func(ctx context.Context, d time.Duration)) ClientOption {
	return func(c *Client) { c.sleep = sleep }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// Client fetches the upstream calendar feed. It never returns an error:
// transient upstream failures are absorbed here and surfaced only as an
// empty, degraded result plus a log line.
type Client struct {
	url  string
	http *http.Client
	gate *Gate
	log  logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewClient(url string, timeout time.Duration, gate *Gate, log logx.Logger, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if gate == nil {
		gate = NewGate()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
		gate: gate,
		log:  log,
		now:  time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Gate() *Gate { return c.gate }

func (c *Client) jitter(lo, hi float64) time.Duration {
	c.rngMu.Lock()
	f := c.rng.Float64()
	c.rngMu.Unlock()
	return time.Duration((lo + f*(hi-lo)) * float64(time.Second))
}

// Fetch performs one logical feed refresh: at most fetchAttempts HTTP GETs
// with 429/Retry-After respect via the shared gate.
//
//	200 + valid JSON array -> records, ok
//	200 + malformed body   -> empty, degraded
//	404                    -> empty, ok (feed legitimately absent)
//	429                    -> defer the gate, back off, retry
//	anything else          -> short fixed delay, retry
func (c *Client) Fetch(ctx context.Context) ([]Record, bool) {
	now := c.now()

	// Respect a previous Retry-After before touching the network.
	if nb := c.gate.NotBefore(); now.Before(nb) {
		wait := nb.Sub(now)
		c.log.Info("backoff gate active", logx.Time("until", nb), logx.Duration("wait", wait))
		if wait > maxGateSleep {
			wait = maxGateSleep
		}
		c.sleep(ctx, wait)
	}

	backoff := backoffBase
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}

		records, status, retryAfter, err := c.doGet(ctx)
		if err == nil && status == http.StatusOK {
			if records == nil {
				// Malformed body already logged in doGet.
				metrics.FeedFetches.WithLabelValues("malformed").Inc()
				return nil, false
			}
			metrics.FeedFetches.WithLabelValues("ok").Inc()
			return records, true
		}

		switch {
		case err != nil:
			c.log.Warn("feed request failed", logx.Err(err), logx.Int("attempt", attempt))
			metrics.FeedFetches.WithLabelValues("error").Inc()
			c.sleep(ctx, 500*time.Millisecond+c.jitter(0, 0.5))

		case status == http.StatusNotFound:
			c.log.Info("feed returned 404", logx.String("url", c.url))
			metrics.FeedFetches.WithLabelValues("not_found").Inc()
			return []Record{}, true

		case status == http.StatusTooManyRequests:
			delay := backoff
			if retryAfter > 0 {
				delay = retryAfter
			}
			delay += c.jitter(0.2, 0.8)
			until := c.now().Add(delay)
			c.gate.Defer(until)
			c.log.Info("feed rate limited",
				logx.Time("next_allowed", until),
				logx.Int("attempt", attempt),
				logx.Int("max", fetchAttempts))
			metrics.FeedFetches.WithLabelValues("rate_limited").Inc()
			c.sleep(ctx, delay)
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}

		default:
			c.log.Info("feed returned unexpected status", logx.Int("status", status))
			metrics.FeedFetches.WithLabelValues("http_error").Inc()
			c.sleep(ctx, 500*time.Millisecond+c.jitter(0, 0.5))
		}
	}

	c.log.Warn("feed giving up after retries", logx.String("url", c.url))
	return nil, false
}

// doGet performs a single GET. A malformed 200 body comes back as
// (nil, 200, 0, nil); 429 carries a parsed Retry-After when present.
func (c *Client) doGet(ctx context.Context) ([]Record, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}
	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, resp.StatusCode, 0, nil
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		c.log.Info("feed body is not a JSON array", logx.Err(err))
		return nil, resp.StatusCode, 0, nil
	}
	if records == nil {
		records = []Record{}
	}
	return records, resp.StatusCode, 0, nil
}
