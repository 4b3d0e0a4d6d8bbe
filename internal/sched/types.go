package sched

import (
	"context"
	"strings"
	"time"

	"fxcalbot/internal/cache"
	"fxcalbot/internal/calendar"
)

const (
	// alertWindow is the tolerance around now+lead when matching alert
	// targets. It must exceed half the poll interval or events fall
	// between ticks.
	alertWindow = 2 * time.Minute

	digestBatchSize = 8

	deliveryRetention = 14 * 24 * time.Hour

	leaseName = "scheduler"
)

type Config struct {
	Enabled      bool
	PollInterval time.Duration
	Timezone     *time.Location
	RatePerSec   int
	LeaseTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Second
	}
	if c.Timezone == nil {
		c.Timezone = time.UTC
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 3 * c.PollInterval
	}
	return c
}

// EventSource is the slice of the cache the scheduler needs.
type EventSource interface {
	Events(ctx context.Context, locale string) ([]calendar.Event, cache.Status)
}

// parseHHMM converts "HH:MM" into minutes since local midnight.
func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// splitList parses a comma-separated filter string. Empty input means
// "no filter".
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
