package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Feed      FeedConfig      `json:"feed"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// FeedConfig controls the upstream calendar feed and the dual-tier cache.
//
// All durations are Go duration strings (e.g. "30s", "10m").
type FeedConfig struct {
	URL string `json:"url"`
	// Timeout bounds a single HTTP fetch. Default "20s".
	Timeout string `json:"timeout,omitempty"`
	// RawTTL is the shared raw-payload cache TTL. Default "10m".
	RawTTL string `json:"raw_ttl,omitempty"`
	// EventsTTL is the per-locale derived cache TTL. Default "2m".
	EventsTTL string `json:"events_ttl,omitempty"`
	// StaleTTL is the emergency TTL used when serving stale data after a
	// failed refresh. Default "2m".
	StaleTTL string `json:"stale_ttl,omitempty"`

	// MetalsPath optionally points at a JSON file produced by the offline
	// metals/crypto scraper. Events from it are merged into the calendar.
	MetalsPath string `json:"metals_path,omitempty"`
}

// SchedulerConfig controls the notification loop.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// PollInterval between ticks. Default "300s".
	PollInterval string `json:"poll_interval,omitempty"`
	// Timezone is the IANA zone digest times and alert windows are
	// computed in, shared by all subscribers. Default "UTC".
	Timezone string `json:"timezone,omitempty"`
	// RatePerSec caps outbound sends. Default 3.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// LeaseTTL for the single-scheduler lease. Default "90s".
	LeaseTTL string `json:"lease_ttl,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
}

// ApplyEnv overlays secrets and deploy-specific values from the environment.
// Env always wins over the file so tokens never need to live on disk.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("BOT_TOKEN")); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("FEED_URL")); v != "" {
		c.Feed.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_PATH")); v != "" {
		c.Storage.Path = v
	}
}

// Validate rejects configurations the process cannot start with.
// Steady-state code never re-validates; bad config is fatal here only.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required (or BOT_TOKEN env)")
	}
	if strings.TrimSpace(c.Feed.URL) == "" {
		return errors.New("feed.url is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":   c.Telegram.PollTimeout,
		"feed.timeout":            c.Feed.Timeout,
		"feed.raw_ttl":            c.Feed.RawTTL,
		"feed.events_ttl":         c.Feed.EventsTTL,
		"feed.stale_ttl":          c.Feed.StaleTTL,
		"scheduler.poll_interval": c.Scheduler.PollInterval,
		"scheduler.lease_ttl":     c.Scheduler.LeaseTTL,
		"storage.busy_timeout":    c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}
