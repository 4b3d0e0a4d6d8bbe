package config

import (
	"fmt"
	"strings"
	"time"
)

// Interval fields (feed.timeout, feed.cache_ttl, scheduler.poll_interval,
// scheduler.lease_ttl) are Go duration strings: "20s", "5m", "1h30m".

// ParseDurationField parses one such field. Empty means "not set" and maps
// to zero so the caller can substitute its default; negative values are
// rejected so a stray "-5m" cannot silently disable a cache tier or stretch
// a lease. path names the field in the returned error, e.g. "feed.timeout".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with the default folded in:
// unset or zero fields yield def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
