package calendar

import (
	"sort"
	"strings"
	"time"

	"fxcalbot/internal/feed"
	logx "fxcalbot/pkg/logx"
)

// Normalizer converts raw feed records into canonical Events.
type Normalizer struct {
	lookup Lookup
	log    logx.Logger
}

func NewNormalizer(lookup Lookup, log logx.Logger) *Normalizer {
	if lookup == nil {
		lookup = StaticLookup{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Normalizer{lookup: lookup, log: log}
}

// Timestamp layouts seen in the wild. RFC3339 first; the rest are the lenient
// fallbacks (zone-less forms are taken as UTC).
var whenLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339, true},
	{"2006-01-02T15:04:05Z0700", true},
	{"2006-01-02 15:04:05Z07:00", true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"01-02-2006 3:04pm", false},
}

// ParseWhen parses a feed timestamp and coerces it to UTC.
func ParseWhen(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	var lastErr error
	for _, l := range whenLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, time.UTC)
		}
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Normalize builds canonical Events from raw records:
// parse timestamp (drop if unparseable), canonicalize impact and currency,
// gloss the title for the locale, coalesce duplicates by dedup key, sort
// ascending by instant. A record failing any step is skipped, never fatal.
func (n *Normalizer) Normalize(records []feed.Record, locale string) []Event {
	uniq := make(map[string]Event, len(records))
	skipped := 0

	for _, r := range records {
		raw := strings.TrimSpace(string(r.Date))
		if raw == "" {
			skipped++
			continue
		}
		at, err := ParseWhen(raw)
		if err != nil {
			skipped++
			continue
		}

		title := r.TitleField()
		impact := NormalizeImpact(string(r.Impact))
		country := strings.TrimSpace(r.CountryField())
		currency := NormalizeCurrency(string(r.Currency))

		ev := Event{
			At:       at,
			Title:    n.lookup.Translate(locale, title),
			Country:  country,
			Currency: currency,
			Impact:   impact,
			Forecast: strings.TrimSpace(string(r.Forecast)),
			Previous: strings.TrimSpace(string(r.Previous)),
			Actual:   strings.TrimSpace(string(r.Actual)),
			URL:      strings.TrimSpace(r.URLField()),
			// Identity uses the canonical title, not the localized one.
			DedupKey: dedupKey(at, title, country, currency, impact),
		}
		uniq[ev.DedupKey] = ev
	}

	out := make([]Event, 0, len(uniq))
	for _, ev := range uniq {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].DedupKey < out[j].DedupKey
	})

	if skipped > 0 {
		n.log.Debug("records skipped during normalization",
			logx.Int("skipped", skipped), logx.Int("kept", len(out)))
	}
	return out
}
