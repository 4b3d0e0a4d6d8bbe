package calendar

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// Impact is the canonical importance level of a calendar entry.
type Impact string

const (
	ImpactHigh        Impact = "High"
	ImpactMedium      Impact = "Medium"
	ImpactLow         Impact = "Low"
	ImpactNonEconomic Impact = "Non-economic"
	ImpactUnknown     Impact = ""
)

// Category is a coarse market bucket used by secondary filters.
type Category string

const (
	CategoryForex  Category = "forex"
	CategoryCrypto Category = "crypto"
	CategoryMetals Category = "metals"
)

// Event is a canonical, deduplicated calendar entry.
//
// At is always UTC. Title may be localized for display; DedupKey is computed
// from the canonical (untranslated) title so locale never splits identities.
// Events are immutable once built by the normalizer.
type Event struct {
	At       time.Time
	Title    string
	Country  string
	Currency string
	Impact   Impact

	Forecast string
	Previous string
	Actual   string
	URL      string

	DedupKey string
}

// dedupKey collapses duplicate raw records into one identity:
// sha1 over (instant, title, country, currency, impact).
func dedupKey(at time.Time, title, country, currency string, impact Impact) string {
	h := sha1.New()
	h.Write([]byte(at.UTC().Format(time.RFC3339)))
	h.Write([]byte{'|'})
	h.Write([]byte(title))
	h.Write([]byte{'|'})
	h.Write([]byte(country))
	h.Write([]byte{'|'})
	h.Write([]byte(currency))
	h.Write([]byte{'|'})
	h.Write([]byte(impact))
	return hex.EncodeToString(h.Sum(nil))
}

var (
	cryptoCurrencies = map[string]bool{
		"BTC": true, "ETH": true, "XRP": true, "SOL": true, "LTC": true,
	}
	metalCurrencies = map[string]bool{
		"XAU": true, "XAG": true, "XPT": true, "XPD": true,
	}
	cryptoKeywords = []string{"bitcoin", "ethereum", "crypto", "halving", "blockchain"}
	metalKeywords  = []string{"gold", "silver", "platinum", "palladium", "copper"}
)

// Categorize buckets an event as forex/crypto/metals. It is a heuristic on
// currency code first, then title keywords. Anything unmatched is forex so
// uncategorized events are never silently dropped.
func Categorize(ev Event) Category {
	cur := NormalizeCurrency(ev.Currency)
	switch {
	case cryptoCurrencies[cur]:
		return CategoryCrypto
	case metalCurrencies[cur]:
		return CategoryMetals
	}
	title := lower(ev.Title)
	for _, kw := range cryptoKeywords {
		if contains(title, kw) {
			return CategoryCrypto
		}
	}
	for _, kw := range metalKeywords {
		if contains(title, kw) {
			return CategoryMetals
		}
	}
	return CategoryForex
}
