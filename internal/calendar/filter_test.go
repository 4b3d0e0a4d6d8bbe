package calendar

import (
	"testing"
	"time"
)

func mkEvent(currency string, impact Impact) Event {
	return Event{
		At:       time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		Title:    "CPI m/m",
		Country:  "US",
		Currency: currency,
		Impact:   impact,
	}
}

func TestNormalizeImpact(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Impact
	}{
		{"High", ImpactHigh},
		{"HIGH IMPACT", ImpactHigh},
		{"med", ImpactMedium},
		{"Medium", ImpactMedium},
		{"low", ImpactLow},
		{"Bank Holiday", ImpactNonEconomic},
		{"Non-Economic", ImpactNonEconomic},
		{"", ImpactUnknown},
		{"???", ImpactUnknown},
		{"gray", ImpactUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeImpact(tt.raw); got != tt.want {
			t.Errorf("NormalizeImpact(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{"usd", "USD"},
		{" EUR ", "EUR"},
		{"U.S. Dollar", "USDO"},
		{"", ""},
		{"123", ""},
	}
	for _, tt := range tests {
		if got := NormalizeCurrency(tt.raw); got != tt.want {
			t.Errorf("NormalizeCurrency(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestMatchesEmptyFiltersPassEverything(t *testing.T) {
	t.Parallel()
	events := []Event{
		mkEvent("USD", ImpactHigh),
		mkEvent("", ImpactUnknown),
		mkEvent("XAU", ImpactLow),
	}
	for i, ev := range events {
		if !Matches(ev, nil, nil) {
			t.Errorf("event %d should pass empty filters", i)
		}
	}
}

func TestMatchesImpactLenient(t *testing.T) {
	t.Parallel()
	impacts := []string{"High", "Medium"}

	if !Matches(mkEvent("USD", ImpactHigh), impacts, nil) {
		t.Error("High event should pass High,Medium filter")
	}
	if Matches(mkEvent("USD", ImpactLow), impacts, nil) {
		t.Error("Low event should be excluded by High,Medium filter")
	}
	// Unknown impact passes a non-empty impact filter.
	if !Matches(mkEvent("USD", ImpactUnknown), impacts, nil) {
		t.Error("unknown-impact event should pass a non-empty impact filter")
	}
}

func TestMatchesCurrencyStrict(t *testing.T) {
	t.Parallel()
	currencies := []string{"USD", "EUR"}

	if !Matches(mkEvent("USD", ImpactHigh), nil, currencies) {
		t.Error("USD event should pass USD,EUR filter")
	}
	if Matches(mkEvent("JPY", ImpactHigh), nil, currencies) {
		t.Error("JPY event should be excluded by USD,EUR filter")
	}
	// No resolvable currency is excluded by a non-empty currency filter.
	if Matches(mkEvent("", ImpactHigh), nil, currencies) {
		t.Error("currency-less event should be excluded by a non-empty currency filter")
	}
}

func TestMatchesFilterAliases(t *testing.T) {
	t.Parallel()
	if !Matches(mkEvent("usd", "HIGH impact"), []string{"high"}, []string{" Usd "}) {
		t.Error("raw field spellings should normalize on both sides")
	}
}

func TestCategorize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		currency string
		title    string
		want     Category
	}{
		{"crypto currency", "BTC", "Something", CategoryCrypto},
		{"metal currency", "XAU", "Something", CategoryMetals},
		{"crypto keyword", "", "Bitcoin Halving", CategoryCrypto},
		{"metal keyword", "USD", "Gold Reserves Report", CategoryMetals},
		{"default forex", "USD", "CPI m/m", CategoryForex},
		{"unmatched", "", "Mystery Entry", CategoryForex},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ev := mkEvent(tt.currency, ImpactHigh)
			ev.Title = tt.title
			if got := Categorize(ev); got != tt.want {
				t.Fatalf("Categorize = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterEventsPreservesOrder(t *testing.T) {
	t.Parallel()
	events := []Event{
		mkEvent("USD", ImpactHigh),
		mkEvent("JPY", ImpactHigh),
		mkEvent("EUR", ImpactMedium),
	}
	got := FilterEvents(events, nil, []string{"USD", "EUR"})
	if len(got) != 2 || got[0].Currency != "USD" || got[1].Currency != "EUR" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
}
