package calendar

import "strings"

func lower(s string) string       { return strings.ToLower(s) }
func contains(s, sub string) bool { return strings.Contains(s, sub) }

// impactAliases maps case-insensitive substrings of the raw impact text to the
// canonical enum. Order matters: first match wins on the letters-only form.
var impactAliases = []struct {
	alias  string
	impact Impact
}{
	{"high", ImpactHigh},
	{"medium", ImpactMedium},
	{"med", ImpactMedium},
	{"low", ImpactLow},
	// important: Holiday -> Non-economic
	{"holiday", ImpactNonEconomic},
	{"noneconomic", ImpactNonEconomic},
}

// NormalizeImpact maps free-text impact ("med", "Bank Holiday", ...) to the
// canonical enum. Unknown or empty text maps to ImpactUnknown.
func NormalizeImpact(raw string) Impact {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ImpactUnknown
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	k := b.String()
	for _, a := range impactAliases {
		if strings.Contains(k, a.alias) {
			return a.impact
		}
	}
	return ImpactUnknown
}

// NormalizeCurrency reduces a raw currency field to an upper-case letter code
// (max 4 chars). Empty means "no resolvable currency".
func NormalizeCurrency(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 4 {
		out = out[:4]
	}
	return out
}

// Matches reports whether an event passes the subscriber's filters.
// Empty filter slices mean "unrestricted on that dimension".
//
// The asymmetry here is deliberate and load-bearing:
//   - impact-lenient: an event whose impact is unknown passes a non-empty
//     impact filter (neutral/holiday entries get the benefit of the doubt);
//   - currency-strict: an event with no resolvable currency is excluded by a
//     non-empty currency filter.
func Matches(ev Event, impacts, currencies []string) bool {
	if len(impacts) > 0 {
		imp := NormalizeImpact(string(ev.Impact))
		if imp != ImpactUnknown {
			ok := false
			for _, want := range impacts {
				if NormalizeImpact(want) == imp {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
	}

	if len(currencies) > 0 {
		cur := NormalizeCurrency(ev.Currency)
		if cur == "" {
			return false
		}
		ok := false
		for _, want := range currencies {
			if NormalizeCurrency(want) == cur {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	return true
}

// MatchesCategory applies the optional category filter on top of Matches.
func MatchesCategory(ev Event, categories []Category) bool {
	if len(categories) == 0 {
		return true
	}
	got := Categorize(ev)
	for _, c := range categories {
		if c == got {
			return true
		}
	}
	return false
}

// FilterEvents returns the subset of events passing the filters, preserving order.
func FilterEvents(events []Event, impacts, currencies []string) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if Matches(ev, impacts, currencies) {
			out = append(out, ev)
		}
	}
	return out
}
