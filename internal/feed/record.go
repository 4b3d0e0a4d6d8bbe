package feed

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexString tolerates upstream fields arriving as strings, numbers, bools or
// null. The feed schema is loose; everything is coerced to a trimmed string
// and validated later, at the normalization boundary.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*f = ""
		return nil
	}
	if s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(v))
		return nil
	}
	if s == "true" || s == "false" {
		*f = FlexString(s)
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexString(strconv.FormatFloat(v, 'f', -1, 64))
		return nil
	}
	// Unknown scalar/shape: keep the raw text rather than failing the batch.
	*f = FlexString(s)
	return nil
}

func (f FlexString) String() string { return string(f) }

// Record is one raw feed item. Only the timestamp and title are required;
// every other field is optional and schema-tolerant. Records are ephemeral:
// they live in the raw cache until normalized or expired.
type Record struct {
	Date        FlexString `json:"date"`
	Title       FlexString `json:"title"`
	Event       FlexString `json:"event"`
	Country     FlexString `json:"country"`
	CountryCode FlexString `json:"countryCode"`
	Currency    FlexString `json:"currency"`
	Impact      FlexString `json:"impact"`
	Forecast    FlexString `json:"forecast"`
	Previous    FlexString `json:"previous"`
	Actual      FlexString `json:"actual"`
	URL         FlexString `json:"url"`
	Link        FlexString `json:"link"`
}

// TitleField returns the title under either of its upstream keys.
func (r Record) TitleField() string {
	if r.Title != "" {
		return string(r.Title)
	}
	return string(r.Event)
}

// CountryField returns the country under either of its upstream keys.
func (r Record) CountryField() string {
	if r.Country != "" {
		return string(r.Country)
	}
	return string(r.CountryCode)
}

// URLField returns the source link under either of its upstream keys.
func (r Record) URLField() string {
	if r.URL != "" {
		return string(r.URL)
	}
	return string(r.Link)
}
