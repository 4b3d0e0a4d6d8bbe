package storage

import "time"

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Subscription is a chat's notification preferences. ChatID is the chat the
// subscription was created in; OutChatID, when non-zero, redirects deliveries
// to another chat (channel hand-off).
type Subscription struct {
	UserID         int64
	ChatID         int64
	OutChatID      int64
	Locale         string
	DigestTime     string // "HH:MM", local clock
	ImpactFilter   string // comma-separated, empty means all
	CurrencyFilter string // comma-separated, empty means all
	AlertMinutes   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const (
	DefaultDigestTime   = "09:00"
	DefaultImpactFilter = "High,Medium"
	DefaultAlertMinutes = 30
)

// Target returns the chat deliveries should be addressed to.
func (s Subscription) Target() int64 {
	if s.OutChatID != 0 {
		return s.OutChatID
	}
	return s.ChatID
}

// Delivery kinds recorded in the ledger.
const (
	KindAlert  = "alert"
	KindDigest = "digest"
)
