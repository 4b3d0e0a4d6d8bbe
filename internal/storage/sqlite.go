package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "fxcalbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store wraps a single-writer SQLite database.
type Store struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// SetClock injects the time source (tests).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- subscriptions ----

func (s *Store) UpsertSubscription(ctx context.Context, sub Subscription) error {
	if sub.DigestTime == "" {
		sub.DigestTime = DefaultDigestTime
	}
	if sub.AlertMinutes <= 0 {
		sub.AlertMinutes = DefaultAlertMinutes
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(chat_id, user_id, out_chat_id, locale, digest_time, impact_filter, currency_filter, alert_minutes, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   user_id=excluded.user_id,
		   out_chat_id=excluded.out_chat_id,
		   locale=excluded.locale,
		   digest_time=excluded.digest_time,
		   impact_filter=excluded.impact_filter,
		   currency_filter=excluded.currency_filter,
		   alert_minutes=excluded.alert_minutes,
		   updated_at=excluded.updated_at`,
		sub.ChatID, sub.UserID, sub.OutChatID, sub.Locale, sub.DigestTime,
		sub.ImpactFilter, sub.CurrencyFilter, sub.AlertMinutes, now, now,
	)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, chatID int64) (Subscription, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, user_id, out_chat_id, locale, digest_time, impact_filter, currency_filter, alert_minutes, created_at, updated_at
		 FROM subscriptions WHERE chat_id = ?`, chatID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, err
	}
	return sub, true, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, user_id, out_chat_id, locale, digest_time, impact_filter, currency_filter, alert_minutes, created_at, updated_at
		 FROM subscriptions ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (Subscription, error) {
	var sub Subscription
	var created, updated string
	err := r.Scan(&sub.ChatID, &sub.UserID, &sub.OutChatID, &sub.Locale, &sub.DigestTime,
		&sub.ImpactFilter, &sub.CurrencyFilter, &sub.AlertMinutes, &created, &updated)
	if err != nil {
		return Subscription{}, err
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return sub, nil
}

// ---- delivery ledger ----

// InsertDelivery records a delivery after the send attempt. The primary key
// makes the insert idempotent: a second insert for the same (chat, event,
// kind) is ignored and reported as inserted=false.
func (s *Store) InsertDelivery(ctx context.Context, chatID int64, dedupKey, kind string) (bool, error) {
	if dedupKey == "" {
		return false, errors.New("empty dedup key")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deliveries(chat_id, dedup_key, kind, sent_at) VALUES(?,?,?,?)`,
		chatID, dedupKey, kind, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) WasDelivered(ctx context.Context, chatID int64, dedupKey, kind string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM deliveries WHERE chat_id = ? AND dedup_key = ? AND kind = ?`,
		chatID, dedupKey, kind).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PruneDeliveries drops ledger rows older than the retention window.
func (s *Store) PruneDeliveries(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE sent_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ---- leases ----

// AcquireLease takes the named lease for owner if it is free, already held
// by owner, or expired. SQLite has no advisory locks, so a TTL row stands in.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.now().UnixMilli()
	exp := now + ttl.Milliseconds()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leases(name, owner, expires_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET owner=excluded.owner, expires_at=excluded.expires_at
		 WHERE leases.owner = excluded.owner OR leases.expires_at < ?`,
		name, owner, exp, now,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner)
	return err
}
