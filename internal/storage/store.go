package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devblac/chain-sentinel/internal/alert"
	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for alerts, sends, dedupe, cursors,
// and protocol subscriptions.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// pragmas are per connection; writers share this one
	db.SetMaxOpenConns(1)
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  stream      TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS alerts (
  id            TEXT PRIMARY KEY,
  kind          TEXT NOT NULL,
  severity      TEXT NOT NULL,
  title         TEXT NOT NULL,
  message       TEXT NOT NULL,
  source        TEXT NOT NULL,
  tx_hash       TEXT,
  payload_json  TEXT,
  acknowledged  INTEGER NOT NULL DEFAULT 0,
  resolved      INTEGER NOT NULL DEFAULT 0,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS alerts_created_at ON alerts(created_at);

CREATE TABLE IF NOT EXISTS sends (
  alert_id      TEXT NOT NULL,
  sink_id       TEXT NOT NULL,
  status        TEXT NOT NULL,
  response_code INTEGER,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(alert_id, sink_id)
);

CREATE TABLE IF NOT EXISTS dedupe (
  key         TEXT PRIMARY KEY,
  expires_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
  protocol    TEXT NOT NULL,
  address     TEXT NOT NULL,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(protocol, address)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertCursor records the latest processed height/hash for a stream.
func (s *Store) UpsertCursor(ctx context.Context, stream string, height uint64, hash string) error {
	if stream == "" {
		return errors.New("stream required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (stream, height, hash, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(stream) DO UPDATE SET
  height=excluded.height,
  hash=excluded.hash,
  updated_at=CURRENT_TIMESTAMP;
`, stream, height, hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a stream.
func (s *Store) GetCursor(ctx context.Context, stream string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, hash FROM cursors WHERE stream = ?;
`, stream)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// MarkDedupe sets or refreshes a dedupe key until expiresAt.
func (s *Store) MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return errors.New("key required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dedupe (key, expires_at)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at=excluded.expires_at;
`, key, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("mark dedupe: %w", err)
	}
	return nil
}

// IsDuplicate returns true if the key exists and is not expired; expired entries are pruned.
func (s *Store) IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("key required")
	}

	var expires time.Time
	err := s.db.QueryRowContext(ctx, `
SELECT expires_at FROM dedupe WHERE key = ?;
`, key).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dedupe: %w", err)
	}

	if expires.After(now.UTC()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedupe WHERE key = ?;`, key); err != nil {
		return false, fmt.Errorf("prune dedupe: %w", err)
	}
	return false, nil
}

// InsertAlert stores an alert; the primary key rejects a second insert of the same id.
func (s *Store) InsertAlert(ctx context.Context, a alert.Alert) error {
	if a.ID == "" || a.Title == "" {
		return errors.New("alert id and title required")
	}
	payload, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode alert metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO alerts (id, kind, severity, title, message, source, tx_hash, payload_json, acknowledged, resolved, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, a.ID, string(a.Kind), string(a.Severity), a.Title, a.Message, a.Source, nullString(a.TxHash()),
		string(payload), a.Acknowledged, a.Resolved, nullTime(a.Timestamp))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns up to limit alerts, newest first. limit <= 0 returns all.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]alert.Alert, error) {
	query := `
SELECT id, kind, severity, title, message, source, payload_json, acknowledged, resolved, created_at
FROM alerts ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := []alert.Alert{}
	for rows.Next() {
		var (
			a       alert.Alert
			kind    string
			sev     string
			payload sql.NullString
		)
		if err := rows.Scan(&a.ID, &kind, &sev, &a.Title, &a.Message, &a.Source, &payload, &a.Acknowledged, &a.Resolved, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Kind, a.Severity = alert.Kind(kind), alert.Severity(sev)
		a.Metadata = map[string]any{}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode alert %s metadata: %w", a.ID, err)
			}
		}
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Send represents a sink delivery record.
type Send struct {
	AlertID      string
	SinkID       string
	Status       string
	ResponseCode int
	CreatedAt    time.Time
}

// Send statuses.
const (
	SendSent   = "sent"
	SendFailed = "failed"
)

// InsertSend records a sink delivery attempt; primary key enforces exactly-once per alert/sink.
func (s *Store) InsertSend(ctx context.Context, srec Send) error {
	if srec.AlertID == "" || srec.SinkID == "" || srec.Status == "" {
		return errors.New("alert_id, sink_id, and status are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sends (alert_id, sink_id, status, response_code, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, srec.AlertID, srec.SinkID, srec.Status, srec.ResponseCode, nullTime(srec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert send: %w", err)
	}
	return nil
}

// Subscription is one persisted (protocol, address) pair.
type Subscription struct {
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
}

// AddSubscription persists a pair; re-adding is a no-op.
func (s *Store) AddSubscription(ctx context.Context, protocol, address string) error {
	return addSubscription(ctx, s.db, protocol, address)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func addSubscription(ctx context.Context, db execer, protocol, address string) error {
	protocol, address = normalize(protocol), normalize(address)
	if protocol == "" || address == "" {
		return errors.New("protocol and address required")
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO subscriptions (protocol, address) VALUES (?, ?)
ON CONFLICT(protocol, address) DO NOTHING;
`, protocol, address)
	if err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	return nil
}

// SeedSubscriptions persists many pairs atomically.
func (s *Store) SeedSubscriptions(ctx context.Context, subs []Subscription) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, sub := range subs {
			if err := addSubscription(ctx, tx, sub.Protocol, sub.Address); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveSubscription deletes a pair if present.
func (s *Store) RemoveSubscription(ctx context.Context, protocol, address string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM subscriptions WHERE protocol = ? AND address = ?;
`, normalize(protocol), normalize(address))
	if err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns every stored pair ordered by protocol then address.
func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT protocol, address FROM subscriptions ORDER BY protocol, address;
`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	out := []Subscription{}
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Protocol, &sub.Address); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
