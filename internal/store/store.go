// Package store persists thread logs, engine settings and scheduled closures in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS thread_logs (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		creator_id TEXT NOT NULL DEFAULT '',
		opened_at INTEGER NOT NULL,
		closed_at INTEGER,
		closer_id TEXT NOT NULL DEFAULT '',
		close_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_thread_logs_recipient ON thread_logs(recipient_id)`,
	`CREATE INDEX IF NOT EXISTS idx_thread_logs_closed_at ON thread_logs(closed_at)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS closures (
		recipient_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		fire_at INTEGER NOT NULL,
		closer_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		silent INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (recipient_id, kind)
	)`,
}

// ThreadLog is one opened (and possibly closed) thread.
type ThreadLog struct {
	ID           string
	RecipientID  string
	ChannelID    string
	CreatorID    string
	OpenedAt     time.Time
	ClosedAt     time.Time
	CloserID     string
	CloseMessage string
}

// Open reports whether the log has not been closed.
func (l ThreadLog) Open() bool {
	return l.ClosedAt.IsZero()
}

// CloseRecord marks a thread log as closed.
type CloseRecord struct {
	LogID       string
	RecipientID string
	ChannelID   string
	CloserID    string
	Message     string
	ClosedAt    time.Time
}

// Closure is a persisted scheduled close.
type Closure struct {
	RecipientID string
	Kind        string
	FireAt      time.Time
	CloserID    string
	Message     string
	Silent      bool
}

// Store is a SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordOpen inserts a thread log and returns its id.
func (s *Store) RecordOpen(ctx context.Context, log ThreadLog) (string, error) {
	if strings.TrimSpace(log.RecipientID) == "" {
		return "", fmt.Errorf("recipient id is required")
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.OpenedAt.IsZero() {
		log.OpenedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_logs (id, recipient_id, channel_id, creator_id, opened_at)
		VALUES (?, ?, ?, ?, ?)
	`, log.ID, log.RecipientID, log.ChannelID, log.CreatorID, log.OpenedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert thread log: %w", err)
	}
	return log.ID, nil
}

// RecordClose closes the matching open log. Without a log id the open log for the
// recipient and channel is closed; when none exists a closed log is inserted.
func (s *Store) RecordClose(ctx context.Context, rec CloseRecord) error {
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = time.Now()
	}
	closedAt := rec.ClosedAt.UnixMilli()
	var (
		res sql.Result
		err error
	)
	if rec.LogID != "" {
		res, err = s.db.ExecContext(ctx, `
			UPDATE thread_logs SET closed_at = ?, closer_id = ?, close_message = ?
			WHERE id = ? AND closed_at IS NULL
		`, closedAt, rec.CloserID, rec.Message, rec.LogID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE thread_logs SET closed_at = ?, closer_id = ?, close_message = ?
			WHERE recipient_id = ? AND channel_id = ? AND closed_at IS NULL
		`, closedAt, rec.CloserID, rec.Message, rec.RecipientID, rec.ChannelID)
	}
	if err != nil {
		return fmt.Errorf("close thread log: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 || rec.LogID != "" {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thread_logs (id, recipient_id, channel_id, opened_at, closed_at, closer_id, close_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), rec.RecipientID, rec.ChannelID, closedAt, closedAt, rec.CloserID, rec.Message)
	if err != nil {
		return fmt.Errorf("insert closed thread log: %w", err)
	}
	return nil
}

// CountClosed returns how many closed threads the recipient has had.
func (s *Store) CountClosed(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM thread_logs WHERE recipient_id = ? AND closed_at IS NOT NULL
	`, recipientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count thread logs: %w", err)
	}
	return n, nil
}

// ThreadLogs returns the recipient's logs, newest first.
func (s *Store) ThreadLogs(ctx context.Context, recipientID string) ([]ThreadLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, channel_id, creator_id, opened_at, closed_at, closer_id, close_message
		FROM thread_logs WHERE recipient_id = ? ORDER BY opened_at DESC
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("query thread logs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var out []ThreadLog
	for rows.Next() {
		var (
			log      ThreadLog
			openedAt int64
			closedAt sql.NullInt64
		)
		if err := rows.Scan(&log.ID, &log.RecipientID, &log.ChannelID, &log.CreatorID, &openedAt, &closedAt, &log.CloserID, &log.CloseMessage); err != nil {
			return nil, fmt.Errorf("scan thread log: %w", err)
		}
		log.OpenedAt = time.UnixMilli(openedAt)
		if closedAt.Valid {
			log.ClosedAt = time.UnixMilli(closedAt.Int64)
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

// PruneClosedBefore deletes closed logs older than cutoff.
func (s *Store) PruneClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM thread_logs WHERE closed_at IS NOT NULL AND closed_at < ?
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune thread logs: %w", err)
	}
	return res.RowsAffected()
}

// Setting returns a stored setting, or "" when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}
	return nil
}

// SaveClosure stores or replaces a scheduled close.
func (s *Store) SaveClosure(ctx context.Context, c Closure) error {
	silent := 0
	if c.Silent {
		silent = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO closures (recipient_id, kind, fire_at, closer_id, message, silent)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.RecipientID, c.Kind, c.FireAt.UnixMilli(), c.CloserID, c.Message, silent)
	if err != nil {
		return fmt.Errorf("save closure: %w", err)
	}
	return nil
}

// DeleteClosure removes a scheduled close. An empty kind removes every kind.
func (s *Store) DeleteClosure(ctx context.Context, recipientID, kind string) error {
	var err error
	if kind == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM closures WHERE recipient_id = ?`, recipientID)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM closures WHERE recipient_id = ? AND kind = ?`, recipientID, kind)
	}
	if err != nil {
		return fmt.Errorf("delete closure: %w", err)
	}
	return nil
}

// ListClosures returns every persisted closure ordered by fire time.
func (s *Store) ListClosures(ctx context.Context) ([]Closure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recipient_id, kind, fire_at, closer_id, message, silent FROM closures ORDER BY fire_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query closures: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var out []Closure
	for rows.Next() {
		var (
			c      Closure
			fireAt int64
			silent int
		)
		if err := rows.Scan(&c.RecipientID, &c.Kind, &fireAt, &c.CloserID, &c.Message, &silent); err != nil {
			return nil, fmt.Errorf("scan closure: %w", err)
		}
		c.FireAt = time.UnixMilli(fireAt)
		c.Silent = silent != 0
		out = append(out, c)
	}
	return out, rows.Err()
}
