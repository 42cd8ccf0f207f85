// Package history keeps an append-only log of dispatched notifications.
package history

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/internal/sqlite"
	"github.com/cloudbox/stampwatch/migrate"
)

// Entry is a single dispatched notification.
type Entry struct {
	ID        int64                  `json:"id"`
	Stamp     stampwatch.StampID     `json:"stamp_id"`
	StampName string                 `json:"stamp_name"`
	Channels  []stampwatch.ChannelID `json:"channels"`
	Content   string                 `json:"content"`
	Delivered bool                   `json:"delivered"`
	Error     string                 `json:"error,omitempty"`
	Time      time.Time              `json:"time"`
}

// Store persists notification entries.
type Store struct {
	db *sqlite.DB
}

//go:embed migrations
var migrations embed.FS

// New applies the history migrations and returns a Store backed by db.
func New(ctx context.Context, db *sqlite.DB) (*Store, error) {
	mg, err := migrate.New(ctx, db.RW(), "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	if err := mg.Migrate(ctx, migrations, "history"); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

const sqlInsert = `
INSERT INTO notification (stamp_id, stamp_name, channels, content, delivered, error, time)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

// Record appends e to the log. The ID and a zero Time are filled in.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.Time.IsZero() {
		e.Time = now()
	}

	channels := e.Channels
	if channels == nil {
		channels = []stampwatch.ChannelID{}
	}

	b, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	res, err := s.db.RW().ExecContext(ctx, sqlInsert,
		string(e.Stamp), e.StampName, string(b), e.Content, e.Delivered, e.Error, e.Time.Unix())
	if err != nil {
		return fmt.Errorf("exec insert: %w", err)
	}

	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	return nil
}

const sqlRecent = `
SELECT id, stamp_id, stamp_name, channels, content, delivered, error, time
FROM notification
ORDER BY time DESC, id DESC
LIMIT ?
`

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) (entries []Entry, err error) {
	if limit <= 0 {
		return []Entry{}, nil
	}

	rows, err := s.db.RO().QueryContext(ctx, sqlRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}

	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("rows close: %w", cerr)
		}
	}()

	entries = make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e        Entry
			stamp    string
			channels string
			unix     int64
		)

		if err = rows.Scan(&e.ID, &stamp, &e.StampName, &channels, &e.Content, &e.Delivered, &e.Error, &unix); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		if err = json.Unmarshal([]byte(channels), &e.Channels); err != nil {
			return nil, fmt.Errorf("unmarshal channels %d: %w", e.ID, err)
		}

		e.Stamp = stampwatch.StampID(stamp)
		e.Time = time.Unix(unix, 0)
		entries = append(entries, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}

const sqlCount = `SELECT COUNT(*) FROM notification`

// Count returns the number of recorded entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.RO().QueryRowContext(ctx, sqlCount).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	return count, nil
}

var now = time.Now
