package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/initd/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the database file. Use ":memory:" for tests.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// One connection: writes are serialized anyway, and an in-memory database
	// exists per connection.
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS init_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT NOT NULL,
			event TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NOT NULL,
			at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_init_events_service ON init_events(service);`,
		`CREATE INDEX IF NOT EXISTS idx_init_events_at ON init_events(at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) RecordEvent(ctx context.Context, ev store.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO init_events(service, event, pid, detail, at)
		VALUES(?, ?, ?, ?, ?);`,
		ev.Service, string(ev.Type), ev.PID, ev.Detail, at.UTC())
	return err
}

func (s *DB) Events(ctx context.Context, service string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT service, event, pid, detail, at FROM init_events`
	args := []any{}
	if service != "" {
		q += ` WHERE service = ?`
		args = append(args, service)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []store.Event
	for rows.Next() {
		var ev store.Event
		var typ string
		var at time.Time
		if err := rows.Scan(&ev.Service, &typ, &ev.PID, &ev.Detail, &at); err != nil {
			return nil, err
		}
		ev.Type = store.EventType(typ)
		ev.At = at
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *DB) Close() error { return s.db.Close() }
