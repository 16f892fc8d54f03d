// Package history keeps one sqlite row per dictation session.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	session     INTEGER NOT NULL,
	mode        TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	raw_text    TEXT NOT NULL DEFAULT '',
	final_text  TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL DEFAULT '',
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sessions_started ON sessions(started_at);
`

type Entry struct {
	ID        string
	Session   uint64
	Mode      string
	StartedAt time.Time
	Duration  time.Duration
	RawText   string
	FinalText string
	Strategy  string
	ErrorKind string
	Error     string
}

type Store struct {
	db *sql.DB
}

// Open creates the database file and its parent directory if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// modernc serializes writers per connection; one is enough here.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, session, mode, started_at, duration_ms, raw_text, final_text, strategy, error_kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, int64(e.Session), e.Mode, e.StartedAt.UnixMilli(), e.Duration.Milliseconds(),
		e.RawText, e.FinalText, e.Strategy, e.ErrorKind, e.Error)
	if err != nil {
		return fmt.Errorf("record session %d: %w", e.Session, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, session, mode, started_at, duration_ms,
		raw_text, final_text, strategy, error_kind, error
		FROM sessions ORDER BY started_at DESC, session DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			session int64
			started int64
			dur     int64
		)
		if err := rows.Scan(&e.ID, &session, &e.Mode, &started, &dur,
			&e.RawText, &e.FinalText, &e.Strategy, &e.ErrorKind, &e.Error); err != nil {
			return nil, err
		}
		e.Session = uint64(session)
		e.StartedAt = time.UnixMilli(started)
		e.Duration = time.Duration(dur) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
