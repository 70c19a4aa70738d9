// Package store provides durable SQLite storage for trace events.
//
// It backs the "sqlite:" trace sink. Events land in a single trace_events
// table keyed by (run_token, seq) so external viewers can follow a run
// with plain SQL while it is still executing.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a SQLite database holding trace events.
// WAL mode keeps concurrent readers working while the harness writes.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and applies
// pragmas and the schema. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect trace store: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn from the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply trace store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Event is one persisted trace event.
type Event struct {
	Run      string
	Seq      int64
	Type     string
	Script   string
	Filename string
	Funcname string
	Line     int
	At       time.Time
}

// WriteEvent appends one event. Duplicate (run_token, seq) pairs are
// silently ignored so retried writes stay idempotent.
func (s *Store) WriteEvent(ctx context.Context, ev Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_events
		(run_token, seq, type, script, filename, funcname, line, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token, seq) DO NOTHING
	`,
		ev.Run,
		ev.Seq,
		ev.Type,
		ev.Script,
		ev.Filename,
		ev.Funcname,
		ev.Line,
		ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	return nil
}

// ReadEvents returns all events of one run ordered by seq.
func (s *Store) ReadEvents(ctx context.Context, run string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, seq, type, script, filename, funcname, line, at
		FROM trace_events
		WHERE run_token = ?
		ORDER BY seq
	`, run)
	if err != nil {
		return nil, fmt.Errorf("read trace events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var at string
		if err := rows.Scan(&ev.Run, &ev.Seq, &ev.Type, &ev.Script, &ev.Filename, &ev.Funcname, &ev.Line, &at); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		if ev.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse trace event time %q: %w", at, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read trace events: %w", err)
	}
	return out, nil
}
