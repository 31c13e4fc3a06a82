package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/loykin/sidewatch/internal/history"
)

// Sink journals lifecycle events into a local SQLite database. It is the
// default sink: a desktop supervisor should keep its audit trail next to
// the data it protects.
type Sink struct {
	db *sql.DB
}

// New opens (or creates) the journal at path; empty path means in-memory.
func New(path string) (*Sink, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with a single connection

	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS backend_history(
		occurred_at TIMESTAMP NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		state TEXT NOT NULL,
		reason TEXT
	);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backend_history(occurred_at, type, name, pid, state, reason)
		VALUES(?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.Record.Name, e.Record.PID, e.Record.State, e.Record.Reason)
	return err
}

// Recent returns up to limit events, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, type, name, pid, state, COALESCE(reason, '')
		FROM backend_history ORDER BY occurred_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var e history.Event
		var typ string
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.Name, &e.Record.PID, &e.Record.State, &e.Record.Reason); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Record.UpdatedAt = e.OccurredAt
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	return s.db.Close()
}
