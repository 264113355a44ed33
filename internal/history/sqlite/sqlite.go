package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/dbguest/internal/history"
	"github.com/loykin/dbguest/internal/status"
)

// Sink writes status events to a SQLite database and reads them back.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases consistent and
	// serialises writers.
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS status_history(
			id TEXT PRIMARY KEY,
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			instance TEXT NOT NULL,
			status TEXT NOT NULL,
			operation TEXT NULL,
			error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_status_history_instance ON status_history(instance, occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_history(id, occurred_at, event, instance, status, operation, error)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.OccurredAt.UTC(), string(e.Type), e.Instance, e.Status.String(), nullable(e.Operation), nullable(e.Error))
	return err
}

// Recent returns up to limit events for instance, newest first.
func (s *Sink) Recent(ctx context.Context, instance string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, event, instance, status, operation, error
		FROM status_history WHERE instance = ?
		ORDER BY occurred_at DESC, rowid DESC LIMIT ?;`, instance, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e        history.Event
			typ, st  string
			op, msg  sql.NullString
			occurred time.Time
		)
		if err := rows.Scan(&e.ID, &occurred, &typ, &e.Instance, &st, &op, &msg); err != nil {
			return nil, err
		}
		e.OccurredAt = occurred.UTC()
		e.Type = history.EventType(typ)
		if e.Status, err = status.Parse(st); err != nil {
			return nil, err
		}
		e.Operation = op.String
		e.Error = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
