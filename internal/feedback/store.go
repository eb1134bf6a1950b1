// Package feedback persists user judgments of answers. Records are
// append-only and nothing on the query path reads them back: callers
// hand records to an in-memory sink and a single background writer
// flushes them to sqlite, so feedback never blocks answering.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/ashita-ai/kioku/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS feedback (
	id            TEXT PRIMARY KEY,
	query         TEXT NOT NULL,
	result_id     TEXT NOT NULL,
	rating        INTEGER NOT NULL,
	helpful       INTEGER NOT NULL,
	feedback_text TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_result_id ON feedback (result_id);
CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback (created_at);
`

const insertSQL = `
INSERT INTO feedback (id, query, result_id, rating, helpful, feedback_text, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// Store is the durable side of the sink: one sqlite file in WAL mode.
// The connection pool is pinned to a single connection — there is only
// one writer, and it keeps ":memory:" databases coherent in tests.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the feedback database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("feedback: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("feedback: apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("feedback: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// InsertBatch writes one batch in a single transaction and returns the
// number of records written.
func (s *Store) InsertBatch(ctx context.Context, batch []model.Feedback) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("feedback: begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("feedback: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range batch {
		if _, err := stmt.ExecContext(ctx,
			f.ID.String(),
			f.Query,
			f.ResultID,
			f.Rating,
			f.Helpful,
			f.Text,
			f.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return 0, fmt.Errorf("feedback: insert %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("feedback: commit batch: %w", err)
	}
	return len(batch), nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback").Scan(&n); err != nil {
		return 0, fmt.Errorf("feedback: count: %w", err)
	}
	return n, nil
}

// Ping reports whether the database answers. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
