package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// Schema creates the record store tables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS books (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    authors     TEXT[] NOT NULL DEFAULT '{}',
    genre       TEXT NOT NULL,
    year        INTEGER NOT NULL,
    available   INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    added_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS borrow_events (
    seq     BIGSERIAL PRIMARY KEY,
    book_id TEXT NOT NULL,
    at      TIMESTAMPTZ NOT NULL,
    kind    TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_events_book ON borrow_events (book_id)`,
}

// PostgresSource reads the books and borrow_events tables.
type PostgresSource struct {
	db        *sql.DB
	batchSize int
	logger    *slog.Logger
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{
		db:        db,
		batchSize: 5000,
		logger:    slog.Default().With("component", "postgres-source"),
	}
}

func (s *PostgresSource) ListBooks(ctx context.Context) ([]RawBook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, authors, genre, year, available, description, added_at, updated_at
		 FROM books ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()

	var out []RawBook
	for rows.Next() {
		var (
			b       RawBook
			authors pq.StringArray
		)
		if err := rows.Scan(&b.ID, &b.Title, &authors, &b.Genre, &b.Year, &b.Available,
			&b.Description, &b.AddedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning book row: %w", err)
		}
		b.Authors = authors
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating book rows: %w", err)
	}
	s.logger.Debug("books listed", "count", len(out))
	return out, nil
}

// ListBorrowEvents pages through borrow_events in batches so a large
// backlog is not held in one result set.
func (s *PostgresSource) ListBorrowEvents(ctx context.Context, sinceSeq int64) ([]RawBorrowEvent, error) {
	var out []RawBorrowEvent
	for {
		n, last, err := s.borrowPage(ctx, sinceSeq, &out)
		if err != nil {
			return nil, err
		}
		if n < s.batchSize {
			return out, nil
		}
		sinceSeq = last
	}
}

func (s *PostgresSource) borrowPage(ctx context.Context, sinceSeq int64, out *[]RawBorrowEvent) (int, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, book_id, at, kind FROM borrow_events
		 WHERE seq > $1 ORDER BY seq LIMIT $2`,
		sinceSeq, s.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("listing borrow events after %d: %w", sinceSeq, err)
	}
	defer rows.Close()

	n, last := 0, sinceSeq
	for rows.Next() {
		var ev RawBorrowEvent
		if err := rows.Scan(&ev.Seq, &ev.BookID, &ev.At, &ev.Kind); err != nil {
			return 0, 0, fmt.Errorf("scanning borrow event row: %w", err)
		}
		*out = append(*out, ev)
		n++
		last = ev.Seq
	}
	return n, last, rows.Err()
}
