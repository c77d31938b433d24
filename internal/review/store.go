// Package review persists rejected chat turns to PostgreSQL so they can be
// inspected offline.
package review

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/chat"
	"github.com/lib/pq"
)

// Schema creates the chat_reviews table.
const Schema = `CREATE TABLE IF NOT EXISTS chat_reviews (
    id              BIGSERIAL PRIMARY KEY,
    turn_id         TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL DEFAULT '',
    identity_id     TEXT NOT NULL DEFAULT '',
    utterance       TEXT NOT NULL,
    candidates      TEXT[] NOT NULL DEFAULT '{}',
    raw_output      TEXT NOT NULL,
    reason          TEXT NOT NULL,
    rejected_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// DB is the subset of *sql.DB the store uses.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store implements chat.ReviewSink.
type Store struct {
	db     DB
	logger *slog.Logger
}

func NewStore(db DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "review-store"),
	}
}

// Record inserts r. Recording the same turn twice is a no-op.
func (s *Store) Record(ctx context.Context, r chat.Review) error {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_reviews
		   (turn_id, conversation_id, identity_id, utterance, candidates, raw_output, reason, rejected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (turn_id) DO NOTHING`,
		r.TurnID, r.ConversationID, r.IdentityID, r.Utterance,
		pq.Array(nonNil(r.Candidates)), r.RawOutput, r.Reason, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording chat review %s: %w", r.TurnID, err)
	}
	s.logger.Info("chat review recorded", "turn_id", r.TurnID, "reason", r.Reason)
	return nil
}

// List returns the newest limit reviews, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]chat.Review, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, conversation_id, identity_id, utterance, candidates, raw_output, reason, rejected_at
		 FROM chat_reviews ORDER BY rejected_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chat reviews: %w", err)
	}
	defer rows.Close()

	var out []chat.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReview(row scanner) (chat.Review, error) {
	var (
		r          chat.Review
		candidates pq.StringArray
	)
	if err := row.Scan(&r.TurnID, &r.ConversationID, &r.IdentityID, &r.Utterance,
		&candidates, &r.RawOutput, &r.Reason, &r.At); err != nil {
		return chat.Review{}, fmt.Errorf("scanning chat review row: %w", err)
	}
	r.Candidates = nonNil(candidates)
	return r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
