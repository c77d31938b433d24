// Package store translates rows from the external record store into catalog
// entities and keeps the index and popularity ranker in step with it.
package store

import (
	"context"
	"time"
)

// RawBook is a books row as the record store holds it.
type RawBook struct {
	ID          string    `json:"id" validate:"required,max=128"`
	Title       string    `json:"title" validate:"required,max=1024"`
	Authors     []string  `json:"authors" validate:"dive,required"`
	Genre       string    `json:"genre" validate:"required,genre"`
	Year        int       `json:"year" validate:"gte=1,lte=9999"`
	Available   int       `json:"available" validate:"gte=0"`
	Description string    `json:"description"`
	AddedAt     time.Time `json:"added_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RawBorrowEvent is a borrow_events row.
type RawBorrowEvent struct {
	Seq    int64     `json:"seq" validate:"gte=0"`
	BookID string    `json:"book_id" validate:"required"`
	At     time.Time `json:"at" validate:"required"`
	Kind   string    `json:"kind" validate:"required,eventkind"`
}

// Source is the record store. ListBorrowEvents returns events with a
// sequence number above sinceSeq in ascending order.
type Source interface {
	ListBooks(ctx context.Context) ([]RawBook, error)
	ListBorrowEvents(ctx context.Context, sinceSeq int64) ([]RawBorrowEvent, error)
}
