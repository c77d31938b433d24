// Package catalog defines the entities shared by the index, the popularity
// ranker, the planner and the chat pipeline.
package catalog

import (
	"strconv"
	"strings"
	"time"
)

// Book is an immutable snapshot of one catalog record. Once handed to the
// index it must not be mutated; callers build a new value to change it.
type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Authors     []string  `json:"authors"`
	Genre       Genre     `json:"genre"`
	Year        int       `json:"year"`
	Available   int       `json:"available"`
	Description string    `json:"description,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

// IsAvailable reports whether at least one copy can be borrowed.
func (b Book) IsAvailable() bool {
	return b.Available > 0
}

// FacetValues returns the normalized values b holds for facet f. Author is
// the only multi-valued facet.
func (b Book) FacetValues(f Facet) []string {
	switch f {
	case FacetAuthor:
		out := make([]string, 0, len(b.Authors))
		seen := make(map[string]bool, len(b.Authors))
		for _, a := range b.Authors {
			v := NormalizeValue(a)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
		return out
	case FacetGenre:
		return []string{string(b.Genre)}
	case FacetYear:
		return []string{strconv.Itoa(b.Year)}
	case FacetAvailability:
		if b.IsAvailable() {
			return []string{AvailabilityAvailable}
		}
		return []string{AvailabilityUnavailable}
	}
	return nil
}

// Facet names a filterable attribute.
type Facet string

const (
	FacetAuthor       Facet = "author"
	FacetGenre        Facet = "genre"
	FacetYear         Facet = "year"
	FacetAvailability Facet = "availability"
)

// Facets lists every known facet in a fixed order.
var Facets = []Facet{FacetAuthor, FacetGenre, FacetYear, FacetAvailability}

const (
	AvailabilityAvailable   = "available"
	AvailabilityUnavailable = "unavailable"
)

// ParseFacet resolves a facet name case-insensitively.
func ParseFacet(name string) (Facet, bool) {
	f := Facet(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Facets {
		if f == known {
			return f, true
		}
	}
	return "", false
}

// NormalizeValue case-folds and trims a facet value so index and query
// sides agree. Inner whitespace runs collapse to one space.
func NormalizeValue(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

// Filters maps a facet to its allowed values: OR within a facet, AND across
// facets.
type Filters map[Facet][]string

// Normalized returns a copy with values normalized, genre aliases resolved
// and duplicates removed. Facets with no values are dropped.
func (f Filters) Normalized() Filters {
	out := make(Filters, len(f))
	for facet, values := range f {
		seen := make(map[string]bool, len(values))
		norm := make([]string, 0, len(values))
		for _, v := range values {
			nv := NormalizeValue(v)
			if facet == FacetGenre {
				if g, ok := ParseGenre(nv); ok {
					nv = string(g)
				}
			}
			if nv == "" || seen[nv] {
				continue
			}
			seen[nv] = true
			norm = append(norm, nv)
		}
		if len(norm) > 0 {
			out[facet] = norm
		}
	}
	return out
}

// EventKind distinguishes borrow and return events.
type EventKind string

const (
	EventBorrow EventKind = "borrow"
	EventReturn EventKind = "return"
)

// ParseEventKind accepts "borrow" or "return" in any case.
func ParseEventKind(s string) (EventKind, bool) {
	switch EventKind(strings.ToLower(strings.TrimSpace(s))) {
	case EventBorrow:
		return EventBorrow, true
	case EventReturn:
		return EventReturn, true
	}
	return "", false
}

// BorrowEvent is an append-only record of a checkout or return. Seq is the
// store's sequence number and serves as the sync watermark.
type BorrowEvent struct {
	Seq    int64     `json:"seq"`
	BookID string    `json:"book_id"`
	At     time.Time `json:"at"`
	Kind   EventKind `json:"kind"`
}
