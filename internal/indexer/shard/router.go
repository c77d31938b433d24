// Package shard provides hash-based shard routing by book ID. The catalog
// index and the popularity ranker both partition their state this way, so a
// book's index entry and its borrow statistics share a shard number.
package shard

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Router maps book IDs onto a fixed number of shards.
type Router struct {
	numShards int
}

// NewRouter creates a Router over numShards shards (minimum 1).
func NewRouter(numShards int) Router {
	if numShards < 1 {
		numShards = 1
	}
	return Router{numShards: numShards}
}

// Route returns the shard that owns bookID.
func (r Router) Route(bookID string) int {
	return For(bookID, r.numShards)
}

// NumShards returns the number of shards managed by this router.
func (r Router) NumShards() int {
	return r.numShards
}

// Group partitions items by the shard of their key, preserving input order
// within each shard.
func Group[T any](r Router, items []T, key func(T) string) map[int][]T {
	out := make(map[int][]T)
	for _, it := range items {
		n := r.Route(key(it))
		out[n] = append(out[n], it)
	}
	return out
}

// For returns xxhash(bookID) mod numShards.
func For(bookID string, numShards int) int {
	return int(xxhash.Sum64String(bookID) % uint64(numShards))
}

func (r Router) String() string {
	return fmt.Sprintf("shard.Router{shards=%d}", r.numShards)
}
