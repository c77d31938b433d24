package popularity

import (
	"slices"
	"sync"
)

// defaultSeenLimit bounds how many out-of-order sequence numbers are held
// above the contiguous floor.
const defaultSeenLimit = 1 << 16

// seenSeqs remembers which borrow event sequence numbers were consumed.
// Every number at or below floor counts as seen; above it, seen holds the
// exact set. When the set outgrows limit the floor jumps to its median, so
// a straggler older than half the window is treated as already applied.
type seenSeqs struct {
	mu    sync.Mutex
	floor int64
	seen  map[int64]struct{}
	limit int
}

func newSeenSeqs(limit int) *seenSeqs {
	if limit < 2 {
		limit = defaultSeenLimit
	}
	return &seenSeqs{seen: make(map[int64]struct{}), limit: limit}
}

// admit marks seq consumed and reports whether it was new. Unsequenced
// events (seq <= 0) are always admitted.
func (s *seenSeqs) admit(seq int64) bool {
	if seq <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.floor {
		return false
	}
	if _, ok := s.seen[seq]; ok {
		return false
	}
	s.seen[seq] = struct{}{}
	for {
		if _, ok := s.seen[s.floor+1]; !ok {
			break
		}
		delete(s.seen, s.floor+1)
		s.floor++
	}
	if len(s.seen) > s.limit {
		s.compact()
	}
	return true
}

func (s *seenSeqs) compact() {
	keys := make([]int64, 0, len(s.seen))
	for k := range s.seen {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	s.floor = keys[len(keys)/2]
	for _, k := range keys[:len(keys)/2+1] {
		delete(s.seen, k)
	}
}

func (s *seenSeqs) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floor = 0
	clear(s.seen)
}
