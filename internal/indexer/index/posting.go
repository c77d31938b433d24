package index

import (
	"slices"
	"strings"
)

// Posting is one book's entry in a text posting list.
type Posting struct {
	BookID    string
	Frequency int
}

// PostingList is sorted by BookID and never mutated after publication;
// with* helpers return fresh slices.
type PostingList []Posting

func (pl PostingList) find(bookID string) (int, bool) {
	return slices.BinarySearchFunc(pl, bookID, func(p Posting, id string) int {
		return strings.Compare(p.BookID, id)
	})
}

func (pl PostingList) with(p Posting) PostingList {
	i, found := pl.find(p.BookID)
	if found {
		out := slices.Clone(pl)
		out[i] = p
		return out
	}
	out := make(PostingList, 0, len(pl)+1)
	out = append(out, pl[:i]...)
	out = append(out, p)
	return append(out, pl[i:]...)
}

func (pl PostingList) without(bookID string) PostingList {
	i, found := pl.find(bookID)
	if !found {
		return pl
	}
	out := make(PostingList, 0, len(pl)-1)
	out = append(out, pl[:i]...)
	return append(out, pl[i+1:]...)
}

// idSet is a sorted, immutable set of book IDs backing a facet value.
type idSet []string

func (s idSet) with(id string) idSet {
	i, found := slices.BinarySearch(s, id)
	if found {
		return s
	}
	out := make(idSet, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, id)
	return append(out, s[i:]...)
}

func (s idSet) without(id string) idSet {
	i, found := slices.BinarySearch(s, id)
	if !found {
		return s
	}
	out := make(idSet, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

// union merges sorted sets, dropping duplicates.
func union(sets ...idSet) idSet {
	switch len(sets) {
	case 0:
		return nil
	case 1:
		return sets[0]
	}
	total := 0
	for _, s := range sets {
		total += len(s)
	}
	out := make(idSet, 0, total)
	for _, s := range sets {
		out = append(out, s...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// intersect walks sorted sets smallest-first so the work is bounded by the
// shortest list.
func intersect(sets []idSet) idSet {
	if len(sets) == 0 {
		return nil
	}
	slices.SortFunc(sets, func(a, b idSet) int { return len(a) - len(b) })
	result := slices.Clone(sets[0])
	for _, s := range sets[1:] {
		if len(result) == 0 {
			return result
		}
		result = intersectTwo(result, s)
	}
	return result
}

func intersectTwo(a, b idSet) idSet {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := strings.Compare(a[i], b[j]); {
		case c == 0:
			out = append(out, a[i])
			i++
			j++
		case c < 0:
			i++
		default:
			j++
		}
	}
	return out
}
