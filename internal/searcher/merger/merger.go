// Package merger selects the leading items of an ordering without sorting
// the whole candidate set.
package merger

import (
	"container/heap"
	"slices"
)

// TopK returns the first k items of items under cmp, in order. It keeps a
// bounded max-heap of size k, so it costs O(n log k). cmp must be a total
// order for the result to be deterministic. items is not modified.
func TopK[T any](items []T, k int, cmp func(a, b T) int) []T {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	if k >= len(items) {
		out := slices.Clone(items)
		slices.SortFunc(out, cmp)
		return out
	}
	h := &boundedHeap[T]{cmp: cmp, items: make([]T, 0, k+1)}
	for _, it := range items {
		if h.Len() < k {
			heap.Push(h, it)
			continue
		}
		// h.items[0] is the worst item kept so far.
		if cmp(it, h.items[0]) < 0 {
			h.items[0] = it
			heap.Fix(h, 0)
		}
	}
	result := make([]T, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(T)
	}
	return result
}

// Merge combines lists that are each already ordered by cmp into one
// ordered list.
func Merge[T any](lists [][]T, cmp func(a, b T) int) []T {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	out := make([]T, 0, total)
	h := &cursorHeap[T]{cmp: cmp}
	for i, l := range lists {
		if len(l) > 0 {
			h.cursors = append(h.cursors, cursor{list: i})
		}
	}
	h.lists = lists
	heap.Init(h)
	for h.Len() > 0 {
		c := &h.cursors[0]
		out = append(out, lists[c.list][c.pos])
		c.pos++
		if c.pos == len(lists[c.list]) {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}
	return out
}

// boundedHeap is a max-heap under cmp: the root is the item ranking last.
type boundedHeap[T any] struct {
	cmp   func(a, b T) int
	items []T
}

func (h *boundedHeap[T]) Len() int { return len(h.items) }

func (h *boundedHeap[T]) Less(i, j int) bool { return h.cmp(h.items[i], h.items[j]) > 0 }

func (h *boundedHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *boundedHeap[T]) Push(x any) { h.items = append(h.items, x.(T)) }

func (h *boundedHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

type cursor struct {
	list int
	pos  int
}

type cursorHeap[T any] struct {
	cmp     func(a, b T) int
	lists   [][]T
	cursors []cursor
}

func (h *cursorHeap[T]) Len() int { return len(h.cursors) }

func (h *cursorHeap[T]) Less(i, j int) bool {
	a, b := h.cursors[i], h.cursors[j]
	return h.cmp(h.lists[a.list][a.pos], h.lists[b.list][b.pos]) < 0
}

func (h *cursorHeap[T]) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *cursorHeap[T]) Push(x any) { h.cursors = append(h.cursors, x.(cursor)) }

func (h *cursorHeap[T]) Pop() any {
	old := h.cursors
	n := len(old)
	c := old[n-1]
	h.cursors = old[:n-1]
	return c
}
