package index

import (
	"fmt"
	"slices"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copiedBuckets reports how many buckets a fork has copied.
func (m *cowMap[V]) copiedBuckets() int {
	n := 0
	for _, o := range m.owned {
		if o {
			n++
		}
	}
	return n
}

func TestCowMapForkIsolatesWrites(t *testing.T) {
	base := newCowMap[int]()
	for i := range 500 {
		base.set(fmt.Sprintf("k%03d", i), i)
	}
	require.Equal(t, 500, base.len())

	next := base.fork()
	next.set("k001", -1)
	next.set("new", 7)
	next.delete("k002")
	next.delete("missing")

	v, _ := base.get("k001")
	assert.Equal(t, 1, v)
	_, ok := base.get("new")
	assert.False(t, ok)
	_, ok = base.get("k002")
	assert.True(t, ok)
	assert.Equal(t, 500, base.len())

	v, _ = next.get("k001")
	assert.Equal(t, -1, v)
	_, ok = next.get("k002")
	assert.False(t, ok)
	assert.Equal(t, 500, next.len())
	assert.LessOrEqual(t, next.copiedBuckets(), 3)

	keys := slices.Collect(next.keys())
	assert.Len(t, keys, 500)
	assert.Contains(t, keys, "new")
}

func TestSingleUpsertCopiesFewBuckets(t *testing.T) {
	idx := New(1)
	books := make([]catalog.Book, 2000)
	for i := range books {
		books[i] = book(fmt.Sprintf("bk%04d", i), catalog.GenreHistory, fmt.Sprintf("Volume %d of the chronicle", i), "Clio")
	}
	require.NoError(t, idx.UpsertBatch(books))
	before := idx.shards[0].cur.Load()

	require.NoError(t, idx.Upsert(book("extra", catalog.GenrePoetry, "Odes", "Keats")))
	after := idx.shards[0].cur.Load()

	assert.Equal(t, 1, after.books.copiedBuckets())
	assert.Less(t, after.text.copiedBuckets(), cowBuckets/4)
	assert.Equal(t, 2000, before.books.len())
	assert.Equal(t, 2001, after.books.len())
	_, ok := before.books.get("extra")
	assert.False(t, ok)
}
