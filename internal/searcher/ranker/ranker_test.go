package ranker

import (
	"slices"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSort(t *testing.T) {
	s, err := ParseSort("")
	require.NoError(t, err)
	assert.Equal(t, SortRelevance, s)

	s, err = ParseSort(" Popularity_Trending ")
	require.NoError(t, err)
	assert.Equal(t, SortPopularityTrending, s)
	assert.True(t, s.IsPopularity())
	assert.Equal(t, popularity.Trending, s.Kind())

	_, err = ParseSort("alphabetical")
	assert.Error(t, err)
}

func TestPopularityAbsentBooksLast(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := popularity.New(popularity.Options{})
	r.Ingest(
		catalog.BorrowEvent{BookID: "b", At: now, Kind: catalog.EventBorrow},
		catalog.BorrowEvent{BookID: "c", At: now, Kind: catalog.EventBorrow},
		catalog.BorrowEvent{BookID: "c", At: now, Kind: catalog.EventBorrow},
	)

	docs := Popularity([]string{"z", "a", "b", "c"}, r.Snapshot(now), popularity.AllTime)
	slices.SortFunc(docs, ComparePopularity)

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.BookID
	}
	assert.Equal(t, []string{"c", "b", "a", "z"}, ids)
}

func TestCompareRecency(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	books := []catalog.Book{
		{ID: "old", Year: 1990, AddedAt: day.Add(48 * time.Hour)},
		{ID: "b", Year: 2020, AddedAt: day},
		{ID: "a", Year: 2020, AddedAt: day},
		{ID: "fresh", Year: 2020, AddedAt: day.Add(time.Hour)},
	}
	slices.SortFunc(books, CompareRecency)
	got := make([]string, len(books))
	for i, b := range books {
		got[i] = b.ID
	}
	assert.Equal(t, []string{"fresh", "a", "b", "old"}, got)
}
