package merger

import (
	"cmp"
	"math/rand"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopKMatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	items := make([]int, 200)
	for i := range items {
		items[i] = rng.Intn(50)
	}
	sorted := slices.Clone(items)
	slices.Sort(sorted)

	for _, k := range []int{1, 7, 50, 199, 200, 500} {
		got := TopK(items, k, cmp.Compare[int])
		want := sorted[:min(k, len(sorted))]
		assert.Equal(t, want, got, "k=%d", k)
	}
	assert.Nil(t, TopK(items, 0, cmp.Compare[int]))
	assert.Nil(t, TopK([]int{}, 3, cmp.Compare[int]))
}

func TestTopKLeavesInputUntouched(t *testing.T) {
	items := []string{"c", "a", "b"}
	assert.Equal(t, []string{"a", "b"}, TopK(items, 2, strings.Compare))
	assert.Equal(t, []string{"c", "a", "b"}, items)
}

func TestMerge(t *testing.T) {
	got := Merge([][]string{{"a", "d", "g"}, {}, {"b", "c"}, {"e", "f", "h"}}, strings.Compare)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, got)
	assert.Empty(t, Merge[string](nil, strings.Compare))
}
