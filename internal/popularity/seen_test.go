package popularity

import (
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequenced(seq int64, id string, at time.Time) catalog.BorrowEvent {
	ev := borrow(id, at)
	ev.Seq = seq
	return ev
}

func TestIngestSkipsConsumedSequence(t *testing.T) {
	m := metrics.NewNop()
	r := New(Options{Shards: 2, Metrics: m})

	assert.Equal(t, 2, r.Ingest(sequenced(1, "b1", t0), sequenced(2, "b1", t0.Add(time.Hour))))
	assert.Equal(t, 0, r.Ingest(sequenced(1, "b1", t0)))
	assert.Equal(t, 1, r.Ingest(sequenced(3, "b1", t0), sequenced(3, "b1", t0)))

	s, ok := r.Score("b1", t0.Add(time.Hour))
	require.True(t, ok)
	assert.EqualValues(t, 3, s.AllTime)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BorrowEventsTotal.WithLabelValues("duplicate")))
}

func TestIngestOutOfOrderSequences(t *testing.T) {
	r := New(Options{})
	assert.Equal(t, 1, r.Ingest(sequenced(5, "b1", t0)))
	assert.Equal(t, 4, r.Ingest(
		sequenced(1, "b1", t0), sequenced(2, "b1", t0),
		sequenced(3, "b1", t0), sequenced(4, "b1", t0),
	))
	assert.Equal(t, 0, r.Ingest(sequenced(5, "b1", t0), sequenced(3, "b1", t0)))
	s, _ := r.Score("b1", t0)
	assert.EqualValues(t, 5, s.AllTime)
}

func TestUnsequencedEventsAreNeverDeduplicated(t *testing.T) {
	r := New(Options{})
	assert.Equal(t, 2, r.Ingest(borrow("b1", t0), borrow("b1", t0)))
}

func TestSeenSeqsCompactsWhenFull(t *testing.T) {
	s := newSeenSeqs(4)
	for _, seq := range []int64{10, 20, 30, 40, 50} {
		assert.True(t, s.admit(seq))
	}
	assert.Equal(t, int64(30), s.floor)
	assert.Len(t, s.seen, 2)
	assert.False(t, s.admit(15), "stragglers below the floor count as seen")
	assert.False(t, s.admit(40))
	assert.True(t, s.admit(45))
}

func TestResetForgetsSequences(t *testing.T) {
	r := New(Options{})
	r.Ingest(sequenced(1, "b1", t0))
	r.Reset()
	assert.Equal(t, 1, r.Ingest(sequenced(1, "b1", t0)))
}
