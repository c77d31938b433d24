package index

import (
	"iter"
	"maps"

	"github.com/cespare/xxhash/v2"
)

// cowBuckets must be a power of two.
const cowBuckets = 64

// cowMap is a string-keyed map split into buckets. A fork shares every
// bucket with its parent and copies one only on its first write, so a
// single-book upsert copies a few buckets rather than the whole shard.
type cowMap[V any] struct {
	buckets [cowBuckets]map[string]V
	owned   [cowBuckets]bool
	n       int
}

func newCowMap[V any]() *cowMap[V] {
	return &cowMap[V]{}
}

func bucketOf(key string) int {
	return int(xxhash.Sum64String(key) & (cowBuckets - 1))
}

func (m *cowMap[V]) get(key string) (V, bool) {
	v, ok := m.buckets[bucketOf(key)][key]
	return v, ok
}

func (m *cowMap[V]) len() int {
	return m.n
}

// keys yields every key in no particular order.
func (m *cowMap[V]) keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, b := range m.buckets {
			for k := range b {
				if !yield(k) {
					return
				}
			}
		}
	}
}

// fork returns a writable copy that owns none of m's buckets. m must not be
// written afterwards.
func (m *cowMap[V]) fork() *cowMap[V] {
	return &cowMap[V]{buckets: m.buckets, n: m.n}
}

func (m *cowMap[V]) writable(i int) map[string]V {
	if !m.owned[i] {
		b := make(map[string]V, len(m.buckets[i])+1)
		maps.Copy(b, m.buckets[i])
		m.buckets[i] = b
		m.owned[i] = true
	}
	return m.buckets[i]
}

func (m *cowMap[V]) set(key string, v V) {
	b := m.writable(bucketOf(key))
	if _, ok := b[key]; !ok {
		m.n++
	}
	b[key] = v
}

func (m *cowMap[V]) delete(key string) {
	i := bucketOf(key)
	if _, ok := m.buckets[i][key]; !ok {
		return
	}
	delete(m.writable(i), key)
	m.n--
}
