package index

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/tokenizer"
)

// entry is a book plus the term frequencies it contributed, kept so that a
// later upsert or remove can retract exactly those postings.
type entry struct {
	book  catalog.Book
	terms map[string]int
}

// generation is one immutable published state of a shard. Readers may hold
// a pointer to it indefinitely; writers never modify a published generation
// and instead build the next one via a builder.
type generation struct {
	seq    uint64
	books  *cowMap[*entry]
	facets map[catalog.Facet]*cowMap[idSet]
	text   *cowMap[PostingList]
}

func emptyGeneration() *generation {
	g := &generation{
		books:  newCowMap[*entry](),
		facets: make(map[catalog.Facet]*cowMap[idSet], len(catalog.Facets)),
		text:   newCowMap[PostingList](),
	}
	for _, f := range catalog.Facets {
		g.facets[f] = newCowMap[idSet]()
	}
	return g
}

// builder forks the maps of a base generation and writes fresh posting
// slices, so the base stays valid for in-flight readers. Only the buckets
// a write touches are copied.
type builder struct {
	next *generation
}

func newBuilder(base *generation) *builder {
	next := &generation{
		seq:    base.seq + 1,
		books:  base.books.fork(),
		facets: make(map[catalog.Facet]*cowMap[idSet], len(base.facets)),
		text:   base.text.fork(),
	}
	for f, values := range base.facets {
		next.facets[f] = values.fork()
	}
	return &builder{next: next}
}

func (b *builder) upsert(book catalog.Book) {
	if _, exists := b.next.books.get(book.ID); exists {
		b.remove(book.ID)
	}
	e := &entry{book: book, terms: tokenizer.Frequencies(searchableText(book))}
	b.next.books.set(book.ID, e)

	for _, f := range catalog.Facets {
		values := b.next.facets[f]
		for _, v := range book.FacetValues(f) {
			ids, _ := values.get(v)
			values.set(v, ids.with(book.ID))
		}
	}
	for term, freq := range e.terms {
		postings, _ := b.next.text.get(term)
		b.next.text.set(term, postings.with(Posting{BookID: book.ID, Frequency: freq}))
	}
}

func (b *builder) remove(id string) bool {
	e, ok := b.next.books.get(id)
	if !ok {
		return false
	}
	b.next.books.delete(id)

	for _, f := range catalog.Facets {
		values := b.next.facets[f]
		for _, v := range e.book.FacetValues(f) {
			ids, _ := values.get(v)
			if remaining := ids.without(id); len(remaining) > 0 {
				values.set(v, remaining)
			} else {
				values.delete(v)
			}
		}
	}
	for term := range e.terms {
		postings, _ := b.next.text.get(term)
		if remaining := postings.without(id); len(remaining) > 0 {
			b.next.text.set(term, remaining)
		} else {
			b.next.text.delete(term)
		}
	}
	return true
}

// searchableText is what free-text queries match against: title,
// description, authors and genre.
func searchableText(book catalog.Book) string {
	var sb strings.Builder
	sb.WriteString(book.Title)
	sb.WriteByte(' ')
	sb.WriteString(book.Description)
	for _, a := range book.Authors {
		sb.WriteByte(' ')
		sb.WriteString(a)
	}
	sb.WriteByte(' ')
	sb.WriteString(string(book.Genre))
	return sb.String()
}
