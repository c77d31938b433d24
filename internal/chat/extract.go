package chat

import (
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/ranker"
)

// Plan is what a turn asks the catalog for.
type Plan struct {
	// Text is the free-text query, built from the utterance's own words.
	Text string
	// Terms are Text's distinct normalized terms.
	Terms   []string
	Filters catalog.Filters
	Sort    ranker.Sort
}

// TermExtractor reduces an utterance to a catalog query. It is best-effort;
// an empty Plan is valid and matches the whole catalog.
type TermExtractor interface {
	Extract(utterance string, maxTerms int) Plan
}

// conversational words carry no catalog meaning in a request.
var conversational = map[string]bool{
	"recommend": true, "recommendation": true, "recommendations": true,
	"suggest": true, "suggestion": true, "suggestions": true,
	"book": true, "books": true, "novel": true, "novels": true,
	"title": true, "titles": true, "read": true, "reading": true,
	"something": true, "anything": true, "looking": true, "want": true,
	"like": true, "please": true, "find": true, "show": true, "give": true,
	"good": true, "great": true, "best": true, "any": true, "some": true,
	"i": true, "could": true, "would": true, "should": true, "there": true,
	"does": true, "know": true, "tell": true, "library": true, "catalog": true,
	"hi": true, "hello": true, "thanks": true, "copy": true, "copies": true,
	"published": true, "year": true, "one": true, "get": true, "need": true,
	"most": true, "really": true, "enjoy": true,
}

var sortHints = map[string]ranker.Sort{
	"popular":  ranker.SortPopularityAllTime,
	"borrowed": ranker.SortPopularityAllTime,
	"trending": ranker.SortPopularityTrending,
	"hot":      ranker.SortPopularityTrending,
	"new":      ranker.SortRecency,
	"newest":   ranker.SortRecency,
	"latest":   ranker.SortRecency,
	"recent":   ranker.SortRecency,
}

// yearMarkers must precede a four-digit number for it to read as a
// publication year rather than a title word ("1984").
var yearMarkers = map[string]bool{"in": true, "from": true, "published": true, "year": true}

// HeuristicExtractor is the default TermExtractor. It maps genre names and
// aliases to a genre filter, "available" to an availability filter, a year
// after "in"/"from"/"published" to a year filter, and popularity or
// recency words to a sort. Remaining non-conversational words form the text
// query.
type HeuristicExtractor struct{}

func (HeuristicExtractor) Extract(utterance string, maxTerms int) Plan {
	words := tokenizer.Words(utterance)
	plan := Plan{Filters: catalog.Filters{}, Sort: ranker.SortRelevance}
	seen := make(map[string]bool)
	var text []string

	for i := 0; i < len(words); {
		w := words[i]
		if g, n := catalog.GenreAt(words, i); n > 0 {
			plan.addFilter(catalog.FacetGenre, string(g))
			i += n
			continue
		}
		i++

		switch {
		case w == catalog.AvailabilityAvailable:
			plan.addFilter(catalog.FacetAvailability, catalog.AvailabilityAvailable)
			continue
		case isYear(w) && i >= 2 && yearMarkers[words[i-2]]:
			plan.addFilter(catalog.FacetYear, w)
			continue
		}
		if s, ok := sortHints[w]; ok {
			plan.Sort = s
			continue
		}
		if conversational[w] {
			continue
		}
		term, ok := tokenizer.Normalize(w)
		if !ok {
			continue
		}
		if !seen[term] {
			if maxTerms > 0 && len(plan.Terms) >= maxTerms {
				continue
			}
			seen[term] = true
			plan.Terms = append(plan.Terms, term)
		}
		text = append(text, w)
	}
	plan.Text = strings.Join(text, " ")
	return plan
}

func (p *Plan) addFilter(f catalog.Facet, v string) {
	for _, existing := range p.Filters[f] {
		if existing == v {
			return
		}
	}
	p.Filters[f] = append(p.Filters[f], v)
}

func isYear(w string) bool {
	if len(w) != 4 {
		return false
	}
	y, err := strconv.Atoi(w)
	return err == nil && y >= 1000 && y <= 2999
}
