package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/tokenizer"
)

// QueryPlan is a parsed catalog query. Text holds the free words left after
// facet clauses and exclusions are taken out, in their original order.
type QueryPlan struct {
	Filters      catalog.Filters
	Text         string
	ExcludeTerms []string
	RawQuery     string
}

// Parse splits a query such as
//
//	genre:fantasy author:"ursula k. le guin" year:1968 dragons NOT horror
//
// into facet filters, free text and excluded terms. A prefix that is not a
// known facet is still kept as a filter, so it matches nothing. "is:available"
// is shorthand for availability:available. Repeating a facet ORs its values.
func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Filters:      catalog.Filters{},
		ExcludeTerms: make([]string, 0),
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}

	var text []string
	excludeNext := false
	for _, word := range splitQuoted(query) {
		switch {
		case strings.EqualFold(word, "NOT"):
			excludeNext = true
			continue
		case strings.EqualFold(word, "AND"), strings.EqualFold(word, "OR"):
			continue
		}

		if name, value, ok := facetClause(word); ok {
			plan.addFilter(name, value)
			excludeNext = false
			continue
		}

		exclude := excludeNext
		excludeNext = false
		if strings.HasPrefix(word, "-") && len(word) > 1 {
			exclude = true
			word = word[1:]
		}
		if exclude {
			for _, term := range tokenizer.Terms(word) {
				plan.ExcludeTerms = append(plan.ExcludeTerms, term)
			}
			continue
		}
		text = append(text, word)
	}
	plan.Text = strings.Join(text, " ")
	return plan
}

func (p *QueryPlan) addFilter(name, value string) {
	if strings.EqualFold(name, "is") {
		name = string(catalog.FacetAvailability)
	}
	facet, ok := catalog.ParseFacet(name)
	if !ok {
		facet = catalog.Facet(strings.ToLower(name))
	}
	p.Filters[facet] = append(p.Filters[facet], value)
}

// HasFilters reports whether any facet clause was parsed.
func (p *QueryPlan) HasFilters() bool {
	return len(p.Filters) > 0
}

// facetClause recognizes name:value with a non-empty value. Quotes around
// the value have already been removed by splitQuoted.
func facetClause(word string) (string, string, bool) {
	name, value, found := strings.Cut(word, ":")
	if !found || name == "" || strings.TrimSpace(value) == "" {
		return "", "", false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_') {
			return "", "", false
		}
	}
	return name, value, true
}

// splitQuoted splits on whitespace, keeping double-quoted runs together and
// dropping the quotes. An unterminated quote runs to the end of the input.
func splitQuoted(s string) []string {
	var (
		words   []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
