// Package tokenizer provides text tokenisation shared by the catalog index
// and every query path. It lower-cases input, splits on non-alphanumeric
// boundaries, removes stop-words, and applies a simple suffix-based stemmer.
// Index time and query time must both go through Tokenize or Terms.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {}, "she": {},
	"her": {}, "his": {}, "me": {}, "my": {}, "you": {}, "your": {},
	"we": {}, "our": {}, "about": {}, "into": {}, "than": {}, "then": {},
}

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Words lower-cases text and splits it on non-alphanumeric boundaries
// without removing stop-words or stemming.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokenize breaks text into a slice of stemmed, lowercased Tokens with
// stop-words removed.
func Tokenize(text string) []Token {
	words := Words(text)
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		term, ok := Normalize(word)
		if !ok {
			continue
		}
		tokens = append(tokens, Token{
			Term:     term,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Normalize applies the per-word pipeline to an already lower-cased word.
// It reports false when the word is dropped (too short or a stop-word).
func Normalize(word string) (string, bool) {
	if len(word) < 2 {
		return "", false
	}
	if _, isStop := stopWords[word]; isStop {
		return "", false
	}
	stemmed := stem(word)
	if stemmed == "" {
		return "", false
	}
	return stemmed, true
}

// Terms returns the distinct normalized terms of text in order of first
// appearance.
func Terms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, dup := seen[t.Term]; dup {
			continue
		}
		seen[t.Term] = struct{}{}
		out = append(out, t.Term)
	}
	return out
}

// Frequencies counts each normalized term of text.
func Frequencies(text string) map[string]int {
	tokens := Tokenize(text)
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t.Term]++
	}
	return freq
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem applies a simple suffix-stripping stemmer to the given word. Pure
// numbers (years, volume numbers) are left untouched.
func stem(word string) string {
	if isNumeric(word) {
		return word
	}
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}

func isNumeric(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
