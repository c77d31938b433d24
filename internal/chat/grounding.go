package chat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/tokenizer"
)

// citationPattern matches [book:ID] markers, tolerating stray spaces.
var citationPattern = regexp.MustCompile(`\[\s*book\s*:\s*([^\]\s]+)\s*\]`)

// Marker renders the citation marker for bookID.
func Marker(bookID string) string {
	return "[book:" + bookID + "]"
}

// ParseCitations returns the distinct book IDs cited in text, in order of
// first appearance.
func ParseCitations(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		if id := m[1]; !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// BuildContext serializes candidates, one per line, each introduced by its
// citation marker. Free-text fields are flattened and stripped of brackets
// so record content cannot forge a marker. Descriptions are cut to
// descriptionChars runes when positive.
func BuildContext(candidates []catalog.Book, descriptionChars int) string {
	var b strings.Builder
	for _, book := range candidates {
		b.WriteString(Marker(book.ID))
		b.WriteString(" Title: ")
		b.WriteString(clean(book.Title))
		if len(book.Authors) > 0 {
			authors := make([]string, len(book.Authors))
			for i, a := range book.Authors {
				authors[i] = clean(a)
			}
			b.WriteString(" | Authors: ")
			b.WriteString(strings.Join(authors, ", "))
		}
		fmt.Fprintf(&b, " | Genre: %s | Year: %d | Available copies: %d", book.Genre, book.Year, book.Available)
		if d := clean(book.Description); d != "" {
			if descriptionChars > 0 {
				d = truncateRunes(d, descriptionChars)
			}
			b.WriteString(" | Description: ")
			b.WriteString(d)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

var unsafeChars = strings.NewReplacer("[", "(", "]", ")", "\n", " ", "\r", " ", "\t", " ")

func clean(s string) string {
	return strings.Join(strings.Fields(unsafeChars.Replace(s)), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// TitleMatcher finds a catalog title named in free text.
type TitleMatcher interface {
	MentionedTitle(text string) (bookID string, ok bool)
}

// IndexTitles looks for catalog titles in text using the index itself: the
// text is run as a query and the best Probe hits are checked for a
// whole-phrase title match. Titles shorter than MinTitleChars letters are
// ignored; they collide with ordinary words.
type IndexTitles struct {
	Index         *index.Index
	Probe         int
	MinTitleChars int
}

func (t IndexTitles) MentionedTitle(text string) (string, bool) {
	probe := t.Probe
	if probe <= 0 {
		probe = 25
	}
	minChars := t.MinTitleChars
	if minChars <= 0 {
		minChars = defaultMinTitleChars
	}
	haystack := phrase(text)
	snap := t.Index.Snapshot()
	n := 0
	for hit := range snap.QueryText(text) {
		if hit.Score == 0 || n >= probe {
			break
		}
		n++
		book, ok := snap.Get(hit.BookID)
		if !ok {
			continue
		}
		if mentions(haystack, book.Title, minChars) {
			return book.ID, true
		}
	}
	return "", false
}

// defaultMinTitleChars is the shortest title checked for uncited mentions.
const defaultMinTitleChars = 4

func mentions(haystack, title string, minChars int) bool {
	t := phrase(title)
	return len(t) >= minChars+2 && strings.Contains(haystack, t)
}

// phrase lowercases s into space-separated words padded with spaces, so
// strings.Contains matches on word boundaries only.
func phrase(s string) string {
	return " " + strings.Join(tokenizer.Words(s), " ") + " "
}

// verdict is the outcome of checking an answer against its candidates.
type verdict struct {
	citations []string
	reason    string
}

func (v verdict) ok() bool { return v.reason == "" }

// validate enforces grounding: every cited ID must be a candidate, and an
// answer without citations is rejected when citations are required or when
// it names a catalog title or presents any other specific book.
func validate(answer string, candidates []catalog.Book, titles TitleMatcher, requireCitation bool) verdict {
	allowed := make(map[string]bool, len(candidates))
	for _, b := range candidates {
		allowed[b.ID] = true
	}
	cited := ParseCitations(answer)
	for _, id := range cited {
		if !allowed[id] {
			return verdict{reason: "cited " + strconv.Quote(id) + " outside the candidate set"}
		}
	}
	if len(cited) > 0 {
		return verdict{citations: cited}
	}
	if requireCitation {
		return verdict{reason: "answer cites no book"}
	}
	haystack := phrase(answer)
	for _, b := range candidates {
		if mentions(haystack, b.Title, defaultMinTitleChars) {
			return verdict{reason: "names " + strconv.Quote(b.ID) + " without citing it"}
		}
	}
	if titles != nil {
		if id, ok := titles.MentionedTitle(answer); ok {
			return verdict{reason: "names " + strconv.Quote(id) + " without citing it"}
		}
	}
	if m := bookAssertion(answer); m != "" {
		return verdict{reason: "asserts an uncited book: " + strconv.Quote(m)}
	}
	return verdict{}
}

// bookPatterns recognize text that presents a specific book whether or not
// the catalog holds it: a quoted capitalized title, an author credit, or a
// parenthesized publication year.
var bookPatterns = []*regexp.Regexp{
	regexp.MustCompile(`["“]\p{Lu}[^"”\n]*["”]`),
	regexp.MustCompile(`\bby\s+\p{Lu}[\p{L}.'-]*(?:\s+\p{Lu}[\p{L}.'-]*)+`),
	regexp.MustCompile(`\(\s*[12]\d{3}\s*\)`),
}

// bookAssertion returns the first book-like span in an uncited answer, or ""
// when there is none.
func bookAssertion(answer string) string {
	for _, re := range bookPatterns {
		if m := re.FindString(answer); m != "" {
			return m
		}
	}
	return ""
}
