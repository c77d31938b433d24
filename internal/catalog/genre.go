package catalog

import "strings"

// Genre is one of a closed set of catalog genres.
type Genre string

const (
	GenreFantasy    Genre = "fantasy"
	GenreSciFi      Genre = "sci-fi"
	GenreMystery    Genre = "mystery"
	GenreRomance    Genre = "romance"
	GenreThriller   Genre = "thriller"
	GenreHorror     Genre = "horror"
	GenreHistorical Genre = "historical"
	GenreBiography  Genre = "biography"
	GenreHistory    Genre = "history"
	GenreScience    Genre = "science"
	GenrePoetry     Genre = "poetry"
	GenreChildren   Genre = "children"
	GenreYoungAdult Genre = "young-adult"
	GenreNonFiction Genre = "non-fiction"
	GenreFiction    Genre = "fiction"
)

// Genres lists the closed set in display order.
var Genres = []Genre{
	GenreFantasy, GenreSciFi, GenreMystery, GenreRomance, GenreThriller,
	GenreHorror, GenreHistorical, GenreBiography, GenreHistory, GenreScience,
	GenrePoetry, GenreChildren, GenreYoungAdult, GenreNonFiction, GenreFiction,
}

var genreAliases = map[string]Genre{
	"science fiction":    GenreSciFi,
	"science-fiction":    GenreSciFi,
	"scifi":              GenreSciFi,
	"sf":                 GenreSciFi,
	"sci fi":             GenreSciFi,
	"detective":          GenreMystery,
	"crime":              GenreMystery,
	"whodunit":           GenreMystery,
	"suspense":           GenreThriller,
	"scary":              GenreHorror,
	"historical fiction": GenreHistorical,
	"memoir":             GenreBiography,
	"autobiography":      GenreBiography,
	"poems":              GenrePoetry,
	"poem":               GenrePoetry,
	"kids":               GenreChildren,
	"childrens":          GenreChildren,
	"ya":                 GenreYoungAdult,
	"young adult":        GenreYoungAdult,
	"teen":               GenreYoungAdult,
	"nonfiction":         GenreNonFiction,
	"non fiction":        GenreNonFiction,
}

var genreSet = func() map[Genre]bool {
	m := make(map[Genre]bool, len(Genres))
	for _, g := range Genres {
		m[g] = true
	}
	return m
}()

// ParseGenre resolves a canonical genre name or a known alias.
func ParseGenre(s string) (Genre, bool) {
	v := NormalizeValue(strings.ReplaceAll(s, "_", " "))
	if genreSet[Genre(v)] {
		return Genre(v), true
	}
	if g, ok := genreAliases[v]; ok {
		return g, true
	}
	if genreSet[Genre(strings.ReplaceAll(v, " ", "-"))] {
		return Genre(strings.ReplaceAll(v, " ", "-")), true
	}
	return "", false
}

// GenreAt reports the genre named at words[i], trying the two-word form
// first. n is the number of words consumed; zero means no genre starts at i.
func GenreAt(words []string, i int) (g Genre, n int) {
	if i+1 < len(words) {
		if g, ok := ParseGenre(words[i] + " " + words[i+1]); ok {
			return g, 2
		}
	}
	if g, ok := ParseGenre(words[i]); ok {
		return g, 1
	}
	return "", 0
}

// DetectGenres scans already-lowercased words for genre names and aliases,
// including two-word forms such as "science fiction". Results are unique and
// in order of first appearance.
func DetectGenres(words []string) []Genre {
	var out []Genre
	seen := make(map[Genre]bool)
	for i := 0; i < len(words); {
		g, n := GenreAt(words, i)
		if n == 0 {
			i++
			continue
		}
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
		i += n
	}
	return out
}
