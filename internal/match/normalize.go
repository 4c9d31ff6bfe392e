package match

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

// NormalizeName trims and collapses interior whitespace. Casing is left
// alone; the store compares names case-insensitively.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NormalizeTerm upcases a search term after collapsing whitespace, so
// model-generated terms compare and deduplicate consistently.
func NormalizeTerm(term string) string {
	return upper.String(NormalizeName(term))
}

func equalNames(a, b string) bool {
	return strings.EqualFold(NormalizeName(a), NormalizeName(b))
}
