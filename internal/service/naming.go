package service

import (
	"regexp"
	"sort"
	"strings"
)

var (
	nonWordChars   = regexp.MustCompile(`[^\w\s-]`)
	slugSeparators = regexp.MustCompile(`[\s-]+`)
)

// Slugify derives a URL slug from a name: lowercase, non-word characters
// stripped, runs of whitespace and hyphens collapsed to a single hyphen so
// "Alfajores - Classic" and "Alfajores Classic" yield the same slug.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = nonWordChars.ReplaceAllString(slug, "")
	slug = slugSeparators.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// NormalizeName canonicalizes an item name for cross-system matching:
// lowercase, punctuation stripped, words sorted alphabetically, so
// "Alfajores - Classic" matches "Classic Alfajores".
func NormalizeName(name string) string {
	cleaned := nonWordChars.ReplaceAllString(strings.ToLower(name), "")
	cleaned = strings.ReplaceAll(cleaned, "-", " ")
	words := strings.Fields(cleaned)
	sort.Strings(words)
	return strings.Join(words, " ")
}

// IsCateringCategory reports whether a category name denotes a catering
// category: the normalized (trimmed, upper-cased) name equals CATERING or
// starts with CATERING-.
func IsCateringCategory(name string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	return normalized == "CATERING" || strings.HasPrefix(normalized, "CATERING-")
}

// shortSquareID returns a shortened Square object id suitable for slug
// disambiguation.
func shortSquareID(squareID string) string {
	id := strings.ToLower(squareID)
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
