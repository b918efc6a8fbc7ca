package util

import (
	"regexp"
	"strings"

	"libimport/internal"
)

var (
	reNonLetters = regexp.MustCompile(`[^a-zA-Z\s]`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

// CleanText trims a raw field value; an empty result becomes the NA sentinel.
// CleanText(CleanText(x)) == CleanText(x) for every x.
func CleanText(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return internal.NA
	}
	return s
}

// CleanCell is CleanText for an optional cell: idx < 0 or a short row yields NA.
func CleanCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return internal.NA
	}
	return CleanText(row[idx])
}

// NormalizeHeaderCell is the form header cells are compared in during detection.
func NormalizeHeaderCell(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

// NormalizeColumnKey folds "S.No" and "SNo" together before keyword lookup.
func NormalizeColumnKey(input string) string {
	s := strings.ToUpper(input)
	s = strings.ReplaceAll(s, ".", "")
	return strings.TrimSpace(s)
}

// LettersOnly drops every rune that is not an ASCII letter or whitespace, then trims.
// Case and inner whitespace runs are kept as they are.
func LettersOnly(input string) string {
	return strings.TrimSpace(reNonLetters.ReplaceAllString(input, ""))
}

func CompactSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}
