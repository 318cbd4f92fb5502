// Package text cleans up synthesis input files before phonemization.
package text

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

var symbolWords = strings.NewReplacer(
	"&", " and ",
	"%", " percent ",
	"+", " plus ",
	"@", " at ",
	"’", "'",
	"‘", "'",
	"“", `"`,
	"”", `"`,
	"—", ", ",
	"–", " ",
)

// Normalize prepares one input file for phonemization. It drops a leading
// byte order mark, applies NFKC (full-width forms fold to ASCII, combining
// marks compose), spells out a few symbols, maps typographic quotes and
// dashes to ASCII, and collapses every whitespace run (including line breaks)
// into one space. Empty or whitespace-only input is rejected.
func Normalize(s string) (string, error) {
	s = norm.NFKC.String(strings.TrimPrefix(s, "\ufeff"))
	s = symbolWords.Replace(s)
	s = strings.Join(strings.Fields(s), " ")

	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}
