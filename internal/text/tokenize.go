package text

import (
	"strings"
	"unicode"
)

// Token is a word or a pause-bearing punctuation mark.
type Token struct {
	Text  string
	Pause bool
}

const pauseMarks = ",.;:!?"

// Tokenize splits normalized text into words and pause tokens. Word edges are
// stripped of punctuation; inner apostrophes and hyphens are kept.
func Tokenize(s string) []Token {
	var out []Token
	for _, field := range strings.Fields(s) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word != "" {
			out = append(out, Token{Text: word})
		}
		if strings.ContainsAny(trailing(field, word), pauseMarks) {
			out = append(out, Token{Text: field[len(field)-1:], Pause: true})
		}
	}
	return out
}

// trailing returns what follows word inside field.
func trailing(field, word string) string {
	if word == "" {
		return field
	}
	i := strings.LastIndex(field, word)
	return field[i+len(word):]
}
