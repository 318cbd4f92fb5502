package phoneme

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/go-diffar/internal/text"
)

// Lexicon maps upper-cased words to phone sequences.
type Lexicon struct {
	entries map[string][]string
}

// NewLexicon returns an empty lexicon; every word is out of vocabulary.
func NewLexicon() *Lexicon {
	return &Lexicon{entries: map[string][]string{}}
}

// LoadLexicon reads a CMUdict-style pronunciation file.
func LoadLexicon(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	defer f.Close()

	lex, err := ReadLexicon(f)
	if err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}
	return lex, nil
}

// ReadLexicon parses lines of the form "WORD  PH1 PH2 ...". Lines starting
// with ";;;" are comments. Alternate pronunciations ("WORD(2)") are ignored;
// the first pronunciation of a word wins.
func ReadLexicon(r io.Reader) (*Lexicon, error) {
	lex := NewLexicon()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, ";;;") {
			continue
		}
		fields := strings.Fields(raw)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected word followed by phones", line)
		}
		word := strings.ToUpper(fields[0])
		if strings.HasSuffix(word, ")") && strings.Contains(word, "(") {
			continue
		}
		phones := make([]string, 0, len(fields)-1)
		for _, p := range fields[1:] {
			if !Known(p) {
				return nil, fmt.Errorf("line %d: %w %q", line, ErrUnknown, p)
			}
			phones = append(phones, p)
		}
		if _, dup := lex.entries[word]; !dup {
			lex.entries[word] = phones
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lex, nil
}

// Len returns the number of words in the lexicon.
func (l *Lexicon) Len() int { return len(l.entries) }

// Lookup returns the pronunciation of word.
func (l *Lexicon) Lookup(word string) ([]string, bool) {
	p, ok := l.entries[strings.ToUpper(word)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), p...), true
}

// Phonemize converts raw text to a phone sequence framed by pauses. Tokens
// that already are inventory phones pass through, words are looked up, and
// out-of-vocabulary words become spoken noise. Pause punctuation maps to a
// single pause.
func (l *Lexicon) Phonemize(raw string) ([]string, error) {
	normalized, err := text.Normalize(raw)
	if err != nil {
		return nil, err
	}

	phones := []string{Pause}
	for _, tok := range text.Tokenize(normalized) {
		switch {
		case tok.Pause:
			if phones[len(phones)-1] != Pause {
				phones = append(phones, Pause)
			}
		case Known(tok.Text) && tok.Text != Silence:
			phones = append(phones, tok.Text)
		default:
			if p, ok := l.Lookup(tok.Text); ok {
				phones = append(phones, p...)
			} else {
				phones = append(phones, SpokenNoise)
			}
		}
	}
	if phones[len(phones)-1] != Pause {
		phones = append(phones, Pause)
	}
	return phones, nil
}
