package textgrid

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokFlag
)

type token struct {
	kind tokenKind
	text string
	num  float64
	line int
}

// Parse reads a TextGrid in the long or short text format. UTF-16 input with
// a byte order mark is decoded transparently.
func Parse(r io.Reader) (*TextGrid, error) {
	dec := transform.NewReader(r, xunicode.BOMOverride(xunicode.UTF8.NewDecoder()))
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read textgrid: %w", err)
	}
	toks, err := lex(string(data))
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.textGrid()
}

// lex extracts the value tokens of a Praat text file. Labels ("xmin =",
// "intervals:"), bracketed indices and "!" comments carry no values in
// either format and are dropped, which makes the two formats token-identical.
func lex(src string) ([]token, error) {
	var toks []token
	line := 1
	rs := []rune(src)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case c == '\n':
			line++
			i++
		case unicode.IsSpace(c):
			i++
		case c == '!':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case c == '[':
			for i < len(rs) && rs[i] != ']' {
				i++
			}
			i++
		case c == '"':
			start := line
			var b strings.Builder
			i++
			closed := false
			for i < len(rs) {
				if rs[i] == '"' {
					if i+1 < len(rs) && rs[i+1] == '"' {
						b.WriteRune('"')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				if rs[i] == '\n' {
					line++
				}
				b.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("line %d: unterminated string", start)
			}
			toks = append(toks, token{kind: tokString, text: b.String(), line: start})
		case c == '<':
			j := i
			for j < len(rs) && rs[j] != '>' && rs[j] != '\n' {
				j++
			}
			if j >= len(rs) || rs[j] != '>' {
				return nil, fmt.Errorf("line %d: unterminated flag", line)
			}
			toks = append(toks, token{kind: tokFlag, text: string(rs[i+1 : j]), line: line})
			i = j + 1
		case isNumberStart(rs, i):
			j := i + 1
			for j < len(rs) && strings.ContainsRune("0123456789.eE+-", rs[j]) {
				j++
			}
			text := string(rs[i:j])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad number %q", line, text)
			}
			toks = append(toks, token{kind: tokNumber, num: v, text: text, line: line})
			i = j
		default:
			// label word or punctuation
			for i < len(rs) && !unicode.IsSpace(rs[i]) && rs[i] != '"' && rs[i] != '[' && rs[i] != '<' {
				i++
			}
		}
	}
	return toks, nil
}

func isNumberStart(rs []rune, i int) bool {
	c := rs[i]
	if unicode.IsDigit(c) {
		return true
	}
	if (c == '-' || c == '+' || c == '.') && i+1 < len(rs) {
		n := rs[i+1]
		return unicode.IsDigit(n) || (n == '.' && c != '.')
	}
	return false
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) next() (token, error) {
	if p.pos >= len(p.toks) {
		return token{}, io.ErrUnexpectedEOF
	}
	t := p.toks[p.pos]
	p.pos++
	return t, nil
}

func (p *parser) str() (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	if t.kind != tokString {
		return "", fmt.Errorf("line %d: expected string, got %q", t.line, t.text)
	}
	return t.text, nil
}

func (p *parser) number() (float64, error) {
	t, err := p.next()
	if err != nil {
		return 0, err
	}
	if t.kind != tokNumber {
		return 0, fmt.Errorf("line %d: expected number, got %q", t.line, t.text)
	}
	return t.num, nil
}

func (p *parser) count() (int, error) {
	v, err := p.number()
	if err != nil {
		return 0, err
	}
	if v < 0 || v != float64(int(v)) {
		return 0, fmt.Errorf("invalid count %v", v)
	}
	return int(v), nil
}

func (p *parser) textGrid() (*TextGrid, error) {
	fileType, err := p.str()
	if err != nil {
		return nil, fmt.Errorf("file type: %w", err)
	}
	if fileType != "ooTextFile" {
		return nil, fmt.Errorf("unsupported file type %q", fileType)
	}
	class, err := p.str()
	if err != nil {
		return nil, fmt.Errorf("object class: %w", err)
	}
	if !strings.HasPrefix(class, "TextGrid") {
		return nil, fmt.Errorf("object class %q is not a TextGrid", class)
	}

	tg := &TextGrid{}
	if tg.Start, err = p.number(); err != nil {
		return nil, fmt.Errorf("xmin: %w", err)
	}
	if tg.End, err = p.number(); err != nil {
		return nil, fmt.Errorf("xmax: %w", err)
	}

	flag, err := p.next()
	if err != nil {
		return nil, fmt.Errorf("tiers flag: %w", err)
	}
	if flag.kind != tokFlag {
		return nil, fmt.Errorf("line %d: expected <exists> or <absent>", flag.line)
	}
	if flag.text != "exists" {
		return tg, nil
	}

	n, err := p.count()
	if err != nil {
		return nil, fmt.Errorf("tier count: %w", err)
	}
	tg.Tiers = make([]Tier, 0, n)
	for i := 0; i < n; i++ {
		t, err := p.tier()
		if err != nil {
			return nil, fmt.Errorf("tier %d: %w", i+1, err)
		}
		tg.Tiers = append(tg.Tiers, t)
	}
	return tg, nil
}

func (p *parser) tier() (Tier, error) {
	var t Tier
	var err error
	if t.Class, err = p.str(); err != nil {
		return t, err
	}
	if t.Name, err = p.str(); err != nil {
		return t, err
	}
	if t.Start, err = p.number(); err != nil {
		return t, err
	}
	if t.End, err = p.number(); err != nil {
		return t, err
	}
	n, err := p.count()
	if err != nil {
		return t, err
	}

	t.Intervals = make([]Interval, 0, n)
	for i := 0; i < n; i++ {
		var iv Interval
		switch t.Class {
		case ClassInterval:
			if iv.Start, err = p.number(); err != nil {
				return t, err
			}
			if iv.End, err = p.number(); err != nil {
				return t, err
			}
		case ClassText:
			if iv.Start, err = p.number(); err != nil {
				return t, err
			}
			iv.End = iv.Start
		default:
			return t, fmt.Errorf("unsupported tier class %q", t.Class)
		}
		if iv.Mark, err = p.str(); err != nil {
			return t, err
		}
		if iv.End < iv.Start {
			return t, fmt.Errorf("interval %d ends before it starts", i+1)
		}
		t.Intervals = append(t.Intervals, iv)
	}
	return t, nil
}
