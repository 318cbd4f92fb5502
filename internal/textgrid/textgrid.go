// Package textgrid reads and writes Praat TextGrid files.
//
// Both the long ("ooTextFile" with key = value labels) and the short text
// formats are accepted on read. Files are always written in the long format.
package textgrid

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrNoTier is returned when a TextGrid has no usable interval tier.
var ErrNoTier = errors.New("no interval tier")

const (
	ClassInterval = "IntervalTier"
	ClassText     = "TextTier"
)

// Interval is one labelled span of a tier, in seconds.
type Interval struct {
	Start float64
	End   float64
	Mark  string
}

// Duration returns End - Start.
func (iv Interval) Duration() float64 { return iv.End - iv.Start }

// StartSample returns the start rounded (half to even) to a sample index.
func (iv Interval) StartSample(sampleRate int) int {
	return int(math.RoundToEven(iv.Start * float64(sampleRate)))
}

// EndSample returns the end rounded to a sample index.
func (iv Interval) EndSample(sampleRate int) int {
	return int(math.RoundToEven(iv.End * float64(sampleRate)))
}

type Tier struct {
	Class     string
	Name      string
	Start     float64
	End       float64
	Intervals []Interval
}

type TextGrid struct {
	Start float64
	End   float64
	Tiers []Tier
}

// Tier returns the tier with the given name.
func (tg *TextGrid) Tier(name string) (*Tier, bool) {
	for i := range tg.Tiers {
		if tg.Tiers[i].Name == name {
			return &tg.Tiers[i], true
		}
	}
	return nil, false
}

// PhoneTier picks the tier that carries phone labels: the interval tier
// called name, then the second tier, then the only tier.
func (tg *TextGrid) PhoneTier(name string) (*Tier, error) {
	if t, ok := tg.Tier(name); ok && t.Class == ClassInterval {
		return t, nil
	}
	var t *Tier
	switch {
	case len(tg.Tiers) >= 2:
		t = &tg.Tiers[1]
	case len(tg.Tiers) == 1:
		t = &tg.Tiers[0]
	default:
		return nil, fmt.Errorf("%w: textgrid has no tiers", ErrNoTier)
	}
	if t.Class != ClassInterval {
		return nil, fmt.Errorf("%w: tier %q is a %s", ErrNoTier, t.Name, t.Class)
	}
	return t, nil
}

// FromPhones builds a single-tier alignment from consecutive phone durations
// given in samples.
func FromPhones(tierName string, phones []string, durations []int, sampleRate int) (*TextGrid, error) {
	if len(phones) != len(durations) {
		return nil, fmt.Errorf("phones and durations differ in length: %d != %d", len(phones), len(durations))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	tier := Tier{Class: ClassInterval, Name: tierName}
	pos := 0
	for i, p := range phones {
		if durations[i] <= 0 {
			return nil, fmt.Errorf("phone %d (%q) has non-positive duration %d", i, p, durations[i])
		}
		tier.Intervals = append(tier.Intervals, Interval{
			Start: float64(pos) / float64(sampleRate),
			End:   float64(pos+durations[i]) / float64(sampleRate),
			Mark:  p,
		})
		pos += durations[i]
	}
	end := float64(pos) / float64(sampleRate)
	tier.End = end

	return &TextGrid{End: end, Tiers: []Tier{tier}}, nil
}

// ReadFile parses the TextGrid at path.
func ReadFile(path string) (*TextGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open textgrid: %w", err)
	}
	defer f.Close()

	tg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("textgrid %s: %w", path, err)
	}
	return tg, nil
}

// WriteFile writes tg to path in the long text format.
func WriteFile(path string, tg *TextGrid) error {
	var b bytes.Buffer
	if err := tg.Write(&b); err != nil {
		return err
	}
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write textgrid: %w", err)
	}
	return nil
}
