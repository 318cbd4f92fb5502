// Package phoneme holds the ARPAbet phone inventory used for conditioning
// and a pronunciation lexicon for turning words into phones.
package phoneme

import (
	"errors"
	"fmt"
)

// ErrUnknown is returned for a phone mark outside the inventory.
var ErrUnknown = errors.New("unknown phoneme")

const (
	// Silence is the mark aligners emit for unlabelled intervals.
	Silence = ""
	// SpokenNoise marks out-of-vocabulary speech.
	SpokenNoise = "spn"
	// Pause is the explicit silence phone.
	Pause = "sil"
)

// inventory lists phones in index order; index 0 is unused so that the empty
// mark maps to 1.
var inventory = []string{
	Silence,
	"AA0", "AA1", "AA2", "AE0", "AE1", "AE2", "AH0", "AH1", "AH2",
	"AO0", "AO1", "AO2", "AW0", "AW1", "AW2", "AY0", "AY1", "AY2",
	"B", "CH", "D", "DH",
	"EH0", "EH1", "EH2", "ER0", "ER1", "ER2", "EY0", "EY1", "EY2",
	"F", "G", "HH",
	"IH0", "IH1", "IH2", "IY0", "IY1", "IY2",
	"JH", "K", "L", "M", "N", "NG",
	"OW0", "OW1", "OW2", "OY0", "OY1", "OY2",
	"P", "R", "S", "SH", "T", "TH",
	"UH0", "UH1", "UH2", "UW0", "UW1", "UW2",
	"V", "W", "Y", "Z", "ZH",
	SpokenNoise, Pause,
}

var indexOf = func() map[string]int {
	m := make(map[string]int, len(inventory))
	for i, p := range inventory {
		m[p] = i + 1
	}
	return m
}()

// Count is the number of phones in the inventory.
func Count() int { return len(inventory) }

// Index returns the 1-based inventory index of mark.
func Index(mark string) (int, error) {
	i, ok := indexOf[mark]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknown, mark)
	}
	return i, nil
}

// Known reports whether mark is in the inventory.
func Known(mark string) bool {
	_, ok := indexOf[mark]
	return ok
}

// Symbol returns the phone with the given 1-based index.
func Symbol(index int) (string, bool) {
	if index < 1 || index > len(inventory) {
		return "", false
	}
	return inventory[index-1], true
}

// Value is the scalar conditioning value of mark: its index divided by
// total, so that every phone lands in (0, 1].
func Value(mark string, total int) (float32, error) {
	i, err := Index(mark)
	if err != nil {
		return 0, err
	}
	return float32(i) / float32(total), nil
}

// IsSilence reports whether mark is one of the non-speech phones.
func IsSilence(mark string) bool {
	return mark == Silence || mark == Pause
}
