package manifest

import (
	"fmt"
	"sort"
	"strings"
)

// Split is the manifest triple of one dataset split.
type Split struct {
	WAV      Manifest
	TextGrid Manifest
	Energy   Manifest
}

// LoadSplit reads the three manifests and verifies they share one id set.
func LoadSplit(wavPath, textGridPath, energyPath string) (Split, error) {
	var s Split
	var err error
	if s.WAV, err = Read(wavPath); err != nil {
		return Split{}, err
	}
	if s.TextGrid, err = Read(textGridPath); err != nil {
		return Split{}, err
	}
	if s.Energy, err = Read(energyPath); err != nil {
		return Split{}, err
	}
	if err := CheckConsistency(s.WAV, s.TextGrid, s.Energy); err != nil {
		return Split{}, err
	}
	return s, nil
}

// IDs returns the shared sorted ids of a consistent split.
func (s Split) IDs() []string { return s.WAV.IDs() }

// maxListed bounds how many offending ids an error message names.
const maxListed = 5

// CheckConsistency returns ErrInconsistent unless wav, textgrid and energy
// contain exactly the same ids.
func CheckConsistency(wav, textgrid, energy Manifest) error {
	named := []struct {
		kind Kind
		m    Manifest
	}{{KindWAV, wav}, {KindTextGrid, textgrid}, {KindEnergy, energy}}

	var problems []string
	for _, other := range named[1:] {
		if missing := difference(wav, other.m); len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("%d ids missing from %s manifest (%s)", len(missing), other.kind, list(missing)))
		}
		if extra := difference(other.m, wav); len(extra) > 0 {
			problems = append(problems, fmt.Sprintf("%d ids only in %s manifest (%s)", len(extra), other.kind, list(extra)))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInconsistent, strings.Join(problems, "; "))
	}
	return nil
}

// difference returns the sorted ids of a that are absent from b.
func difference(a, b Manifest) []string {
	var out []string
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func list(ids []string) string {
	if len(ids) <= maxListed {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:maxListed], ", ") + ", ..."
}
