// Package dataset turns aligned recordings into training examples: random
// fixed-length segments with their phone and energy conditioning and the
// overlap-masked audio conditioner.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/example/go-diffar/internal/phoneme"
	"github.com/example/go-diffar/internal/textgrid"
)

// ErrTooShort is returned for audio shorter than the requested segment.
var ErrTooShort = errors.New("audio shorter than segment")

// SampleSegment picks a random [start, end) window of n samples inside a
// signal of the given length.
func SampleSegment(rng *rand.Rand, length, n int) (start, end int, err error) {
	if n <= 0 {
		return 0, 0, fmt.Errorf("segment length must be positive, got %d", n)
	}
	if length < n {
		return 0, 0, fmt.Errorf("%w: %d < %d samples", ErrTooShort, length, n)
	}
	start = rng.IntN(length - n + 1)
	return start, start + n, nil
}

// Conditioning is the per-sample phone and energy signal of one segment.
type Conditioning struct {
	Phones []float32
	Energy []float32
	// Taken lists the intervals that overlap the segment, in order.
	Taken []textgrid.Interval
}

// BuildConditioning expands the intervals overlapping [start, end) into
// per-sample phone values and energies. Interval bounds are rounded to
// samples. Spans not covered by any interval carry the silence value and
// zero energy, so both signals always have end-start samples.
func BuildConditioning(start, end int, intervals []textgrid.Interval, energies []float32, sampleRate, totalPhonemes int) (Conditioning, error) {
	if end <= start {
		return Conditioning{}, fmt.Errorf("empty segment [%d, %d)", start, end)
	}
	if len(energies) != len(intervals) {
		return Conditioning{}, fmt.Errorf("energy has %d values for %d intervals", len(energies), len(intervals))
	}
	silence, err := phoneme.Value(phoneme.Silence, totalPhonemes)
	if err != nil {
		return Conditioning{}, err
	}

	c := Conditioning{
		Phones: make([]float32, 0, end-start),
		Energy: make([]float32, 0, end-start),
	}
	fill := func(n int, phone, energy float32) {
		for range n {
			c.Phones = append(c.Phones, phone)
			c.Energy = append(c.Energy, energy)
		}
	}

	pos := start
	for i, iv := range intervals {
		s, e := iv.StartSample(sampleRate), iv.EndSample(sampleRate)
		if s >= end {
			break
		}
		if e <= pos {
			continue
		}
		s = max(s, pos)
		e = min(e, end)

		value, err := phoneme.Value(iv.Mark, totalPhonemes)
		if err != nil {
			return Conditioning{}, fmt.Errorf("interval %d: %w", i, err)
		}
		fill(s-pos, silence, 0)
		fill(e-s, value, energies[i])
		c.Taken = append(c.Taken, iv)
		pos = e
	}
	fill(end-pos, silence, 0)

	return c, nil
}

// OverlapDuration returns how many leading samples of the segment starting
// at start are handed to the denoiser as audio conditioning. It aims for the
// end of the first third of the taken phones and steps back one phone at a
// time while that exceeds half the window. The result never exceeds half the
// window and is never negative.
func OverlapDuration(start int, taken []textgrid.Interval, window, sampleRate int) int {
	if len(taken) == 0 {
		return 0
	}
	k := (len(taken) + 2) / 3
	half := float64(window) / 2
	sr := float64(sampleRate)

	overlap := taken[k-1].End*sr - float64(start)
	for i := 2; overlap > half && k-i >= 0; i++ {
		overlap = taken[k-i].End*sr - float64(start)
	}

	return max(0, min(int(math.RoundToEven(overlap)), int(math.RoundToEven(half))))
}

// MaskConditioned returns a copy of segment with every sample from overlap
// onwards zeroed.
func MaskConditioned(segment []float32, overlap int) []float32 {
	out := make([]float32, len(segment))
	copy(out, segment[:min(max(overlap, 0), len(segment))])
	return out
}
