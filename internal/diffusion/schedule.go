// Package diffusion holds the noise schedule, the forward noising process,
// the denoising losses and the DDPM reverse process used to generate audio
// one frame at a time.
package diffusion

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Schedule is a linear beta schedule with its derived alpha products.
type Schedule struct {
	Beta     []float64
	Alpha    []float64
	AlphaCum []float64
}

// NewSchedule builds num betas evenly spaced over [start, stop].
func NewSchedule(start, stop float64, num int) (*Schedule, error) {
	if num < 1 {
		return nil, fmt.Errorf("noise schedule needs at least one step, got %d", num)
	}
	if start <= 0 || stop < start || stop >= 1 {
		return nil, fmt.Errorf("noise schedule requires 0 < start <= stop < 1, got %g..%g", start, stop)
	}

	s := &Schedule{
		Beta:     make([]float64, num),
		Alpha:    make([]float64, num),
		AlphaCum: make([]float64, num),
	}
	prod := 1.0
	for i := range num {
		b := start
		if num > 1 {
			b = start + (stop-start)*float64(i)/float64(num-1)
		}
		s.Beta[i] = b
		s.Alpha[i] = 1 - b
		prod *= 1 - b
		s.AlphaCum[i] = prod
	}
	return s, nil
}

// Len is the number of diffusion steps.
func (s *Schedule) Len() int { return len(s.Beta) }

// Steps draws one uniform step index per example.
func (s *Schedule) Steps(rng *rand.Rand, n int) []int {
	steps := make([]int, n)
	for i := range steps {
		steps[i] = rng.IntN(s.Len())
	}
	return steps
}

// Gaussian returns rows of standard normal noise shaped like ref.
func Gaussian(rng *rand.Rand, ref [][]float32) [][]float32 {
	out := make([][]float32, len(ref))
	for i, row := range ref {
		out[i] = make([]float32, len(row))
		for j := range out[i] {
			out[i][j] = float32(rng.NormFloat64())
		}
	}
	return out
}

// Noise applies the forward process: sqrt(abar_t)*x + sqrt(1-abar_t)*eps,
// using steps[i] for row i.
func (s *Schedule) Noise(clean, eps [][]float32, steps []int) ([][]float32, error) {
	if len(clean) != len(eps) || len(clean) != len(steps) {
		return nil, fmt.Errorf("noise: %d rows, %d noise rows, %d steps", len(clean), len(eps), len(steps))
	}

	out := make([][]float32, len(clean))
	for i, row := range clean {
		t := steps[i]
		if t < 0 || t >= s.Len() {
			return nil, fmt.Errorf("noise: step %d outside [0, %d)", t, s.Len())
		}
		if len(eps[i]) != len(row) {
			return nil, fmt.Errorf("noise: row %d has %d samples, noise has %d", i, len(row), len(eps[i]))
		}
		a := float32(math.Sqrt(s.AlphaCum[t]))
		b := float32(math.Sqrt(1 - s.AlphaCum[t]))
		out[i] = make([]float32, len(row))
		for j, x := range row {
			out[i][j] = a*x + b*eps[i][j]
		}
	}
	return out, nil
}
