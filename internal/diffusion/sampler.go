package diffusion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Sampler runs DDPM ancestral sampling against a Denoiser.
type Sampler struct {
	Schedule *Schedule
	Denoiser Denoiser
}

// Sample starts from Gaussian noise shaped like cond.Conditioner and walks
// the schedule backwards. cond.Noisy and cond.Steps are overwritten on each
// step. Samples are clamped to [-1, 1] after every update.
func (s *Sampler) Sample(ctx context.Context, rng *rand.Rand, cond Input) ([][]float32, error) {
	if s.Schedule == nil || s.Denoiser == nil {
		return nil, errors.New("sampler needs a schedule and a denoiser")
	}
	if len(cond.Conditioner) == 0 {
		return nil, errors.New("sampler: empty batch")
	}

	x := Gaussian(rng, cond.Conditioner)
	steps := make([]int, len(x))
	sch := s.Schedule

	for n := sch.Len() - 1; n >= 0; n-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range steps {
			steps[i] = n
		}
		cond.Noisy = x
		cond.Steps = steps

		eps, err := s.Denoiser.PredictNoise(ctx, &cond)
		if err != nil {
			return nil, fmt.Errorf("denoise step %d: %w", n, err)
		}
		if len(eps) != len(x) {
			return nil, fmt.Errorf("denoise step %d: %d rows for a batch of %d", n, len(eps), len(x))
		}

		c1 := 1 / math.Sqrt(sch.Alpha[n])
		c2 := sch.Beta[n] / math.Sqrt(1-sch.AlphaCum[n])
		sigma := 0.0
		if n > 0 {
			sigma = math.Sqrt((1 - sch.AlphaCum[n-1]) / (1 - sch.AlphaCum[n]) * sch.Beta[n])
		}

		next := make([][]float32, len(x))
		for i := range x {
			if len(eps[i]) != len(x[i]) {
				return nil, fmt.Errorf("denoise step %d: row %d has %d samples, want %d", n, i, len(eps[i]), len(x[i]))
			}
			next[i] = make([]float32, len(x[i]))
			for j := range x[i] {
				v := c1 * (float64(x[i][j]) - c2*float64(eps[i][j]))
				if sigma > 0 {
					v += sigma * rng.NormFloat64()
				}
				next[i][j] = float32(min(1, max(-1, v)))
			}
		}
		x = next
	}

	return x, nil
}
