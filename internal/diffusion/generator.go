package diffusion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/example/go-diffar/internal/dataset"
	"github.com/example/go-diffar/internal/textgrid"
)

// Generator synthesizes a whole utterance autoregressively. Each frame of
// Window samples starts Hop samples after the previous one and is
// conditioned on the audio already generated for its head.
type Generator struct {
	Sampler       *Sampler
	Window        int
	Hop           int
	SampleRate    int
	TotalPhonemes int

	// OnFrame, when set, is called after each frame with the number of
	// samples generated so far and the target length.
	OnFrame func(done, total int)
}

func (g *Generator) validate() error {
	switch {
	case g.Sampler == nil:
		return errors.New("generator has no sampler")
	case g.Window <= 0:
		return fmt.Errorf("generator window must be positive, got %d", g.Window)
	case g.Hop <= 0 || g.Hop > g.Window/2:
		return fmt.Errorf("generator hop must be in (0, window/2], got %d", g.Hop)
	case g.SampleRate <= 0:
		return fmt.Errorf("generator sample rate must be positive, got %d", g.SampleRate)
	}
	return nil
}

// Generate produces audio for the aligned phones. energies holds one value
// per interval. The result is truncated to the end of the last interval.
func (g *Generator) Generate(ctx context.Context, rng *rand.Rand, intervals []textgrid.Interval, energies []float32) ([]float32, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	if len(intervals) == 0 {
		return nil, errors.New("generate: no phones")
	}

	total := int(math.RoundToEven(intervals[len(intervals)-1].End * float64(g.SampleRate)))
	if total <= 0 {
		return nil, fmt.Errorf("generate: alignment has no duration")
	}

	out := make([]float32, 0, total+g.Window)
	for p := 0; p < total; p += g.Hop {
		cond, err := dataset.BuildConditioning(p, p+g.Window, intervals, energies, g.SampleRate, g.TotalPhonemes)
		if err != nil {
			return nil, fmt.Errorf("frame at %d: %w", p, err)
		}

		overlap := 0
		if p > 0 {
			overlap = min(dataset.OverlapDuration(p, cond.Taken, g.Window, g.SampleRate), len(out)-p)
		}
		head := make([]float32, g.Window)
		copy(head, out[p:p+max(overlap, 0)])

		frame, err := g.Sampler.Sample(ctx, rng, Input{
			Conditioner: [][]float32{head},
			Phonemes:    [][]float32{cond.Phones},
			Energy:      [][]float32{cond.Energy},
		})
		if err != nil {
			return nil, fmt.Errorf("frame at %d: %w", p, err)
		}

		out = append(out, frame[0][len(out)-p:]...)
		if g.OnFrame != nil {
			g.OnFrame(min(len(out), total), total)
		}
	}

	return out[:total], nil
}
