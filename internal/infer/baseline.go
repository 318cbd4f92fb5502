package infer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"

	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/features"
	"github.com/example/go-diffar/internal/manifest"
	"github.com/example/go-diffar/internal/textgrid"
)

// DefaultEnergy is the energy assumed for phones without statistics.
const DefaultEnergy = 0.05

// StatsPredictor predicts each phone's duration and energy as its corpus
// mean. Phones missing from Stats, or all phones when Stats is nil, get the
// fallbacks.
type StatsPredictor struct {
	Stats      *features.PhoneStats
	SampleRate int
	// FallbackDuration is in seconds.
	FallbackDuration float64
	FallbackEnergy   float32
	// MaxDuration caps durations, in samples. Zero disables the cap.
	MaxDuration int
}

func (p *StatsPredictor) Durations(ctx context.Context, phones []string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	out := make([]int, len(phones))
	for i, ph := range phones {
		d := p.FallbackDuration * float64(p.SampleRate)
		if p.Stats != nil {
			if mean, ok := p.Stats.Duration(ph); ok && p.Stats.SampleRate > 0 {
				d = mean * float64(p.SampleRate) / float64(p.Stats.SampleRate)
			}
		}
		n := max(int(math.RoundToEven(d)), 1)
		if p.MaxDuration > 0 {
			n = min(n, p.MaxDuration)
		}
		out[i] = n
	}
	return out, nil
}

func (p *StatsPredictor) Energies(ctx context.Context, phones []string, durations []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(durations) != len(phones) {
		return nil, fmt.Errorf("%d durations for %d phones", len(durations), len(phones))
	}
	out := make([]float32, len(phones))
	for i, ph := range phones {
		out[i] = p.FallbackEnergy
		if p.Stats == nil {
			continue
		}
		if e, ok := p.Stats.Energy(ph); ok {
			out[i] = float32(e)
		}
	}
	return out, nil
}

// LoadStats looks for phone statistics saved next to the checkpoint, then
// computes them from the training manifests. Missing sources yield nil
// stats and no error.
func LoadStats(cfg config.Config, statsPath string) (*features.PhoneStats, error) {
	stats, err := features.LoadPhoneStats(statsPath)
	if err == nil {
		return stats, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	ds := cfg.TrainDS
	split, err := manifest.LoadSplit(ds.JSONWav, ds.JSONTextGrid, ds.JSONEnergy)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("no phone statistics, using fallbacks", "stats", statsPath)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("phone statistics: %w", err)
	}
	return statsFromSplit(split, cfg.SampleRate, ds.TextGridTier)
}

func statsFromSplit(split manifest.Split, sampleRate int, tierName string) (*features.PhoneStats, error) {
	stats := features.NewPhoneStats(sampleRate)
	for _, id := range split.IDs() {
		tg, err := textgrid.ReadFile(split.TextGrid[id])
		if err != nil {
			return nil, err
		}
		tier, err := tg.PhoneTier(tierName)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", split.TextGrid[id], err)
		}
		energy, err := features.ReadNPY(split.Energy[id])
		if err != nil {
			return nil, err
		}
		if err := stats.Add(tier, energy); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
	}
	return stats, nil
}
