package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-diffar/internal/audio"
	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/features"
	"github.com/example/go-diffar/internal/manifest"
	"github.com/example/go-diffar/internal/textgrid"
)

// Options carries the job-wide settings a split needs.
type Options struct {
	SampleRate    int
	TotalPhonemes int
	Workers       int
}

// Example is one training item: a clean segment and its conditioning.
type Example struct {
	ID          string
	Start       int
	Clean       []float32
	Conditioned []float32
	Phones      []float32
	Energy      []float32
	Overlap     int
}

type item struct {
	id        string
	wav       string
	frames    int
	intervals []textgrid.Interval
	energy    []float32
}

// Dataset is an opened, duration-filtered split.
type Dataset struct {
	cfg   config.DatasetConfig
	opts  Options
	cache *Cache
	items []item
}

// Open reads the manifest triple of cfg, checks that the three manifests
// agree, loads every alignment and energy file and drops utterances outside
// [min_duration, max_duration].
func Open(ctx context.Context, cfg config.DatasetConfig, opts Options) (*Dataset, error) {
	split, err := manifest.LoadSplit(cfg.JSONWav, cfg.JSONTextGrid, cfg.JSONEnergy)
	if err != nil {
		return nil, err
	}
	cache, err := NewCache(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	d := &Dataset{cfg: cfg, opts: opts, cache: cache}

	ids := split.IDs()
	slog.Info("loading split", "manifest", cfg.JSONWav, "files", len(ids))

	loaded := make([]*item, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			it, err := d.load(id, split)
			if err != nil {
				return fmt.Errorf("load %s: %w", id, err)
			}
			loaded[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, it := range loaded {
		if it.frames < cfg.MinDuration || (cfg.MaxDuration > 0 && it.frames > cfg.MaxDuration) {
			continue
		}
		d.items = append(d.items, *it)
	}
	slog.Info("files after duration filtering", "manifest", cfg.JSONWav, "files", len(d.items))
	if len(d.items) == 0 {
		return nil, fmt.Errorf("split %s: no utterances within [%d, %d] samples", cfg.JSONWav, cfg.MinDuration, cfg.MaxDuration)
	}
	return d, nil
}

func (d *Dataset) load(id string, split manifest.Split) (*item, error) {
	it := &item{id: id, wav: split.WAV[id]}

	if d.cfg.CacheDir != "" {
		samples, err := d.cache.Waveform(id, it.wav, d.opts.SampleRate)
		if err != nil {
			return nil, err
		}
		it.frames = len(samples)
	} else {
		info, err := audio.ProbeFile(it.wav)
		if err != nil {
			return nil, err
		}
		if info.SampleRate != d.opts.SampleRate {
			return nil, fmt.Errorf("%w: %s is %d Hz, want %d", audio.ErrFormatMismatch, it.wav, info.SampleRate, d.opts.SampleRate)
		}
		it.frames = info.Frames
	}

	tg, err := textgrid.ReadFile(split.TextGrid[id])
	if err != nil {
		return nil, err
	}
	tier, err := tg.PhoneTier(d.cfg.TextGridTier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", split.TextGrid[id], err)
	}
	it.intervals = tier.Intervals

	it.energy, err = features.ReadNPY(split.Energy[id])
	if err != nil {
		return nil, err
	}
	if len(it.energy) != len(it.intervals) {
		return nil, fmt.Errorf("energy %s has %d values for %d phone intervals", split.Energy[id], len(it.energy), len(it.intervals))
	}
	return it, nil
}

// Len returns the number of usable utterances.
func (d *Dataset) Len() int { return len(d.items) }

// IDs returns the usable utterance ids in manifest order.
func (d *Dataset) IDs() []string {
	out := make([]string, len(d.items))
	for i, it := range d.items {
		out[i] = it.id
	}
	return out
}

// SegmentLength is the number of samples per example.
func (d *Dataset) SegmentLength() int { return d.cfg.NSamples }

// Example builds the idx-th item with a segment drawn from rng.
func (d *Dataset) Example(idx int, rng *rand.Rand) (Example, error) {
	if idx < 0 || idx >= len(d.items) {
		return Example{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.items))
	}
	it := d.items[idx]

	samples, err := d.cache.Waveform(it.id, it.wav, d.opts.SampleRate)
	if err != nil {
		return Example{}, err
	}
	start, end, err := SampleSegment(rng, len(samples), d.cfg.NSamples)
	if err != nil {
		return Example{}, fmt.Errorf("%s: %w", it.id, err)
	}
	cond, err := BuildConditioning(start, end, it.intervals, it.energy, d.opts.SampleRate, d.opts.TotalPhonemes)
	if err != nil {
		return Example{}, fmt.Errorf("%s: %w", it.id, err)
	}

	clean := samples[start:end:end]
	overlap := OverlapDuration(start, cond.Taken, d.cfg.NSamples, d.opts.SampleRate)
	return Example{
		ID:          it.id,
		Start:       start,
		Clean:       clean,
		Conditioned: MaskConditioned(clean, overlap),
		Phones:      cond.Phones,
		Energy:      cond.Energy,
		Overlap:     overlap,
	}, nil
}

// PhoneStats summarizes phone durations and energies over the split.
func (d *Dataset) PhoneStats() (*features.PhoneStats, error) {
	s := features.NewPhoneStats(d.opts.SampleRate)
	for _, it := range d.items {
		if err := s.Add(&textgrid.Tier{Intervals: it.intervals}, it.energy); err != nil {
			return nil, fmt.Errorf("phone stats %s: %w", it.id, err)
		}
	}
	return s, nil
}

