// Package infer turns a directory of text files into aligned phones,
// per-phone energies and generated audio.
//
// A main directory holds the input and output folders side by side:
//
//	<dir>/text_files/s.txt
//	<dir>/predicted_energy_files/s.npy
//	<dir>/predicted_TextGrid_files/s.TextGrid
//	<dir>/generated_wavs/s.wav
package infer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-diffar/internal/audio"
	"github.com/example/go-diffar/internal/diffusion"
	"github.com/example/go-diffar/internal/features"
	"github.com/example/go-diffar/internal/phoneme"
	"github.com/example/go-diffar/internal/textgrid"
)

const (
	TextDir     = "text_files"
	EnergyDir   = "predicted_energy_files"
	TextGridDir = "predicted_TextGrid_files"
	WAVDir      = "generated_wavs"

	textExt = ".txt"
)

// ErrNoInput is returned when the text folder holds no .txt files.
var ErrNoInput = errors.New("no input text files")

// Predictor estimates phone durations, in samples, and per-phone energies.
type Predictor interface {
	Durations(ctx context.Context, phones []string) ([]int, error)
	Energies(ctx context.Context, phones []string, durations []int) ([]float32, error)
}

// Driver runs the per-file pipeline. Generator and Predictor are shared by
// the workers and must be safe for concurrent use.
type Driver struct {
	Lexicon    *phoneme.Lexicon
	Predictor  Predictor
	Generator  *diffusion.Generator
	SampleRate int
	// Tier names the phone tier of written TextGrids.
	Tier    string
	Post    PostProcess
	Workers int
	Seed    int64

	// OnFile, when set, is called after each finished file.
	OnFile func(Output)

	closer func()
}

// Output lists the files written for one input.
type Output struct {
	Stem     string
	Phones   []string
	Energy   string
	TextGrid string
	WAV      string
	Samples  int
	Elapsed  time.Duration
}

// Inputs returns the file names of <mainDir>/text_files/*.txt in sorted
// order. The extension matches case-insensitively.
func Inputs(mainDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(mainDir, TextDir))
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), textExt) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInput, filepath.Join(mainDir, TextDir))
	}
	sort.Strings(names)
	return names, nil
}

// Run processes every input of mainDir. The first failing file cancels the
// rest and its error names the file.
func (d *Driver) Run(ctx context.Context, mainDir string) ([]Output, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	names, err := Inputs(mainDir)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{EnergyDir, TextGridDir, WAVDir} {
		if err := os.MkdirAll(filepath.Join(mainDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	outputs := make([]Output, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.Workers, 1))
	for i, name := range names {
		g.Go(func() error {
			out, err := d.Process(ctx, mainDir, name)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Join(mainDir, TextDir, name), err)
			}
			outputs[i] = out
			if d.OnFile != nil {
				d.OnFile(out)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// Process runs the pipeline for one input file name under text_files.
// Outputs are named after its stem. The output folders must exist.
func (d *Driver) Process(ctx context.Context, mainDir, name string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	start := time.Now()

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	raw, err := os.ReadFile(filepath.Join(mainDir, TextDir, name))
	if err != nil {
		return Output{}, err
	}
	phones, err := d.Lexicon.Phonemize(string(raw))
	if err != nil {
		return Output{}, fmt.Errorf("phonemize: %w", err)
	}
	durations, err := d.Predictor.Durations(ctx, phones)
	if err != nil {
		return Output{}, fmt.Errorf("predict durations: %w", err)
	}
	tg, err := textgrid.FromPhones(d.Tier, phones, durations, d.SampleRate)
	if err != nil {
		return Output{}, fmt.Errorf("align: %w", err)
	}
	energies, err := d.Predictor.Energies(ctx, phones, durations)
	if err != nil {
		return Output{}, fmt.Errorf("predict energy: %w", err)
	}

	out := Output{
		Stem:     stem,
		Phones:   phones,
		Energy:   filepath.Join(mainDir, EnergyDir, stem+".npy"),
		TextGrid: filepath.Join(mainDir, TextGridDir, stem+".TextGrid"),
		WAV:      filepath.Join(mainDir, WAVDir, stem+".wav"),
	}
	if err := features.WriteNPY(out.Energy, energies); err != nil {
		return Output{}, err
	}
	if err := textgrid.WriteFile(out.TextGrid, tg); err != nil {
		return Output{}, err
	}

	samples, err := d.Generator.Generate(ctx, d.rng(stem), tg.Tiers[0].Intervals, energies)
	if err != nil {
		return Output{}, fmt.Errorf("generate: %w", err)
	}
	samples = d.Post.Apply(samples, d.SampleRate)
	if err := audio.WriteWAVFile(out.WAV, samples, d.SampleRate); err != nil {
		return Output{}, err
	}
	out.Samples = len(samples)
	out.Elapsed = time.Since(start)

	slog.Info("synthesized",
		"file", stem,
		"phones", len(phones),
		"samples", len(samples),
		"elapsed", out.Elapsed.Round(time.Millisecond),
	)
	return out, nil
}

// PostProcess is applied to generated audio before it is written. Steps run
// in field order.
type PostProcess struct {
	DCBlock   bool
	Normalize bool
	// FadeMS ramps both ends over this many milliseconds.
	FadeMS float64
}

func (p PostProcess) Apply(samples []float32, sampleRate int) []float32 {
	if p.DCBlock {
		samples = audio.DCBlock(samples, sampleRate)
	}
	if p.Normalize {
		samples = audio.PeakNormalize(samples)
	}
	if p.FadeMS > 0 {
		samples = audio.FadeOut(audio.FadeIn(samples, sampleRate, p.FadeMS), sampleRate, p.FadeMS)
	}
	return audio.Clip(samples)
}

// Close releases backend resources.
func (d *Driver) Close() {
	if d.closer != nil {
		d.closer()
		d.closer = nil
	}
}

// rng seeds one stream per stem so results do not depend on scheduling.
func (d *Driver) rng(stem string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(stem))
	return rand.New(rand.NewPCG(uint64(d.Seed), h.Sum64()))
}

func (d *Driver) validate() error {
	switch {
	case d.Lexicon == nil:
		return errors.New("infer: no lexicon")
	case d.Predictor == nil:
		return errors.New("infer: no predictor")
	case d.Generator == nil:
		return errors.New("infer: no generator")
	case d.SampleRate <= 0:
		return fmt.Errorf("infer: sample rate must be positive, got %d", d.SampleRate)
	}
	return nil
}
