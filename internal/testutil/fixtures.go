package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-diffar/internal/audio"
	"github.com/example/go-diffar/internal/textgrid"
)

// CorpusOptions sizes a synthetic aligned corpus. Zero fields take the
// defaults noted per field.
type CorpusOptions struct {
	Count      int // utterances, default 3
	Samples    int // samples per utterance, default 16000
	SampleRate int // default 16000
	Tier       string
}

// Corpus is a synthetic dataset on disk: one wav and one TextGrid per id.
type Corpus struct {
	WAVDir      string
	TextGridDir string
	IDs         []string
	SampleRate  int
	Samples     int
}

// fixturePhones cycles through these marks when aligning fixture audio.
var fixturePhones = []string{"sil", "HH", "AH0", "L", "OW1", "sil"}

// WriteCorpus writes Count sine-tone utterances with a matching phone
// alignment under root/wavs and root/textgrids.
func WriteCorpus(tb testing.TB, root string, opts CorpusOptions) Corpus {
	tb.Helper()

	if opts.Count <= 0 {
		opts.Count = 3
	}
	if opts.Samples <= 0 {
		opts.Samples = 16000
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.DefaultSampleRate
	}
	if opts.Tier == "" {
		opts.Tier = "phones"
	}

	c := Corpus{
		WAVDir:      filepath.Join(root, "wavs"),
		TextGridDir: filepath.Join(root, "textgrids"),
		SampleRate:  opts.SampleRate,
		Samples:     opts.Samples,
	}
	for _, d := range []string{c.WAVDir, c.TextGridDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			tb.Fatalf("create fixture dir: %v", err)
		}
	}

	for i := 0; i < opts.Count; i++ {
		id := fmt.Sprintf("utt%03d", i)
		c.IDs = append(c.IDs, id)
		WriteSineWAV(tb, filepath.Join(c.WAVDir, id+".wav"), opts.SampleRate, opts.Samples, 220*float64(i+1), 0.3)
		WriteAlignment(tb, filepath.Join(c.TextGridDir, id+".TextGrid"), opts.Tier, opts.Samples, opts.SampleRate)
	}
	return c
}

// WriteSineWAV writes n samples of a sine tone to path.
func WriteSineWAV(tb testing.TB, path string, sampleRate, n int, freq, amp float64) []float32 {
	tb.Helper()

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	if err := audio.WriteWAVFile(path, samples, sampleRate); err != nil {
		tb.Fatalf("write fixture wav: %v", err)
	}
	return samples
}

// WriteAlignment writes a TextGrid whose tier evenly splits n samples over
// the fixture phones.
func WriteAlignment(tb testing.TB, path, tier string, n, sampleRate int) *textgrid.TextGrid {
	tb.Helper()

	durations := make([]int, len(fixturePhones))
	each := n / len(fixturePhones)
	for i := range durations {
		durations[i] = each
	}
	durations[len(durations)-1] += n - each*len(fixturePhones)

	tg, err := textgrid.FromPhones(tier, fixturePhones, durations, sampleRate)
	if err != nil {
		tb.Fatalf("build fixture alignment: %v", err)
	}
	if err := textgrid.WriteFile(path, tg); err != nil {
		tb.Fatalf("write fixture alignment: %v", err)
	}
	return tg
}

// WriteText writes content to path, creating parent directories.
func WriteText(tb testing.TB, path, content string) {
	tb.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}
