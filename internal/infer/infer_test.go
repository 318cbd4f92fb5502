package infer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/example/go-diffar/internal/audio"
	"github.com/example/go-diffar/internal/checkpoint"
	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/features"
	"github.com/example/go-diffar/internal/manifest"
	"github.com/example/go-diffar/internal/network"
	"github.com/example/go-diffar/internal/testutil"
	"github.com/example/go-diffar/internal/text"
	"github.com/example/go-diffar/internal/textgrid"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SampleRate = 1000
	cfg.ModelDir = filepath.Join(root, "model")
	cfg.NoiseSchedule = config.NoiseScheduleConfig{Start: 1e-4, Stop: 0.05, Num: 4}
	cfg.TrainDS.NSamples = 200
	cfg.TrainDS.MinDuration = 200
	cfg.TrainDS.HopLength = 100
	cfg.TrainDS.JSONWav = filepath.Join(root, "missing", "wav.json")
	cfg.TrainDS.JSONTextGrid = filepath.Join(root, "missing", "textgrid.json")
	cfg.TrainDS.JSONEnergy = filepath.Join(root, "missing", "energy.json")
	cfg.Inference.PhonemeDuration = 0.05
	cfg.Inference.Workers = 2
	return cfg
}

func saveModel(t *testing.T, cfg config.Config) {
	t.Helper()

	model, err := network.NewLinear(cfg.NoiseSchedule.Num)
	if err != nil {
		t.Fatal(err)
	}
	_, err = checkpoint.Dir{Path: cfg.ModelDir}.Save(checkpoint.State{
		Step:    7,
		RunID:   "run",
		Tensors: model.Tensors(checkpoint.ModelPrefix),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunWritesLayout(t *testing.T) {
	cfg := testConfig(t)
	saveModel(t, cfg)

	main := t.TempDir()
	testutil.WriteText(t, filepath.Join(main, TextDir, "a.txt"), "hello world")
	testutil.WriteText(t, filepath.Join(main, TextDir, "b.txt"), "Good morning, everyone.")
	testutil.WriteText(t, filepath.Join(main, TextDir, "notes.md"), "ignored")

	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	var seen []string
	d.Workers = 1
	d.OnFile = func(o Output) { seen = append(seen, o.Stem) }

	outputs, err := d.Run(context.Background(), main)
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 2 || outputs[0].Stem != "a" || outputs[1].Stem != "b" {
		t.Fatalf("outputs = %+v", outputs)
	}
	if !reflect.DeepEqual(seen, []string{"a", "b"}) {
		t.Fatalf("OnFile saw %v", seen)
	}

	for _, out := range outputs {
		for _, path := range []string{
			filepath.Join(main, EnergyDir, out.Stem+".npy"),
			filepath.Join(main, TextGridDir, out.Stem+".TextGrid"),
			filepath.Join(main, WAVDir, out.Stem+".wav"),
		} {
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("missing output: %v", err)
			}
		}

		tg, err := textgrid.ReadFile(out.TextGrid)
		if err != nil {
			t.Fatal(err)
		}
		tier, err := tg.PhoneTier(cfg.TrainDS.TextGridTier)
		if err != nil {
			t.Fatal(err)
		}
		var marks []string
		for _, iv := range tier.Intervals {
			marks = append(marks, iv.Mark)
			if got := iv.EndSample(cfg.SampleRate) - iv.StartSample(cfg.SampleRate); got != 50 {
				t.Fatalf("%s: phone %q lasts %d samples, want 50", out.Stem, iv.Mark, got)
			}
		}
		if !reflect.DeepEqual(marks, out.Phones) {
			t.Fatalf("%s: marks %v, phones %v", out.Stem, marks, out.Phones)
		}

		energy, err := features.ReadNPY(out.Energy)
		if err != nil {
			t.Fatal(err)
		}
		if len(energy) != len(out.Phones) {
			t.Fatalf("%s: %d energies for %d phones", out.Stem, len(energy), len(out.Phones))
		}
		for _, e := range energy {
			if e != DefaultEnergy {
				t.Fatalf("%s: energy %v, want fallback", out.Stem, e)
			}
		}

		testutil.AssertValidWAVFile(t, out.WAV, cfg.SampleRate)
		samples, err := audio.ReadWAVFile(out.WAV, cfg.SampleRate)
		if err != nil {
			t.Fatal(err)
		}
		if want := 50 * len(out.Phones); len(samples) != want || out.Samples != want {
			t.Fatalf("%s: %d samples (reported %d), want %d", out.Stem, len(samples), out.Samples, want)
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := testConfig(t)
	saveModel(t, cfg)

	read := func(workers int) []byte {
		main := t.TempDir()
		testutil.WriteText(t, filepath.Join(main, TextDir, "a.txt"), "one two three")
		testutil.WriteText(t, filepath.Join(main, TextDir, "b.txt"), "four")

		d, err := New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		defer d.Close()
		d.Workers = workers
		if _, err := d.Run(context.Background(), main); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(filepath.Join(main, WAVDir, "a.wav"))
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	if !reflect.DeepEqual(read(1), read(2)) {
		t.Fatal("output depends on worker count")
	}
}

func TestRunNamesFailingFile(t *testing.T) {
	cfg := testConfig(t)
	saveModel(t, cfg)

	main := t.TempDir()
	testutil.WriteText(t, filepath.Join(main, TextDir, "a.txt"), "fine")
	testutil.WriteText(t, filepath.Join(main, TextDir, "empty.txt"), "   ")

	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	_, err = d.Run(context.Background(), main)
	if !errors.Is(err, text.ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if want := filepath.Join(main, TextDir, "empty.txt"); !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q does not name %s", err, want)
	}
}

func TestRunNoInput(t *testing.T) {
	cfg := testConfig(t)
	saveModel(t, cfg)

	main := t.TempDir()
	if err := os.MkdirAll(filepath.Join(main, TextDir), 0o755); err != nil {
		t.Fatal(err)
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if _, err := d.Run(context.Background(), main); !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
}

func TestRunUppercaseExtension(t *testing.T) {
	cfg := testConfig(t)
	saveModel(t, cfg)

	main := t.TempDir()
	testutil.WriteText(t, filepath.Join(main, TextDir, "a.TXT"), "hello world")

	names, err := Inputs(main)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a.TXT"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("Inputs = %v, want %v", names, want)
	}

	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	outputs, err := d.Run(context.Background(), main)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outputs) != 1 || outputs[0].Stem != "a" {
		t.Fatalf("outputs = %+v, want one for stem a", outputs)
	}
	if _, err := os.Stat(filepath.Join(main, WAVDir, "a.wav")); err != nil {
		t.Fatalf("missing wav: %v", err)
	}
}

func TestNewWithoutCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error without a checkpoint")
	}
}

func TestPostProcess(t *testing.T) {
	const sr = 1000
	in := make([]float32, 100)
	for i := range in {
		in[i] = 0.25
	}

	out := PostProcess{Normalize: true, FadeMS: 10}.Apply(in, sr)
	if out[0] != 0 {
		t.Errorf("first sample = %v, want 0 after fade-in", out[0])
	}
	if out[len(out)-1] != 0 {
		t.Errorf("last sample = %v, want 0 after fade-out", out[len(out)-1])
	}
	if out[50] != 1 {
		t.Errorf("middle sample = %v, want 1 after normalize", out[50])
	}
	if in[0] != 0.25 {
		t.Error("input was modified")
	}

	blocked := PostProcess{DCBlock: true}.Apply(in, sr)
	if audio.RMS(blocked[80:]) >= audio.RMS(in[80:]) {
		t.Error("dc block did not reduce a constant offset")
	}

	if got := (PostProcess{}).Apply(in, sr); &got[0] != &in[0] {
		t.Error("zero PostProcess should return the input unchanged")
	}
}

func TestStatsPredictor(t *testing.T) {
	stats := features.NewPhoneStats(16000)
	stats.Phones["AH0"] = features.PhoneMean{Count: 2, Duration: 1600, Energy: 0.3}
	stats.Phones["sil"] = features.PhoneMean{Count: 1, Duration: 40000, Energy: 0.01}

	tests := []struct {
		name      string
		p         StatsPredictor
		durations []int
		energies  []float32
	}{
		{
			name:      "fallback",
			p:         StatsPredictor{SampleRate: 8000, FallbackDuration: 0.08, FallbackEnergy: 0.05},
			durations: []int{640, 640, 640},
			energies:  []float32{0.05, 0.05, 0.05},
		},
		{
			name:      "stats rescaled and capped",
			p:         StatsPredictor{Stats: stats, SampleRate: 8000, FallbackDuration: 0.08, FallbackEnergy: 0.05, MaxDuration: 8000},
			durations: []int{8000, 800, 640},
			energies:  []float32{0.01, 0.3, 0.05},
		},
		{
			name:      "minimum one sample",
			p:         StatsPredictor{SampleRate: 10, FallbackDuration: 0.01},
			durations: []int{1, 1, 1},
			energies:  []float32{0, 0, 0},
		},
	}

	phones := []string{"sil", "AH0", "spn"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.p.Durations(context.Background(), phones)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(d, tt.durations) {
				t.Fatalf("Durations = %v, want %v", d, tt.durations)
			}
			e, err := tt.p.Energies(context.Background(), phones, d)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(e, tt.energies) {
				t.Fatalf("Energies = %v, want %v", e, tt.energies)
			}
		})
	}
}

func TestLoadStatsFromManifests(t *testing.T) {
	root := t.TempDir()
	corpus := testutil.WriteCorpus(t, root, testutil.CorpusOptions{Count: 2, Samples: 1600, SampleRate: 1000, Tier: "phones"})

	cfg := testConfig(t)
	cfg.TrainDS.JSONWav, cfg.TrainDS.JSONTextGrid, cfg.TrainDS.JSONEnergy = prepareManifests(t, corpus, root)

	stats, err := LoadStats(cfg, filepath.Join(root, "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if stats == nil || len(stats.Marks()) == 0 {
		t.Fatalf("no stats computed: %+v", stats)
	}

	saved := filepath.Join(root, features.StatsFile)
	if err := stats.Save(saved); err != nil {
		t.Fatal(err)
	}
	again, err := LoadStats(cfg, saved)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(again.Marks(), stats.Marks()) {
		t.Fatalf("reloaded marks %v, want %v", again.Marks(), stats.Marks())
	}
}

func prepareManifests(t *testing.T, corpus testutil.Corpus, root string) (wav, tg, energy string) {
	t.Helper()

	out := filepath.Join(root, "egs")
	wavs, err := manifest.PrepareFiles(manifest.KindWAV, corpus.WAVDir, out)
	if err != nil {
		t.Fatal(err)
	}
	tgs, err := manifest.PrepareFiles(manifest.KindTextGrid, corpus.TextGridDir, out)
	if err != nil {
		t.Fatal(err)
	}
	opts := manifest.EnergyOptions{SampleRate: corpus.SampleRate, Tier: "phones"}
	if _, err := manifest.PrepareEnergy(context.Background(), wavs, tgs, out, opts); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(out, "wav.json"), filepath.Join(out, "textgrid.json"), filepath.Join(out, "energy.json")
}
