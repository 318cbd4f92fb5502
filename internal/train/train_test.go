package train

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-diffar/internal/checkpoint"
	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/dataset"
	"github.com/example/go-diffar/internal/manifest"
	"github.com/example/go-diffar/internal/testutil"
)

func prepareSplit(t *testing.T, count int) config.DatasetConfig {
	t.Helper()

	root := t.TempDir()
	corpus := testutil.WriteCorpus(t, root, testutil.CorpusOptions{Count: count, Samples: 12000})
	out := filepath.Join(root, "egs")
	wavs, err := manifest.PrepareFiles(manifest.KindWAV, corpus.WAVDir, out)
	if err != nil {
		t.Fatal(err)
	}
	tgs, err := manifest.PrepareFiles(manifest.KindTextGrid, corpus.TextGridDir, out)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := manifest.PrepareEnergy(context.Background(), wavs, tgs, out, manifest.EnergyOptions{SampleRate: 16000, Tier: "phones"}); err != nil {
		t.Fatal(err)
	}

	return config.DatasetConfig{
		JSONWav:      filepath.Join(out, "wav.json"),
		JSONTextGrid: filepath.Join(out, "textgrid.json"),
		JSONEnergy:   filepath.Join(out, "energy.json"),
		NSamples:     4000,
		HopLength:    2000,
		MinDuration:  4000,
		TextGridTier: "phones",
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ModelDir = t.TempDir()
	cfg.TrainDS = prepareSplit(t, 4)
	cfg.BatchSizeTrain = 2
	cfg.BatchSizeValidation = 2
	cfg.NumWorkers = 2
	cfg.NoiseSchedule = config.NoiseScheduleConfig{Start: 1e-4, Stop: 0.05, Num: 10}
	return cfg
}

func run(t *testing.T, cfg config.Config) *Learner {
	t.Helper()
	data, err := OpenDatasets(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenDatasets: %v", err)
	}
	l, err := New(cfg, data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return l
}

func readMetrics(t *testing.T, dir string) []Scalar {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, MetricsFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []Scalar
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var s Scalar
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			t.Fatalf("bad metrics line %q: %v", sc.Text(), err)
		}
		out = append(out, s)
	}
	return out
}

func TestMaxStepsHaltsAtCap(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSteps = 3
	cfg.SummaryEveryNEpochs = 5

	l := run(t, cfg)
	if l.Step() != 3 {
		t.Fatalf("Step = %d, want 3", l.Step())
	}

	steps, err := checkpoint.Dir{Path: cfg.ModelDir}.Steps()
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0] != 3 || steps[1] != 2 {
		t.Fatalf("checkpoints = %v, want [3 2]", steps)
	}
	if _, err := os.Stat(filepath.Join(cfg.ModelDir, "min", checkpoint.FileName(2))); err != nil {
		t.Fatalf("min checkpoint: %v", err)
	}
	for _, name := range []string{ConfigSnapshot, PhoneStatsFile} {
		if _, err := os.Stat(filepath.Join(cfg.ModelDir, name)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}

	metrics := readMetrics(t, cfg.ModelDir)
	tags := map[string]int{}
	for _, m := range metrics {
		tags[m.Tag]++
		if math.IsNaN(m.Value) {
			t.Fatalf("metric %s is NaN", m.Tag)
		}
	}
	if tags["train/loss"] != 2 || tags["train/grad_norm"] != 2 {
		t.Fatalf("metric tags = %v", tags)
	}

	// Resuming continues from the checkpoint under the same run id.
	cfg.MaxSteps = 5
	resumed := run(t, cfg)
	if resumed.Step() != 5 {
		t.Fatalf("resumed Step = %d, want 5", resumed.Step())
	}
	if resumed.RunID() != l.RunID() {
		t.Fatalf("run id changed from %s to %s", l.RunID(), resumed.RunID())
	}
	cp, err := checkpoint.Dir{Path: cfg.ModelDir}.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cp.Step != 5 || cp.Config == "" {
		t.Fatalf("latest checkpoint step=%d config=%q", cp.Step, cp.Config)
	}
}

func TestValidationAndLossVariants(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSteps = 4
	valid := cfg.TrainDS
	cfg.ValidDS = &valid
	cfg.SpecLossCoeff = 0.5
	cfg.NMels = 16
	cfg.MaskLossUsingOverlap = 0
	cfg.FP16 = true

	run(t, cfg)

	tags := map[string]bool{}
	for _, m := range readMetrics(t, cfg.ModelDir) {
		tags[m.Tag] = true
	}
	for _, want := range []string{"train/loss", "train/loss_spec", "train/loss_denoise", "valid/loss", "valid/loss_spec"} {
		if !tags[want] {
			t.Errorf("missing metric %s (have %v)", want, tags)
		}
	}
	if _, err := (checkpoint.Dir{Path: filepath.Join(cfg.ModelDir, "min_val")}).Load(); err != nil {
		t.Fatalf("min_val checkpoint: %v", err)
	}

	cp, err := checkpoint.Dir{Path: cfg.ModelDir}.Load()
	if err != nil {
		t.Fatal(err)
	}
	s, err := cp.Store(checkpoint.ModelPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if dt, _ := s.DType("bias"); dt != "F16" {
		t.Fatalf("fp16 checkpoint stores weights as %q", dt)
	}
}

func TestCancelSavesCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	data, err := OpenDatasets(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	l, err := New(cfg, data)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.OnStep = func(step int) {
		if step == 1 {
			cancel()
		}
	}

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	cp, err := checkpoint.Dir{Path: cfg.ModelDir}.Load()
	if err != nil {
		t.Fatalf("no checkpoint after cancel: %v", err)
	}
	if cp.Step < 1 {
		t.Fatalf("checkpoint step = %d", cp.Step)
	}
}

func TestNaNLoss(t *testing.T) {
	cfg := testConfig(t)
	l, err := New(cfg, Datasets{})
	if err != nil {
		t.Fatal(err)
	}

	row := []float32{float32(math.NaN()), 0, 0, 0}
	b := &dataset.Batch{
		IDs:         []string{"x"},
		Clean:       [][]float32{row},
		Conditioned: [][]float32{make([]float32, 4)},
		Phones:      [][]float32{make([]float32, 4)},
		Energy:      [][]float32{make([]float32, 4)},
		Overlap:     []int{0},
	}
	if _, err := l.TrainStep(context.Background(), b); !errors.Is(err, ErrNaNLoss) {
		t.Fatalf("err = %v, want ErrNaNLoss", err)
	}
}

func TestTestMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Test = true

	// Without a test split the run is skipped.
	run(t, cfg)

	ts := cfg.TrainDS
	cfg.TestDS = &ts
	l := run(t, cfg)
	if l.Step() != 0 {
		t.Fatalf("test mode took %d steps", l.Step())
	}
	if _, err := os.Stat(filepath.Join(cfg.ModelDir, MetricsFile)); !os.IsNotExist(err) {
		t.Fatalf("test mode wrote metrics: %v", err)
	}
}
