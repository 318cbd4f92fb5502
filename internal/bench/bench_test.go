package bench_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/example/go-diffar/internal/bench"
)

func runs() []bench.Run {
	return []bench.Run{
		bench.NewRun("a", 100*time.Millisecond, 16000, 16000),
		bench.NewRun("longer_name", 200*time.Millisecond, 8000, 16000),
		bench.NewRun("c", 300*time.Millisecond, 32000, 16000),
	}
}

func TestStats_MinMaxMean(t *testing.T) {
	s := bench.ComputeStats(runs())

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}

	// RTFs 0.1, 0.4, 0.15
	if s.MeanRTF < 0.2166 || s.MeanRTF > 0.2167 {
		t.Errorf("want mean RTF≈0.2167, got %.4f", s.MeanRTF)
	}
}

func TestStats_Empty(t *testing.T) {
	if s := bench.ComputeStats(nil); s != (bench.Stats{}) {
		t.Errorf("want zero stats, got %+v", s)
	}
}

func TestNewRun(t *testing.T) {
	r := bench.NewRun("x", 500*time.Millisecond, 16000, 16000)
	if r.Audio != time.Second {
		t.Errorf("want 1s of audio, got %v", r.Audio)
	}
	if r.RTF < 0.499 || r.RTF > 0.501 {
		t.Errorf("want RTF≈0.5, got %.4f", r.RTF)
	}
}

func TestRTF_ZeroAudio(t *testing.T) {
	if rtf := bench.CalcRTF(time.Second, 0); rtf != 0 {
		t.Errorf("want 0 for zero audio duration, got %v", rtf)
	}
	if d := bench.AudioDuration(100, 0); d != 0 {
		t.Errorf("want 0 for zero sample rate, got %v", d)
	}
}

func TestCheckRTFThreshold(t *testing.T) {
	tests := []struct {
		name      string
		rtf       float64
		threshold float64
		wantErr   bool
	}{
		{"disabled", 5, 0, false},
		{"under", 0.5, 1, false},
		{"equal", 1, 1, false},
		{"over", 1.5, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bench.CheckRTFThreshold(tt.rtf, tt.threshold)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckRTFThreshold(%v, %v) = %v, wantErr=%v", tt.rtf, tt.threshold, err, tt.wantErr)
			}
		})
	}
}

func TestFormatTable(t *testing.T) {
	rs := runs()
	var buf bytes.Buffer
	bench.FormatTable(rs, bench.ComputeStats(rs), &buf)

	out := buf.String()
	for _, want := range []string{"File", "longer_name", "(min)", "(mean)", "(max)"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	rs := runs()
	var buf bytes.Buffer
	if err := bench.FormatJSON(rs, bench.ComputeStats(rs), &buf); err != nil {
		t.Fatal(err)
	}

	var report struct {
		Runs []struct {
			Name       string  `json:"name"`
			DurationMS float64 `json:"duration_ms"`
		} `json:"runs"`
		Stats struct {
			MeanMS float64 `json:"mean_ms"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(report.Runs) != 3 || report.Runs[1].Name != "longer_name" || report.Runs[2].DurationMS != 300 {
		t.Errorf("unexpected runs: %+v", report.Runs)
	}
	if report.Stats.MeanMS != 200 {
		t.Errorf("want mean_ms=200, got %v", report.Stats.MeanMS)
	}
}
