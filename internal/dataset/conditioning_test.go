package dataset

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/example/go-diffar/internal/phoneme"
	"github.com/example/go-diffar/internal/textgrid"
)

func TestSampleSegment(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 100 {
		start, end, err := SampleSegment(rng, 100, 30)
		if err != nil {
			t.Fatal(err)
		}
		if start < 0 || start > 70 || end-start != 30 {
			t.Fatalf("bad window [%d, %d)", start, end)
		}
	}

	start, end, err := SampleSegment(rng, 30, 30)
	if err != nil || start != 0 || end != 30 {
		t.Fatalf("exact fit = [%d, %d) %v, want [0, 30)", start, end, err)
	}

	if _, _, err := SampleSegment(rng, 10, 30); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestBuildConditioning(t *testing.T) {
	intervals := []textgrid.Interval{
		{Start: 0, End: 0.1, Mark: "sil"},
		{Start: 0.1, End: 0.2, Mark: "B"},
		{Start: 0.25, End: 0.3, Mark: "AA1"},
	}
	energies := []float32{0.1, 0.2, 0.3}

	c, err := BuildConditioning(1000, 4400, intervals, energies, 16000, 72)
	if err != nil {
		t.Fatalf("BuildConditioning: %v", err)
	}
	if len(c.Phones) != 3400 || len(c.Energy) != 3400 {
		t.Fatalf("length = %d/%d, want 3400", len(c.Phones), len(c.Energy))
	}
	if len(c.Taken) != 3 {
		t.Fatalf("took %d intervals, want 3", len(c.Taken))
	}

	value := func(mark string) float32 {
		v, err := phoneme.Value(mark, 72)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}
	checks := []struct {
		at     int
		phone  float32
		energy float32
	}{
		{0, value("sil"), 0.1},
		{599, value("sil"), 0.1},
		{600, value("B"), 0.2},
		{2199, value("B"), 0.2},
		{2200, value(""), 0},
		{2999, value(""), 0},
		{3000, value("AA1"), 0.3},
		{3399, value("AA1"), 0.3},
	}
	for _, ck := range checks {
		if c.Phones[ck.at] != ck.phone || c.Energy[ck.at] != ck.energy {
			t.Errorf("sample %d = (%v, %v), want (%v, %v)", ck.at, c.Phones[ck.at], c.Energy[ck.at], ck.phone, ck.energy)
		}
	}
}

func TestBuildConditioningErrors(t *testing.T) {
	iv := []textgrid.Interval{{Start: 0, End: 1, Mark: "XX"}}
	if _, err := BuildConditioning(0, 10, iv, []float32{0}, 16000, 72); !errors.Is(err, phoneme.ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
	if _, err := BuildConditioning(0, 10, iv, nil, 16000, 72); err == nil {
		t.Fatal("expected energy length error")
	}
	if _, err := BuildConditioning(5, 5, nil, nil, 16000, 72); err == nil {
		t.Fatal("expected empty segment error")
	}
}

func ends(sec ...float64) []textgrid.Interval {
	out := make([]textgrid.Interval, len(sec))
	prev := 0.0
	for i, e := range sec {
		out[i] = textgrid.Interval{Start: prev, End: e, Mark: "AA1"}
		prev = e
	}
	return out
}

func TestOverlapDuration(t *testing.T) {
	tests := []struct {
		name  string
		start int
		taken []textgrid.Interval
		want  int
	}{
		{"first third of three", 0, ends(0.1, 0.2, 0.3), 1600},
		{"first third of six", 0, ends(0.1, 0.2, 0.3, 0.4, 0.45, 0.5), 3200},
		{"capped at half window", 0, ends(0.4, 0.45, 0.5), 4000},
		{"steps back one phone", 0, ends(0.1, 0.2, 0.3, 0.32, 0.34, 0.36, 0.38), 3200},
		{"steps back until exhausted", 0, ends(0.3, 0.35, 0.4, 0.42, 0.44, 0.46, 0.48), 4000},
		{"offset start", 800, ends(0.1, 0.2, 0.3), 800},
		{"never negative", 1000, ends(0.05), 0},
		{"nothing taken", 0, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OverlapDuration(tt.start, tt.taken, 8000, 16000); got != tt.want {
				t.Fatalf("OverlapDuration = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaskConditioned(t *testing.T) {
	seg := []float32{1, 2, 3, 4}
	got := MaskConditioned(seg, 2)
	want := []float32{1, 2, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MaskConditioned = %v, want %v", got, want)
		}
	}
	if seg[3] != 4 {
		t.Fatal("input modified")
	}
	if got := MaskConditioned(seg, 10); got[3] != 4 {
		t.Fatalf("overlap past end should keep everything, got %v", got)
	}
}
