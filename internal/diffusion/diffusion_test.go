package diffusion

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/example/go-diffar/internal/textgrid"
)

func TestNewSchedule(t *testing.T) {
	s, err := NewSchedule(1e-4, 0.05, 50)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 50 {
		t.Fatalf("Len = %d", s.Len())
	}
	if s.Beta[0] != 1e-4 || math.Abs(s.Beta[49]-0.05) > 1e-12 {
		t.Fatalf("beta endpoints = %g, %g", s.Beta[0], s.Beta[49])
	}
	for i := 1; i < s.Len(); i++ {
		if s.AlphaCum[i] >= s.AlphaCum[i-1] {
			t.Fatalf("alpha_cum not decreasing at %d", i)
		}
	}

	single, err := NewSchedule(0.2, 0.3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if single.Beta[0] != 0.2 || math.Abs(single.AlphaCum[0]-0.8) > 1e-12 {
		t.Fatalf("single step schedule = %+v", single)
	}

	for _, bad := range [][3]float64{{0, 0.1, 5}, {0.2, 0.1, 5}, {0.1, 1, 5}, {0.1, 0.2, 0}} {
		if _, err := NewSchedule(bad[0], bad[1], int(bad[2])); err == nil {
			t.Errorf("NewSchedule(%v) accepted", bad)
		}
	}
}

func TestNoise(t *testing.T) {
	s, _ := NewSchedule(0.19, 0.36, 2)
	clean := [][]float32{{1, -1}, {0.5, 0}}
	eps := [][]float32{{0, 0}, {1, 1}}

	got, err := s.Noise(clean, eps, []int{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	// abar_0 = 0.81, abar_1 = 0.81*0.64
	if math.Abs(float64(got[0][0])-0.9) > 1e-6 || math.Abs(float64(got[0][1])+0.9) > 1e-6 {
		t.Fatalf("row 0 = %v", got[0])
	}
	ab := 0.81 * 0.64
	want := 0.5*math.Sqrt(ab) + math.Sqrt(1-ab)
	if math.Abs(float64(got[1][0])-want) > 1e-6 {
		t.Fatalf("row 1 = %v, want %v", got[1][0], want)
	}

	if _, err := s.Noise(clean, eps, []int{0, 2}); err == nil {
		t.Fatal("expected out of range step error")
	}
}

func TestL1(t *testing.T) {
	pred := [][]float32{{1, 0}, {-1, 2}}
	target := [][]float32{{0, 0}, {1, 2}}
	loss, grad, err := L1(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loss-0.75) > 1e-9 {
		t.Fatalf("loss = %v, want 0.75", loss)
	}
	if grad[0][0] != 0.25 || grad[0][1] != 0 || grad[1][0] != -0.25 {
		t.Fatalf("grad = %v", grad)
	}

	if _, _, err := L1(pred, target[:1]); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestMaskedL1(t *testing.T) {
	pred := [][]float32{
		{9, 9, 1, 1},
		{1, 1, 1, 1},
	}
	target := make([][]float32, 2)
	target[0] = make([]float32, 4)
	target[1] = make([]float32, 4)

	tests := []struct {
		name    string
		overlap []int
		margin  int
		want    float64
	}{
		// row0: skip 2, 2/(4-2)/2 = 0.5; row1: skip 0, 4/4/2 = 0.5
		{name: "no margin", overlap: []int{2, 0}, margin: 0, want: 1},
		// row0: skip 1, (9+1+1)/(4-2+1)/2
		{name: "margin", overlap: []int{2, 0}, margin: 1, want: 11.0/3/2 + 4.0/5/2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loss, grad, err := MaskedL1(pred, target, tt.overlap, tt.margin, 2)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(loss-tt.want) > 1e-6 {
				t.Fatalf("loss = %v, want %v", loss, tt.want)
			}
			skip := max(0, tt.overlap[0]-tt.margin)
			for j := range skip {
				if grad[0][j] != 0 {
					t.Fatalf("masked sample %d has gradient %v", j, grad[0][j])
				}
			}
		})
	}

	if _, _, err := MaskedL1(pred, target, []int{0}, 0, 2); err == nil {
		t.Fatal("expected overlap count error")
	}
}

// oracle predicts the noise exactly when the clean signal is known.
func oracle(s *Schedule, clean []float32) Denoiser {
	return DenoiserFunc(func(_ context.Context, in *Input) ([][]float32, error) {
		out := make([][]float32, in.Size())
		for i, row := range in.Noisy {
			ab := s.AlphaCum[in.Steps[i]]
			out[i] = make([]float32, len(row))
			for j, x := range row {
				out[i][j] = float32((float64(x) - math.Sqrt(ab)*float64(clean[j])) / math.Sqrt(1-ab))
			}
		}
		return out, nil
	})
}

func TestSamplerRecoversCleanSignal(t *testing.T) {
	s, _ := NewSchedule(1e-4, 0.05, 50)
	clean := []float32{0.5, -0.25, 0, 0.75}
	sampler := &Sampler{Schedule: s, Denoiser: oracle(s, clean)}

	got, err := sampler.Sample(context.Background(), rand.New(rand.NewPCG(1, 2)), Input{
		Conditioner: [][]float32{make([]float32, 4)},
	})
	if err != nil {
		t.Fatal(err)
	}
	for j, want := range clean {
		if math.Abs(float64(got[0][j]-want)) > 1e-3 {
			t.Fatalf("sample[%d] = %v, want %v", j, got[0][j], want)
		}
	}
}

func TestSamplerClampsAndPropagatesErrors(t *testing.T) {
	s, _ := NewSchedule(0.1, 0.2, 3)
	huge := DenoiserFunc(func(_ context.Context, in *Input) ([][]float32, error) {
		out := make([][]float32, in.Size())
		for i := range out {
			out[i] = []float32{-100, 100}
		}
		return out, nil
	})
	got, err := (&Sampler{Schedule: s, Denoiser: huge}).Sample(context.Background(), rand.New(rand.NewPCG(3, 4)), Input{
		Conditioner: [][]float32{{0, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0] != 1 || got[0][1] != -1 {
		t.Fatalf("clamped = %v", got[0])
	}

	boom := errors.New("boom")
	failing := DenoiserFunc(func(context.Context, *Input) ([][]float32, error) { return nil, boom })
	_, err = (&Sampler{Schedule: s, Denoiser: failing}).Sample(context.Background(), rand.New(rand.NewPCG(3, 4)), Input{
		Conditioner: [][]float32{{0}},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestGenerator(t *testing.T) {
	const sr = 100
	s, _ := NewSchedule(0.1, 0.2, 2)

	var frames []*Input
	rec := DenoiserFunc(func(_ context.Context, in *Input) ([][]float32, error) {
		if in.Steps[0] == 1 {
			cp := *in
			frames = append(frames, &cp)
		}
		return zerosLike(in.Noisy), nil
	})

	intervals := []textgrid.Interval{
		{Start: 0, End: 0.1, Mark: "sil"},
		{Start: 0.1, End: 0.2, Mark: "AH0"},
		{Start: 0.2, End: 0.3, Mark: "B"},
		{Start: 0.3, End: 0.35, Mark: "sil"},
	}
	g := &Generator{
		Sampler:       &Sampler{Schedule: s, Denoiser: rec},
		Window:        20,
		Hop:           10,
		SampleRate:    sr,
		TotalPhonemes: 72,
	}

	var progress []int
	g.OnFrame = func(done, total int) { progress = append(progress, done) }

	out, err := g.Generate(context.Background(), rand.New(rand.NewPCG(5, 6)), intervals, []float32{0, 0.1, 0.2, 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 35 {
		t.Fatalf("len = %d, want 35", len(out))
	}
	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4", len(frames))
	}
	if progress[len(progress)-1] != 35 {
		t.Fatalf("progress = %v", progress)
	}
	for i, f := range frames {
		if len(f.Phonemes[0]) != 20 || len(f.Conditioner[0]) != 20 {
			t.Fatalf("frame %d has wrong width", i)
		}
	}
	// The first frame has no audio conditioning.
	for _, v := range frames[0].Conditioner[0] {
		if v != 0 {
			t.Fatal("first frame conditioner is not silent")
		}
	}

	if _, err := g.Generate(context.Background(), rand.New(rand.NewPCG(5, 6)), nil, nil); err == nil {
		t.Fatal("expected error for empty alignment")
	}
	bad := *g
	bad.Hop = 15
	if _, err := bad.Generate(context.Background(), rand.New(rand.NewPCG(5, 6)), intervals, []float32{0, 0, 0, 0}); err == nil {
		t.Fatal("expected hop validation error")
	}
}
