//go:build integration

package onnx

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/example/go-diffar/internal/config"
	"github.com/example/go-diffar/internal/diffusion"
	"github.com/example/go-diffar/internal/testutil"
)

// TestEngineIntegration runs one reverse step through an exported denoiser
// named by DIFFAR_ONNX_MANIFEST.
func TestEngineIntegration(t *testing.T) {
	lib := testutil.RequireONNXRuntime(t)
	manifest := testutil.RequireEnvFile(t, "DIFFAR_ONNX_MANIFEST")

	e, err := NewEngine(config.InferenceConfig{ORTLibraryPath: lib, ONNXManifest: manifest},
		EngineOptions{TotalPhonemes: 72, MaxDuration: 8000})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	phones := []string{"sil", "HH", "AH0", "L", "OW1", "sil"}
	durations, err := e.Durations(context.Background(), phones)
	if err != nil {
		t.Fatalf("Durations: %v", err)
	}
	if _, err := e.Energies(context.Background(), phones, durations); err != nil {
		t.Fatalf("Energies: %v", err)
	}

	const n = 8000
	rng := rand.New(rand.NewPCG(1, 1))
	in := &diffusion.Input{
		Noisy:       diffusion.Gaussian(rng, [][]float32{make([]float32, n)}),
		Conditioner: [][]float32{make([]float32, n)},
		Phonemes:    [][]float32{make([]float32, n)},
		Energy:      [][]float32{make([]float32, n)},
		Steps:       []int{0},
	}
	out, err := e.PredictNoise(context.Background(), in)
	if err != nil {
		t.Fatalf("PredictNoise: %v", err)
	}
	if len(out) != 1 || len(out[0]) != n {
		t.Fatalf("output shape %dx%d", len(out), len(out[0]))
	}
}
