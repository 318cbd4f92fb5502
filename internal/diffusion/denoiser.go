package diffusion

import "context"

// Input is one batch handed to a denoiser. All rows share a length.
type Input struct {
	Noisy       [][]float32
	Conditioner [][]float32
	Phonemes    [][]float32
	Energy      [][]float32
	Steps       []int
}

// Size is the number of rows in the batch.
func (in *Input) Size() int { return len(in.Noisy) }

// Denoiser predicts the noise that was added to in.Noisy.
type Denoiser interface {
	PredictNoise(ctx context.Context, in *Input) ([][]float32, error)
}

// DenoiserFunc adapts a function to Denoiser.
type DenoiserFunc func(ctx context.Context, in *Input) ([][]float32, error)

func (f DenoiserFunc) PredictNoise(ctx context.Context, in *Input) ([][]float32, error) {
	return f(ctx, in)
}
