package onnx

import (
	"context"
	"fmt"

	"github.com/example/go-diffar/internal/diffusion"
)

// Denoiser graph tensor names.
const (
	InputAudio       = "audio"
	InputConditioner = "conditioner"
	InputStep        = "diffusion_step"
	InputPhonemes    = "phonemes"
	InputEnergy      = "energy"
	OutputNoise      = "noise"
)

// PredictNoise implements diffusion.Denoiser with the denoiser graph. Audio
// rows are fed as [B, 1, T]; phonemes and energy as [B, T].
func (e *Engine) PredictNoise(ctx context.Context, in *diffusion.Input) ([][]float32, error) {
	r, err := e.runner(GraphDenoiser)
	if err != nil {
		return nil, err
	}

	audio, err := Rows(in.Noisy, 1)
	if err != nil {
		return nil, fmt.Errorf("%s: audio: %w", GraphDenoiser, err)
	}
	cond, err := Rows(in.Conditioner, 1)
	if err != nil {
		return nil, fmt.Errorf("%s: conditioner: %w", GraphDenoiser, err)
	}
	phonemes, err := Rows(in.Phonemes)
	if err != nil {
		return nil, fmt.Errorf("%s: phonemes: %w", GraphDenoiser, err)
	}
	energy, err := Rows(in.Energy)
	if err != nil {
		return nil, fmt.Errorf("%s: energy: %w", GraphDenoiser, err)
	}
	steps := make([]int64, len(in.Steps))
	for i, s := range in.Steps {
		steps[i] = int64(s)
	}
	step, err := NewTensor(steps, []int64{int64(len(steps))})
	if err != nil {
		return nil, fmt.Errorf("%s: steps: %w", GraphDenoiser, err)
	}

	outputs, err := r.Run(ctx, map[string]*Tensor{
		InputAudio:       audio,
		InputConditioner: cond,
		InputStep:        step,
		InputPhonemes:    phonemes,
		InputEnergy:      energy,
	})
	if err != nil {
		return nil, err
	}
	noise, err := output(GraphDenoiser, outputs, OutputNoise)
	if err != nil {
		return nil, err
	}
	rows, err := noise.SplitRows()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", GraphDenoiser, err)
	}
	if len(rows) != in.Size() || (len(rows) > 0 && len(rows[0]) != len(in.Noisy[0])) {
		return nil, fmt.Errorf("%s: output shape %v does not match batch %dx%d", GraphDenoiser, noise.Shape(), in.Size(), len(in.Noisy[0]))
	}
	return rows, nil
}
