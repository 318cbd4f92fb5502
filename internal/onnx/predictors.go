package onnx

import (
	"context"
	"fmt"
	"math"

	"github.com/example/go-diffar/internal/phoneme"
)

// Predictor graph tensor names.
const (
	InputDurations  = "durations"
	OutputDurations = "durations"
	OutputEnergy    = "energy"
)

func (e *Engine) phoneValues(phones []string) (*Tensor, error) {
	values := make([]float32, len(phones))
	for i, p := range phones {
		v, err := phoneme.Value(p, e.opts.TotalPhonemes)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return NewTensor(values, []int64{1, int64(len(values))})
}

func (e *Engine) predict(ctx context.Context, graph, out string, inputs map[string]*Tensor, n int) ([]float32, error) {
	r, err := e.runner(graph)
	if err != nil {
		return nil, err
	}
	outputs, err := r.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}
	t, err := output(graph, outputs, out)
	if err != nil {
		return nil, err
	}
	values, err := t.Float32s()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", graph, err)
	}
	if len(values) != n {
		return nil, fmt.Errorf("%s: %d values for %d phones", graph, len(values), n)
	}
	return values, nil
}

// Durations predicts each phone's length in samples, clamped to
// [1, MaxDuration].
func (e *Engine) Durations(ctx context.Context, phones []string) ([]int, error) {
	if len(phones) == 0 {
		return nil, nil
	}
	in, err := e.phoneValues(phones)
	if err != nil {
		return nil, err
	}
	raw, err := e.predict(ctx, GraphDuration, OutputDurations, map[string]*Tensor{InputPhonemes: in}, len(phones))
	if err != nil {
		return nil, err
	}

	out := make([]int, len(raw))
	for i, v := range raw {
		d := int(math.RoundToEven(float64(v)))
		if e.opts.MaxDuration > 0 {
			d = min(d, e.opts.MaxDuration)
		}
		out[i] = max(d, 1)
	}
	return out, nil
}

// Energies predicts one RMS energy per phone given its duration.
func (e *Engine) Energies(ctx context.Context, phones []string, durations []int) ([]float32, error) {
	if len(phones) != len(durations) {
		return nil, fmt.Errorf("%d durations for %d phones", len(durations), len(phones))
	}
	if len(phones) == 0 {
		return nil, nil
	}
	in, err := e.phoneValues(phones)
	if err != nil {
		return nil, err
	}
	d := make([]float32, len(durations))
	for i, v := range durations {
		d[i] = float32(v)
	}
	dur, err := NewTensor(d, []int64{1, int64(len(d))})
	if err != nil {
		return nil, err
	}

	energy, err := e.predict(ctx, GraphEnergy, OutputEnergy, map[string]*Tensor{InputPhonemes: in, InputDurations: dur}, len(phones))
	if err != nil {
		return nil, err
	}
	for i, v := range energy {
		energy[i] = max(v, 0)
	}
	return energy, nil
}
