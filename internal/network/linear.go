// Package network is the trainable baseline denoiser: per diffusion step it
// predicts the noise as an affine function of the noisy sample and the three
// conditioning signals at the same position.
package network

import (
	"context"
	"fmt"

	"github.com/example/go-diffar/internal/diffusion"
	"github.com/example/go-diffar/internal/safetensors"
)

// Parameter names, each a vector with one entry per diffusion step.
const (
	ParamNoisy       = "noisy"
	ParamConditioner = "conditioner"
	ParamPhoneme     = "phoneme"
	ParamEnergy      = "energy"
	ParamBias        = "bias"
)

var paramNames = []string{ParamNoisy, ParamConditioner, ParamPhoneme, ParamEnergy, ParamBias}

// Param is a named weight vector and its accumulated gradient.
type Param struct {
	Name  string
	Value []float32
	Grad  []float64
}

// Linear predicts eps[t] = w_noisy[t]*x + w_cond[t]*c + w_phone[t]*p +
// w_energy[t]*e + bias[t] sample by sample.
type Linear struct {
	steps  int
	params []*Param
	byName map[string]*Param
}

// NewLinear returns a model for the given number of diffusion steps. The
// noisy-sample weight starts at one, everything else at zero.
func NewLinear(steps int) (*Linear, error) {
	if steps < 1 {
		return nil, fmt.Errorf("network: steps must be positive, got %d", steps)
	}
	l := &Linear{steps: steps, byName: make(map[string]*Param, len(paramNames))}
	for _, name := range paramNames {
		p := &Param{Name: name, Value: make([]float32, steps), Grad: make([]float64, steps)}
		l.params = append(l.params, p)
		l.byName[name] = p
	}
	for t := range steps {
		l.byName[ParamNoisy].Value[t] = 1
	}
	return l, nil
}

// Steps is the number of diffusion steps the model was built for.
func (l *Linear) Steps() int { return l.steps }

// Params returns the parameters in a fixed order.
func (l *Linear) Params() []*Param { return l.params }

func (l *Linear) check(in *diffusion.Input) error {
	n := in.Size()
	if len(in.Conditioner) != n || len(in.Phonemes) != n || len(in.Energy) != n || len(in.Steps) != n {
		return fmt.Errorf("network: inconsistent batch (noisy %d, conditioner %d, phonemes %d, energy %d, steps %d)",
			n, len(in.Conditioner), len(in.Phonemes), len(in.Energy), len(in.Steps))
	}
	for i := range n {
		t := len(in.Noisy[i])
		if len(in.Conditioner[i]) != t || len(in.Phonemes[i]) != t || len(in.Energy[i]) != t {
			return fmt.Errorf("network: row %d has mismatched lengths", i)
		}
		if s := in.Steps[i]; s < 0 || s >= l.steps {
			return fmt.Errorf("network: row %d step %d outside [0, %d)", i, s, l.steps)
		}
	}
	return nil
}

// PredictNoise implements diffusion.Denoiser.
func (l *Linear) PredictNoise(ctx context.Context, in *diffusion.Input) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.check(in); err != nil {
		return nil, err
	}

	wx, wc := l.byName[ParamNoisy].Value, l.byName[ParamConditioner].Value
	wp, we := l.byName[ParamPhoneme].Value, l.byName[ParamEnergy].Value
	bias := l.byName[ParamBias].Value

	out := make([][]float32, in.Size())
	for i, row := range in.Noisy {
		t := in.Steps[i]
		out[i] = make([]float32, len(row))
		for j, x := range row {
			out[i][j] = wx[t]*x + wc[t]*in.Conditioner[i][j] + wp[t]*in.Phonemes[i][j] + we[t]*in.Energy[i][j] + bias[t]
		}
	}
	return out, nil
}

// Backward accumulates the parameter gradients for dLoss/dPrediction.
func (l *Linear) Backward(in *diffusion.Input, grad [][]float32) error {
	if err := l.check(in); err != nil {
		return err
	}
	if len(grad) != in.Size() {
		return fmt.Errorf("network: %d gradient rows for a batch of %d", len(grad), in.Size())
	}

	gx, gc := l.byName[ParamNoisy].Grad, l.byName[ParamConditioner].Grad
	gp, ge := l.byName[ParamPhoneme].Grad, l.byName[ParamEnergy].Grad
	gb := l.byName[ParamBias].Grad

	for i, row := range grad {
		if len(row) != len(in.Noisy[i]) {
			return fmt.Errorf("network: gradient row %d has %d samples, want %d", i, len(row), len(in.Noisy[i]))
		}
		t := in.Steps[i]
		for j, g := range row {
			if g == 0 {
				continue
			}
			d := float64(g)
			gx[t] += d * float64(in.Noisy[i][j])
			gc[t] += d * float64(in.Conditioner[i][j])
			gp[t] += d * float64(in.Phonemes[i][j])
			ge[t] += d * float64(in.Energy[i][j])
			gb[t] += d
		}
	}
	return nil
}

// ZeroGrad clears accumulated gradients.
func (l *Linear) ZeroGrad() {
	for _, p := range l.params {
		clear(p.Grad)
	}
}

// Tensors exports the weights, each name prefixed with prefix.
func (l *Linear) Tensors(prefix string) []safetensors.Tensor {
	out := make([]safetensors.Tensor, 0, len(l.params))
	for _, p := range l.params {
		out = append(out, safetensors.Tensor{
			Name:  prefix + p.Name,
			Shape: []int64{int64(l.steps)},
			Data:  append([]float32(nil), p.Value...),
		})
	}
	return out
}

// Load replaces the weights from a store opened with the matching prefix
// already trimmed.
func (l *Linear) Load(s *safetensors.Store) error {
	for _, p := range l.params {
		t, err := s.TensorWithShape(p.Name, []int64{int64(l.steps)})
		if err != nil {
			return fmt.Errorf("network: %w", err)
		}
		copy(p.Value, t.Data)
	}
	return nil
}
