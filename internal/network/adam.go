package network

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/example/go-diffar/internal/safetensors"
)

// Adam is the Adam optimizer with bias correction.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	t int
	m map[string][]float64
	v map[string][]float64
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		m:     make(map[string][]float64),
		v:     make(map[string][]float64),
	}
}

// StepCount is the number of updates applied so far.
func (a *Adam) StepCount() int { return a.t }

// ClipGradNorm rescales all gradients so their joint L2 norm is at most
// maxNorm and returns the norm before clipping.
func ClipGradNorm(params []*Param, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		for _, g := range p.Grad {
			sq += g * g
		}
	}
	norm := math.Sqrt(sq)
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for _, p := range params {
			for i := range p.Grad {
				p.Grad[i] *= scale
			}
		}
	}
	return norm
}

// Step applies one update from the current gradients.
func (a *Adam) Step(params []*Param) {
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for _, p := range params {
		m, ok := a.m[p.Name]
		if !ok {
			m = make([]float64, len(p.Value))
			a.m[p.Name] = m
		}
		v, ok := a.v[p.Name]
		if !ok {
			v = make([]float64, len(p.Value))
			a.v[p.Name] = v
		}
		for i, g := range p.Grad {
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			update := a.LR * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.Eps)
			p.Value[i] = float32(float64(p.Value[i]) - update)
		}
	}
}

// Tensors exports the moment estimates under prefix+"m."/"v.".
func (a *Adam) Tensors(prefix string) []safetensors.Tensor {
	var out []safetensors.Tensor
	for _, moments := range []struct {
		tag string
		m   map[string][]float64
	}{{"m.", a.m}, {"v.", a.v}} {
		for name, vals := range moments.m {
			data := make([]float32, len(vals))
			for i, v := range vals {
				data[i] = float32(v)
			}
			out = append(out, safetensors.Tensor{
				Name:  prefix + moments.tag + name,
				Shape: []int64{int64(len(data))},
				Data:  data,
			})
		}
	}
	return out
}

// Metadata is the scalar optimizer state stored next to the tensors.
func (a *Adam) Metadata() map[string]string {
	return map[string]string{"adam_t": strconv.Itoa(a.t)}
}

// Load restores optimizer state from a store with the optimizer prefix
// trimmed. Missing moments are treated as a fresh optimizer for that param.
func (a *Adam) Load(s *safetensors.Store, meta map[string]string) error {
	if raw, ok := meta["adam_t"]; ok {
		t, err := strconv.Atoi(raw)
		if err != nil || t < 0 {
			return fmt.Errorf("network: bad adam_t %q", raw)
		}
		a.t = t
	}
	for _, name := range s.Names() {
		t, err := s.Tensor(name)
		if err != nil {
			return fmt.Errorf("network: %w", err)
		}
		vals := make([]float64, len(t.Data))
		for i, v := range t.Data {
			vals[i] = float64(v)
		}
		if param, ok := strings.CutPrefix(name, "m."); ok {
			a.m[param] = vals
		} else if param, ok := strings.CutPrefix(name, "v."); ok {
			a.v[param] = vals
		} else {
			return fmt.Errorf("network: unexpected optimizer tensor %q", name)
		}
	}
	return nil
}
