//go:build !windows

package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// defaultAPIVersion is the ORT C API version requested when none is set.
const defaultAPIVersion = 23

// Runtime is a loaded ONNX Runtime library with one environment shared by
// all of its runners.
type Runtime struct {
	mu  sync.Mutex
	ort *ort.Runtime
	env *ort.Env
}

// OpenRuntime loads the shared library at libraryPath. apiVersion 0 selects
// the default.
func OpenRuntime(libraryPath string, apiVersion uint32) (*Runtime, error) {
	if apiVersion == 0 {
		apiVersion = defaultAPIVersion
	}
	rt, err := ort.NewRuntime(libraryPath, apiVersion)
	if err != nil {
		return nil, fmt.Errorf("load onnx runtime %s: %w", libraryPath, err)
	}
	env, err := rt.NewEnv("diffar", ort.LoggingLevelWarning)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("onnx runtime env: %w", err)
	}
	return &Runtime{ort: rt, env: env}, nil
}

// NewRunner opens a session for g.
func (r *Runtime) NewRunner(g Graph) (*Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ort == nil {
		return nil, fmt.Errorf("graph %q: runtime is closed", g.Name)
	}

	session, err := r.ort.NewSession(r.env, g.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx session for %q (%s): %w", g.Name, g.Path, err)
	}
	return &Runner{graph: g, rt: r.ort, session: session}, nil
}

// Close releases the environment and unloads the library. Runners must be
// closed first.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.env != nil {
		r.env.Close()
		r.env = nil
	}
	if r.ort != nil {
		_ = r.ort.Close()
		r.ort = nil
	}
}

// Runner executes one graph.
type Runner struct {
	graph   Graph
	rt      *ort.Runtime
	session *ort.Session
}

// Run feeds inputs to the graph and returns its outputs by name.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("run %q: runner is closed", r.graph.Name)
	}

	feeds := make(map[string]*ort.Value, len(inputs))
	defer closeValues(feeds)
	for name, t := range inputs {
		v, err := toValue(r.rt, t)
		if err != nil {
			return nil, fmt.Errorf("%s input %q: %w", r.graph.Name, name, err)
		}
		feeds[name] = v
	}

	fetched, err := r.session.Run(ctx, feeds)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.graph.Name, err)
	}
	defer closeValues(fetched)

	out := make(map[string]*Tensor, len(fetched))
	for name, v := range fetched {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s output %q: %w", r.graph.Name, name, err)
		}
		out[name] = t
	}
	return out, nil
}

// Close releases the session. Safe to call multiple times.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
		r.session = nil
	}
}

func (r *Runner) Name() string { return r.graph.Name }

// Graph returns the manifest entry the runner was built from.
func (r *Runner) Graph() Graph { return r.graph }

func toValue(rt *ort.Runtime, t *Tensor) (*ort.Value, error) {
	switch data := t.Data().(type) {
	case []float32:
		return ort.NewTensorValue(rt, data, t.Shape())
	case []int64:
		return ort.NewTensorValue(rt, data, t.Shape())
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %T", data)
	}
}

func fromValue(v *ort.Value) (*Tensor, error) {
	elem, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("element type: %w", err)
	}
	switch elem {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}
		return NewTensor(data, shape)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}
		return NewTensor(data, shape)
	default:
		return nil, fmt.Errorf("unsupported element type %d", elem)
	}
}

func closeValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
