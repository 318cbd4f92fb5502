// Package onnx runs exported diffar graphs through ONNX Runtime: the
// denoiser used by the reverse process and the duration and energy
// predictors used ahead of it at inference time.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/example/go-diffar/internal/config"
)

// Graph names expected in the manifest.
const (
	GraphDenoiser = "denoiser"
	GraphDuration = "duration"
	GraphEnergy   = "energy"
)

// Graphs lists every graph the engine needs.
var Graphs = []string{GraphDuration, GraphEnergy, GraphDenoiser}

// GraphRunner is the minimal runner contract required by Engine methods.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// EngineOptions are the model constants the graphs were exported with.
type EngineOptions struct {
	TotalPhonemes int
	// MaxDuration caps predicted phone durations, in samples.
	MaxDuration int
}

// Engine owns one runner per graph.
type Engine struct {
	runners map[string]GraphRunner
	opts    EngineOptions
	rt      *Runtime
}

// NewEngine loads the manifest named by cfg.ONNXManifest and opens a session
// for each graph.
func NewEngine(cfg config.InferenceConfig, opts EngineOptions) (*Engine, error) {
	info, err := DetectRuntime(cfg)
	if err != nil {
		return nil, fmt.Errorf("detect onnx runtime: %w", err)
	}
	set, err := LoadGraphSet(cfg.ONNXManifest)
	if err != nil {
		return nil, err
	}
	graphs := make([]Graph, len(Graphs))
	for i, name := range Graphs {
		if graphs[i], err = set.Graph(name); err != nil {
			return nil, err
		}
	}

	rt, err := OpenRuntime(info.LibraryPath, 0)
	if err != nil {
		return nil, err
	}
	e := &Engine{runners: make(map[string]GraphRunner, len(graphs)), opts: opts, rt: rt}
	for _, g := range graphs {
		r, err := rt.NewRunner(g)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.runners[g.Name] = r
	}
	slog.Info("onnx engine ready", "library", info.LibraryPath, "version", info.Version, "graphs", len(graphs))
	return e, nil
}

// NewEngineWithRunners builds an Engine from externally provided graph runners.
func NewEngineWithRunners(runners map[string]GraphRunner, opts EngineOptions) *Engine {
	internal := make(map[string]GraphRunner, len(runners))
	maps.Copy(internal, runners)

	return &Engine{runners: internal, opts: opts}
}

func (e *Engine) runner(name string) (GraphRunner, error) {
	r, ok := e.runners[name]
	if !ok {
		return nil, fmt.Errorf("onnx engine has no %q graph", name)
	}
	return r, nil
}

// Close releases every runner, then the runtime.
func (e *Engine) Close() {
	for name, r := range e.runners {
		r.Close()
		delete(e.runners, name)
	}
	if e.rt != nil {
		e.rt.Close()
		e.rt = nil
	}
}

// output returns the tensor called name, or the only output when the graph
// exported a different name.
func output(graph string, outputs map[string]*Tensor, name string) (*Tensor, error) {
	if t, ok := outputs[name]; ok {
		return t, nil
	}
	if len(outputs) == 1 {
		for _, t := range outputs {
			return t, nil
		}
	}
	return nil, errors.New(graph + ": missing output " + name)
}
