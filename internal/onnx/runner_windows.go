//go:build windows

package onnx

import (
	"context"
	"errors"
)

var errNoRuntime = errors.New("onnx runtime is not supported on windows builds")

// Runtime is unavailable in windows builds.
type Runtime struct{}

// OpenRuntime always fails in windows builds.
func OpenRuntime(string, uint32) (*Runtime, error) { return nil, errNoRuntime }

func (r *Runtime) NewRunner(Graph) (*Runner, error) { return nil, errNoRuntime }

func (r *Runtime) Close() {}

// Runner is unavailable in windows builds.
type Runner struct {
	graph Graph
}

func (r *Runner) Run(context.Context, map[string]*Tensor) (map[string]*Tensor, error) {
	return nil, errNoRuntime
}

func (r *Runner) Close() {}

func (r *Runner) Name() string { return r.graph.Name }

func (r *Runner) Graph() Graph { return r.graph }
