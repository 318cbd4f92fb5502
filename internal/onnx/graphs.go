package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Port describes one declared graph input or output. Shape entries are
// numbers for fixed dimensions and strings for symbolic ones.
type Port struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// Graph is one exported model file.
type Graph struct {
	Name    string `json:"name"`
	File    string `json:"filename"`
	Inputs  []Port `json:"inputs"`
	Outputs []Port `json:"outputs"`

	// Path is File resolved against the manifest directory.
	Path string `json:"-"`
}

// requiredInputs are the feeds Engine passes to each graph. A manifest that
// declares inputs must declare at least these.
var requiredInputs = map[string][]string{
	GraphDenoiser: {InputAudio, InputConditioner, InputStep, InputPhonemes, InputEnergy},
	GraphDuration: {InputPhonemes},
	GraphEnergy:   {InputPhonemes, InputDurations},
}

// GraphSet is the parsed graph manifest:
//
//	{"graphs": [{"name": "denoiser", "filename": "denoiser.onnx", "inputs": [...], "outputs": [...]}]}
type GraphSet struct {
	Path   string
	graphs []Graph
}

// LoadGraphSet reads and checks the manifest at path. Every listed file
// must exist.
func LoadGraphSet(path string) (*GraphSet, error) {
	if path == "" {
		return nil, errors.New("onnx manifest path is required (inference.onnx_manifest)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read onnx manifest: %w", err)
	}

	var doc struct {
		Graphs []Graph `json:"graphs"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode onnx manifest %s: %w", path, err)
	}
	if len(doc.Graphs) == 0 {
		return nil, fmt.Errorf("onnx manifest %s lists no graphs", path)
	}

	set := &GraphSet{Path: path}
	dir := filepath.Dir(path)
	for _, g := range doc.Graphs {
		if err := set.add(dir, g); err != nil {
			return nil, fmt.Errorf("onnx manifest %s: %w", path, err)
		}
	}
	return set, nil
}

func (s *GraphSet) add(dir string, g Graph) error {
	switch {
	case g.Name == "":
		return errors.New("graph with empty name")
	case g.File == "":
		return fmt.Errorf("graph %q has empty filename", g.Name)
	case slices.ContainsFunc(s.graphs, func(o Graph) bool { return o.Name == g.Name }):
		return fmt.Errorf("duplicate graph %q", g.Name)
	}

	g.Path = g.File
	if !filepath.IsAbs(g.Path) {
		g.Path = filepath.Join(dir, g.Path)
	}
	g.Path = filepath.Clean(g.Path)
	if _, err := os.Stat(g.Path); err != nil {
		return fmt.Errorf("graph %q: %w", g.Name, err)
	}

	if len(g.Inputs) > 0 {
		for _, want := range requiredInputs[g.Name] {
			if !slices.ContainsFunc(g.Inputs, func(p Port) bool { return p.Name == want }) {
				return fmt.Errorf("graph %q does not declare input %q (has %s)", g.Name, want, portNames(g.Inputs))
			}
		}
	}

	s.graphs = append(s.graphs, g)
	slog.Debug("onnx graph",
		"name", g.Name,
		"path", g.Path,
		"inputs", portNames(g.Inputs),
		"outputs", portNames(g.Outputs),
	)
	return nil
}

// Graph returns the named graph.
func (s *GraphSet) Graph(name string) (Graph, error) {
	i := slices.IndexFunc(s.graphs, func(g Graph) bool { return g.Name == name })
	if i < 0 {
		return Graph{}, fmt.Errorf("onnx manifest has no %q graph (have %s)", name, strings.Join(s.Names(), ", "))
	}
	return s.graphs[i], nil
}

// Names lists the graphs in manifest order.
func (s *GraphSet) Names() []string {
	names := make([]string, len(s.graphs))
	for i, g := range s.graphs {
		names[i] = g.Name
	}
	return names
}

func portNames(ports []Port) string {
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return strings.Join(names, ",")
}
