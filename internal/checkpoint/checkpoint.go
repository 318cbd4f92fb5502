// Package checkpoint stores training state as weights-<step>.safetensors
// files inside a directory, keeps a weights.safetensors symlink pointing at
// the newest one and prunes older files.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/example/go-diffar/internal/safetensors"
)

const (
	// LinkName is the symlink that always points at the newest checkpoint.
	LinkName = "weights.safetensors"
	// DefaultKeep is how many step files survive pruning.
	DefaultKeep = 3

	MetaStep   = "step"
	MetaRunID  = "run_id"
	MetaConfig = "config"

	// Tensor name prefixes of the network and optimizer state.
	ModelPrefix = "model."
	OptimPrefix = "optim."
)

var stepFile = regexp.MustCompile(`^weights-(\d+)\.safetensors$`)

// ErrNotFound is returned by Load when the directory has no checkpoint.
var ErrNotFound = errors.New("no checkpoint")

// Dir manages the checkpoints of one directory.
type Dir struct {
	Path string
	Keep int
}

// State is what goes into one checkpoint file.
type State struct {
	Step     int
	RunID    string
	Config   string
	Tensors  []safetensors.Tensor
	Metadata map[string]string
}

// FileName is the checkpoint file name for step.
func FileName(step int) string {
	return fmt.Sprintf("weights-%d.safetensors", step)
}

// Save writes the state, repoints the symlink and prunes. It returns the
// path of the written file.
func (d Dir) Save(st State) (string, error) {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}

	meta := make(map[string]string, len(st.Metadata)+3)
	for k, v := range st.Metadata {
		meta[k] = v
	}
	meta[MetaStep] = strconv.Itoa(st.Step)
	if st.RunID != "" {
		meta[MetaRunID] = st.RunID
	}
	if st.Config != "" {
		meta[MetaConfig] = st.Config
	}

	name := FileName(st.Step)
	path := filepath.Join(d.Path, name)
	if err := safetensors.WriteFile(path, st.Tensors, safetensors.EncodeOptions{Metadata: meta}); err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	if err := d.link(name); err != nil {
		return "", err
	}
	if err := d.prune(); err != nil {
		return "", err
	}

	slog.Debug("checkpoint saved", "path", path, "step", st.Step)
	return path, nil
}

// link swaps the symlink via a temporary name so readers never see it
// missing.
func (d Dir) link(target string) error {
	tmp := filepath.Join(d.Path, "."+LinkName+".tmp")
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("checkpoint: symlink: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(d.Path, LinkName)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: symlink: %w", err)
	}
	return nil
}

// Steps lists the steps present in the directory, newest first.
func (d Dir) Steps() ([]int, error) {
	entries, err := os.ReadDir(d.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	var steps []int
	for _, e := range entries {
		m := stepFile.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		steps = append(steps, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(steps)))
	return steps, nil
}

func (d Dir) prune() error {
	keep := d.Keep
	if keep <= 0 {
		keep = DefaultKeep
	}
	steps, err := d.Steps()
	if err != nil {
		return err
	}
	for _, step := range steps[min(keep, len(steps)):] {
		path := filepath.Join(d.Path, FileName(step))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checkpoint: prune: %w", err)
		}
	}
	return nil
}

// Checkpoint is a loaded checkpoint file.
type Checkpoint struct {
	Path     string
	Step     int
	RunID    string
	Config   string
	Metadata map[string]string

	data []byte
}

// Load opens the file the symlink points at.
func (d Dir) Load() (*Checkpoint, error) {
	path := filepath.Join(d.Path, LinkName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNotFound, d.Path)
	}
	return Open(path)
}

// Open reads a checkpoint file or a directory containing the symlink.
func Open(path string) (*Checkpoint, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return Dir{Path: path}.Load()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	s, err := safetensors.OpenStoreFromBytes(data, safetensors.StoreOptions{})
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	meta := s.Metadata()

	step, err := strconv.Atoi(meta[MetaStep])
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: missing or bad step %q", path, meta[MetaStep])
	}

	return &Checkpoint{
		Path:     path,
		Step:     step,
		RunID:    meta[MetaRunID],
		Config:   meta[MetaConfig],
		Metadata: meta,
		data:     data,
	}, nil
}

// Store opens the tensors whose names start with prefix, with the prefix
// removed.
func (c *Checkpoint) Store(prefix string) (*safetensors.Store, error) {
	s, err := safetensors.OpenStoreFromBytes(c.data, safetensors.StoreOptions{KeyMapper: safetensors.TrimPrefix(prefix)})
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", c.Path, err)
	}
	return s, nil
}
