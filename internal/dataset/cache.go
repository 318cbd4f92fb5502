package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/example/go-diffar/internal/audio"
	"github.com/example/go-diffar/internal/features"
)

// Cache memoizes decoded waveforms as <dir>/<id>.npy. A zero Cache decodes
// every time.
type Cache struct {
	dir string
}

func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		return &Cache{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Waveform returns the samples of the wav at path, stored under id.
func (c *Cache) Waveform(id, path string, sampleRate int) ([]float32, error) {
	if c == nil || c.dir == "" {
		return audio.ReadWAVFile(path, sampleRate)
	}

	cached := filepath.Join(c.dir, id+".npy")
	samples, err := features.ReadNPY(cached)
	if err == nil {
		return samples, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cache %s: %w", id, err)
	}

	samples, err = audio.ReadWAVFile(path, sampleRate)
	if err != nil {
		return nil, err
	}
	// Write to a temp name first so concurrent loaders never read a torn file.
	tmp, err := os.CreateTemp(c.dir, id+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", id, err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	if err := features.WriteNPY(tmpName, samples); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("cache %s: %w", id, err)
	}
	if err := os.Rename(tmpName, cached); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("cache %s: %w", id, err)
	}
	return samples, nil
}
