package audio

import (
	"fmt"
	"os"
)

// ReadWAVFile loads a mono WAV file recorded at sampleRate.
func ReadWAVFile(path string, sampleRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	samples, err := Decode(f, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("wav %s: %w", path, err)
	}
	return samples, nil
}

// ProbeFile returns the format and frame count of the WAV at path.
func ProbeFile(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	info, err := Probe(f)
	if err != nil {
		return Info{}, fmt.Errorf("wav %s: %w", path, err)
	}
	return info, nil
}

// WriteWAVFile writes samples to path as 16-bit mono PCM.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := Encode(f, samples, sampleRate); err != nil {
		f.Close()
		return fmt.Errorf("wav %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}
