// Package features computes and stores the per-phone energy contours that
// condition the denoiser.
package features

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sbinet/npyio"

	"github.com/example/go-diffar/internal/audio"
	"github.com/example/go-diffar/internal/textgrid"
)

// PhoneEnergy returns the RMS energy of samples inside every interval of tier.
// Interval bounds are rounded to samples and clipped to the signal; an empty
// span has zero energy.
func PhoneEnergy(samples []float32, tier *textgrid.Tier, sampleRate int) []float32 {
	out := make([]float32, len(tier.Intervals))
	for i, iv := range tier.Intervals {
		start := min(max(iv.StartSample(sampleRate), 0), len(samples))
		end := min(max(iv.EndSample(sampleRate), start), len(samples))
		out[i] = float32(audio.RMS(samples[start:end]))
	}
	return out
}

// WriteNPY stores e as a 1-D float32 .npy array.
func WriteNPY(path string, e []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create npy file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := npyio.Write(w, e); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadNPY loads a 1-D float32 or float64 .npy array.
func ReadNPY(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open npy file: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("npy %s: %w", path, err)
	}
	if len(r.Header.Descr.Shape) > 1 {
		return nil, fmt.Errorf("npy %s: expected 1-D array, got shape %v", path, r.Header.Descr.Shape)
	}

	switch r.Header.Descr.Type {
	case "<f4":
		var out []float32
		if err := r.Read(&out); err != nil {
			return nil, fmt.Errorf("npy %s: %w", path, err)
		}
		return out, nil
	case "<f8":
		var wide []float64
		if err := r.Read(&wide); err != nil {
			return nil, fmt.Errorf("npy %s: %w", path, err)
		}
		out := make([]float32, len(wide))
		for i, v := range wide {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("npy %s: unsupported dtype %q", path, r.Header.Descr.Type)
	}
}
