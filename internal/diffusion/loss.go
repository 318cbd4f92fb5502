package diffusion

import (
	"fmt"
	"math"
)

// L1 is the mean absolute error over every sample of every row. The
// returned gradient is with respect to pred.
func L1(pred, target [][]float32) (float64, [][]float32, error) {
	n, err := checkShapes(pred, target)
	if err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, zerosLike(pred), nil
	}

	scale := 1 / float64(n)
	var loss float64
	grad := zerosLike(pred)
	for i := range pred {
		for j := range pred[i] {
			d := float64(pred[i][j] - target[i][j])
			loss += math.Abs(d) * scale
			grad[i][j] = float32(sign(d) * scale)
		}
	}
	return loss, grad, nil
}

// MaskedL1 ignores the conditioned head of each row. For row i the first
// max(0, overlap[i]-margin) samples are dropped and the rest is normalised
// by T-overlap[i]+margin and by batchSize, so rows with longer overlaps do
// not dominate the batch.
func MaskedL1(pred, target [][]float32, overlap []int, margin, batchSize int) (float64, [][]float32, error) {
	if _, err := checkShapes(pred, target); err != nil {
		return 0, nil, err
	}
	if len(overlap) != len(pred) {
		return 0, nil, fmt.Errorf("masked l1: %d overlaps for %d rows", len(overlap), len(pred))
	}
	if batchSize <= 0 {
		return 0, nil, fmt.Errorf("masked l1: batch size must be positive, got %d", batchSize)
	}

	var loss float64
	grad := zerosLike(pred)
	for i := range pred {
		t := len(pred[i])
		skip := min(max(0, overlap[i]-margin), t)
		denom := max(t-overlap[i]+margin, 1)
		scale := 1 / (float64(denom) * float64(batchSize))
		for j := skip; j < t; j++ {
			d := float64(pred[i][j] - target[i][j])
			loss += math.Abs(d) * scale
			grad[i][j] = float32(sign(d) * scale)
		}
	}
	return loss, grad, nil
}

func checkShapes(a, b [][]float32) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("loss: %d rows vs %d rows", len(a), len(b))
	}
	n := 0
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return 0, fmt.Errorf("loss: row %d has %d vs %d samples", i, len(a[i]), len(b[i]))
		}
		n += len(a[i])
	}
	return n, nil
}

func zerosLike(x [][]float32) [][]float32 {
	out := make([][]float32, len(x))
	for i := range x {
		out[i] = make([]float32, len(x[i]))
	}
	return out
}

func sign(d float64) float64 {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}
