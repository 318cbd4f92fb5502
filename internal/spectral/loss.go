package spectral

import (
	"fmt"
	"math"
)

// Loss is the mean absolute difference between the log-mel spectrograms of
// pred and target. The gradient is with respect to pred; target is treated
// as a constant.
func (m *MelSpec) Loss(pred, target [][]float32) (float64, [][]float32, error) {
	if len(pred) != len(target) {
		return 0, nil, fmt.Errorf("spectral loss: %d rows vs %d rows", len(pred), len(target))
	}

	type rowSpec struct {
		pred, target []frame
	}
	rows := make([]rowSpec, len(pred))
	count := 0
	for i := range pred {
		if len(pred[i]) != len(target[i]) {
			return 0, nil, fmt.Errorf("spectral loss: row %d has %d vs %d samples", i, len(pred[i]), len(target[i]))
		}
		p, err := m.analyze(pred[i])
		if err != nil {
			return 0, nil, fmt.Errorf("spectral loss: row %d: %w", i, err)
		}
		t, err := m.analyze(target[i])
		if err != nil {
			return 0, nil, fmt.Errorf("spectral loss: row %d: %w", i, err)
		}
		rows[i] = rowSpec{pred: p, target: t}
		count += len(p) * m.nMels
	}
	if count == 0 {
		return 0, make([][]float32, len(pred)), nil
	}

	var loss float64
	grad := make([][]float32, len(pred))
	for i, r := range rows {
		g, l := m.rowGradient(r.pred, r.target, len(pred[i]), float64(count))
		loss += l
		grad[i] = g
	}
	return loss, grad, nil
}

func (m *MelSpec) rowGradient(pred, target []frame, t int, count float64) ([]float32, float64) {
	nBins := m.nfft/2 + 1
	padded := make([]float64, t+2*(m.nfft/2))
	dmel := make([]float64, m.nMels)
	h := make([]float64, nBins)
	y := make([]complex128, m.nfft)

	var loss float64
	m.mu.Lock()
	for f := range pred {
		for j := range dmel {
			mp, mt := pred[f].mel[j], target[f].mel[j]
			d := math.Log(max(mp, floor)) - math.Log(max(mt, floor))
			loss += math.Abs(d) / count

			dmel[j] = 0
			if d != 0 && mp > floor {
				dmel[j] = math.Copysign(1, d) / count / mp
			}
		}

		for k := range h {
			h[k] = 0
		}
		for j, weights := range m.fb {
			if dmel[j] == 0 {
				continue
			}
			for k, w := range weights {
				h[k] += w * dmel[j]
			}
		}

		// d|X_k|^2/dx_n = 2 w_n Re(conj(X_k) e^{-2 pi i k n / N}), so the
		// sum over bins is one forward DFT of h_k conj(X_k).
		for k := range y {
			y[k] = 0
		}
		for k := range nBins {
			c := pred[f].coeffs[k]
			y[k] = complex(h[k]*real(c), -h[k]*imag(c))
		}
		g := m.cfft.Coefficients(nil, y)

		off := f * m.hop
		for n := range m.nfft {
			padded[off+n] += 2 * m.window[n] * real(g[n])
		}
	}
	m.mu.Unlock()

	out := make([]float32, t)
	acc := make([]float64, t)
	for i, v := range padded {
		acc[m.source(i, t)] += v
	}
	for i, v := range acc {
		out[i] = float32(v)
	}
	return out, loss
}
