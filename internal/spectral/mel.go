// Package spectral computes log-mel spectrograms and the spectral L1 loss
// between two batches of signals, including its gradient with respect to
// the prediction.
//
// Framing follows the usual speech defaults: periodic Hann window of NFFT
// samples, centred frames with reflect padding, power spectrum and an HTK
// mel filterbank without normalisation.
package spectral

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultNFFT = 400
	DefaultHop  = 200

	// floor is the clamp applied before taking the log.
	floor = 1e-5
)

// MelSpec holds the window, filterbank and FFT plans for one configuration.
// It is safe for concurrent use.
type MelSpec struct {
	sampleRate int
	nfft       int
	hop        int
	nMels      int

	window []float64
	// fb[j][k] weights frequency bin k in mel band j.
	fb [][]float64

	mu   sync.Mutex
	fft  *fourier.FFT
	cfft *fourier.CmplxFFT
}

func New(sampleRate, nfft, hop, nMels int) (*MelSpec, error) {
	if sampleRate <= 0 || nfft < 2 || hop <= 0 || nMels <= 0 {
		return nil, fmt.Errorf("spectral: invalid configuration sr=%d n_fft=%d hop=%d n_mels=%d", sampleRate, nfft, hop, nMels)
	}

	m := &MelSpec{
		sampleRate: sampleRate,
		nfft:       nfft,
		hop:        hop,
		nMels:      nMels,
		window:     make([]float64, nfft),
		fb:         melFilterbank(nfft/2+1, nMels, float64(sampleRate)),
		fft:        fourier.NewFFT(nfft),
		cfft:       fourier.NewCmplxFFT(nfft),
	}
	for n := range m.window {
		m.window[n] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(n)/float64(nfft))
	}
	return m, nil
}

// NMels is the number of mel bands.
func (m *MelSpec) NMels() int { return m.nMels }

// Frames is the number of frames produced for a signal of n samples.
func (m *MelSpec) Frames(n int) int { return 1 + (n+2*(m.nfft/2)-m.nfft)/m.hop }

func hzToMel(f float64) float64 { return 2595 * math.Log10(1+f/700) }
func melToHz(m float64) float64 { return 700 * (math.Pow(10, m/2595) - 1) }

func melFilterbank(nFreqs, nMels int, sampleRate float64) [][]float64 {
	nyquist := sampleRate / 2
	freqs := make([]float64, nFreqs)
	for i := range freqs {
		freqs[i] = nyquist * float64(i) / float64(nFreqs-1)
	}

	top := hzToMel(nyquist)
	pts := make([]float64, nMels+2)
	for i := range pts {
		pts[i] = melToHz(top * float64(i) / float64(nMels+1))
	}

	fb := make([][]float64, nMels)
	for j := range fb {
		fb[j] = make([]float64, nFreqs)
		lo, mid, hi := pts[j], pts[j+1], pts[j+2]
		for k, f := range freqs {
			down := (f - lo) / (mid - lo)
			up := (hi - f) / (hi - mid)
			fb[j][k] = max(0, min(down, up))
		}
	}
	return fb
}

// reflect pads x by nfft/2 on both sides, mirroring around the end samples.
func (m *MelSpec) reflect(x []float32) ([]float64, error) {
	p := m.nfft / 2
	t := len(x)
	if t <= p {
		return nil, fmt.Errorf("spectral: signal of %d samples is too short for n_fft %d", t, m.nfft)
	}

	out := make([]float64, t+2*p)
	for i, v := range x {
		out[p+i] = float64(v)
	}
	for i := 1; i <= p; i++ {
		out[p-i] = float64(x[i])
		out[p+t-1+i] = float64(x[t-1-i])
	}
	return out, nil
}

// source maps an index of the padded signal back to the original signal.
func (m *MelSpec) source(i, t int) int {
	p := m.nfft / 2
	switch {
	case i < p:
		return p - i
	case i < p+t:
		return i - p
	default:
		return t - 1 - (i - (p + t - 1))
	}
}

// frame holds the spectrum and mel energies of one analysis frame.
type frame struct {
	coeffs []complex128
	mel    []float64
}

func (m *MelSpec) analyze(x []float32) ([]frame, error) {
	padded, err := m.reflect(x)
	if err != nil {
		return nil, err
	}

	frames := make([]frame, m.Frames(len(x)))
	seg := make([]float64, m.nfft)

	m.mu.Lock()
	defer m.mu.Unlock()

	for f := range frames {
		off := f * m.hop
		for n := range seg {
			seg[n] = padded[off+n] * m.window[n]
		}
		coeffs := m.fft.Coefficients(nil, seg)

		mel := make([]float64, m.nMels)
		for j, weights := range m.fb {
			var sum float64
			for k, w := range weights {
				if w == 0 {
					continue
				}
				c := coeffs[k]
				sum += w * (real(c)*real(c) + imag(c)*imag(c))
			}
			mel[j] = sum
		}
		frames[f] = frame{coeffs: coeffs, mel: mel}
	}
	return frames, nil
}

// LogMel returns log(max(mel, 1e-5)) as [frame][band].
func (m *MelSpec) LogMel(x []float32) ([][]float64, error) {
	frames, err := m.analyze(x)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(frames))
	for f, fr := range frames {
		out[f] = make([]float64, m.nMels)
		for j, v := range fr.mel {
			out[f][j] = math.Log(max(v, floor))
		}
	}
	return out, nil
}
