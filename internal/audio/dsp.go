package audio

import "math"

// RMS returns the root mean square of samples, or 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, v := range samples {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Clip returns samples limited to [-1, 1]. The input is returned unchanged
// when nothing exceeds the range.
func Clip(samples []float32) []float32 {
	if Peak(samples) <= 1 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = max(-1, min(1, v))
	}
	return out
}

// PeakNormalize scales samples so the peak amplitude reaches 1.0. Silence is
// returned as is.
func PeakNormalize(samples []float32) []float32 {
	peak := Peak(samples)
	if peak == 0 {
		return samples
	}
	out := make([]float32, len(samples))
	scale := 1 / peak
	for i, v := range samples {
		out[i] = v * scale
	}
	return out
}

// dcCutoffHz is the corner frequency of the DC blocking filter.
const dcCutoffHz = 20.0

// DCBlock removes DC offset with a one-pole high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 || sampleRate <= 0 {
		return samples
	}
	r := 1 - 2*math.Pi*dcCutoffHz/float64(sampleRate)
	out := make([]float32, len(samples))
	var prevX, prevY float64
	for i, v := range samples {
		x := float64(v)
		y := x - prevX + r*prevY
		out[i] = float32(y)
		prevX, prevY = x, y
	}
	return out
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := min(fadeLength(sampleRate, ms), len(samples))
	out := append([]float32(nil), samples...)
	for i := 0; i < n; i++ {
		out[i] *= float32(i) / float32(n)
	}
	return out
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := min(fadeLength(sampleRate, ms), len(samples))
	out := append([]float32(nil), samples...)
	start := len(out) - n
	for i := start; i < len(out); i++ {
		out[i] *= float32(len(out)-1-i) / float32(n)
	}
	return out
}

func fadeLength(sampleRate int, ms float64) int {
	if sampleRate <= 0 || ms <= 0 {
		return 0
	}
	return int(ms / 1000 * float64(sampleRate))
}
