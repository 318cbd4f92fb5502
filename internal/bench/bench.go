// Package bench summarizes synthesis timings: per-file real-time factors
// and aggregate statistics for the infer command.
package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Run holds the timing of one synthesized file.
type Run struct {
	Name    string
	Elapsed time.Duration
	Audio   time.Duration
	RTF     float64
}

// NewRun derives the audio duration and RTF from a sample count.
func NewRun(name string, elapsed time.Duration, samples, sampleRate int) Run {
	audio := AudioDuration(samples, sampleRate)
	return Run{Name: name, Elapsed: elapsed, Audio: audio, RTF: CalcRTF(elapsed, audio)}
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	MeanRTF float64
}

// ComputeStats calculates min, max and mean over runs.
func ComputeStats(runs []Run) Stats {
	if len(runs) == 0 {
		return Stats{}
	}
	mn, mx := runs[0].Elapsed, runs[0].Elapsed
	var sum time.Duration
	var rtf float64
	for _, r := range runs {
		mn = min(mn, r.Elapsed)
		mx = max(mx, r.Elapsed)
		sum += r.Elapsed
		rtf += r.RTF
	}
	return Stats{
		Min:     mn,
		Max:     mx,
		Mean:    sum / time.Duration(len(runs)),
		MeanRTF: rtf / float64(len(runs)),
	}
}

// CalcRTF returns synthesis_duration / audio_duration.
// Returns 0 if audioDur is zero to avoid division by zero.
func CalcRTF(synthDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(synthDur) / float64(audioDur)
}

// AudioDuration converts a sample count to playback time.
func AudioDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// FormatTable writes a human-readable ASCII table of runs to w.
func FormatTable(runs []Run, stats Stats, w io.Writer) {
	width := len("File")
	for _, r := range runs {
		width = max(width, len(r.Name))
	}

	sb := &strings.Builder{}
	fmt.Fprintf(sb, "%-*s  %10s  %12s  %8s\n", width, "File", "MS", "Audio(ms)", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", width+36))

	for _, r := range runs {
		fmt.Fprintf(sb, "%-*s  %10.1f  %12.1f  %8.3f\n",
			width,
			r.Name,
			float64(r.Elapsed.Milliseconds()),
			float64(r.Audio.Milliseconds()),
			r.RTF,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", width+36))
	fmt.Fprintf(sb, "%-*s  %10.1f  %12s  %8s  (min)\n", width, "", float64(stats.Min.Milliseconds()), "", "")
	fmt.Fprintf(sb, "%-*s  %10.1f  %12s  %8.3f  (mean)\n", width, "", float64(stats.Mean.Milliseconds()), "", stats.MeanRTF)
	fmt.Fprintf(sb, "%-*s  %10.1f  %12s  %8s  (max)\n", width, "", float64(stats.Max.Milliseconds()), "", "")

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	AudioMS    float64 `json:"audio_ms"`
	RTF        float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS   float64 `json:"min_ms"`
	MeanMS  float64 `json:"mean_ms"`
	MaxMS   float64 `json:"max_ms"`
	MeanRTF float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of runs to w.
func FormatJSON(runs []Run, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:   float64(stats.Min.Milliseconds()),
			MeanMS:  float64(stats.Mean.Milliseconds()),
			MaxMS:   float64(stats.Max.Milliseconds()),
			MeanRTF: stats.MeanRTF,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Name:       r.Name,
			DurationMS: float64(r.Elapsed.Milliseconds()),
			AudioMS:    float64(r.Audio.Milliseconds()),
			RTF:        r.RTF,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
