package testutil

import (
	"bytes"
	"os"
	"testing"

	"github.com/example/go-diffar/internal/audio"
)

// AssertValidWAV fails tb unless data decodes as a non-empty mono 16-bit WAV
// recorded at sampleRate. It returns the probed format.
func AssertValidWAV(tb testing.TB, data []byte, sampleRate int) audio.Info {
	tb.Helper()

	info, err := audio.Probe(bytes.NewReader(data))
	if err != nil {
		tb.Fatalf("probe wav: %v", err)
	}
	want := audio.Info{
		SampleRate: sampleRate,
		Channels:   audio.Channels,
		BitDepth:   audio.BitDepth,
		Frames:     info.Frames,
	}
	if info != want {
		tb.Fatalf("wav format = %+v, want %+v", info, want)
	}
	if info.Frames == 0 {
		tb.Fatal("wav holds no samples")
	}
	return info
}

// AssertWAVDurationApprox fails tb unless the audio in data lasts between
// minSec and maxSec seconds.
func AssertWAVDurationApprox(tb testing.TB, data []byte, sampleRate int, minSec, maxSec float64) {
	tb.Helper()

	info := AssertValidWAV(tb, data, sampleRate)
	if sec := float64(info.Frames) / float64(sampleRate); sec < minSec || sec > maxSec {
		tb.Fatalf("wav lasts %.3fs, want [%.3f, %.3f]", sec, minSec, maxSec)
	}
}

// AssertValidWAVFile reads path and applies AssertValidWAV.
func AssertValidWAVFile(tb testing.TB, path string, sampleRate int) []byte {
	tb.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("read wav: %v", err)
	}
	AssertValidWAV(tb, data, sampleRate)
	return data
}
