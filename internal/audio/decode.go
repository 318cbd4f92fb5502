// Package audio handles the mono PCM WAV files used for training and
// synthesis, plus the small amount of sample-domain DSP the pipeline needs.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cwbudde/wav"
)

const (
	DefaultSampleRate = 16000
	Channels          = 1
	BitDepth          = 16
)

// ErrFormatMismatch is returned when a decoded WAV does not match the expected format.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// Info describes a WAV stream without its samples.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int
}

// DecodeWAV decodes WAV bytes into float32 samples in [-1, 1]. The stream must
// be mono and, when sampleRate is positive, recorded at that rate.
func DecodeWAV(data []byte, sampleRate int) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty WAV input")
	}
	return Decode(bytes.NewReader(data), sampleRate)
}

// Decode is DecodeWAV for a seekable stream such as an *os.File.
func Decode(r io.ReadSeeker, sampleRate int) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	if sampleRate > 0 && int(dec.SampleRate) != sampleRate {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, dec.SampleRate, sampleRate)
	}
	if int(dec.NumChans) != Channels {
		return nil, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, Channels)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}

	return buf.Data, nil
}

// Probe reads the format of r and counts its frames.
func Probe(r io.ReadSeeker) (Info, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Info{}, errors.New("invalid WAV file")
	}
	info := Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, fmt.Errorf("reading PCM data: %w", err)
	}
	if info.Channels > 0 {
		info.Frames = len(buf.Data) / info.Channels
	}
	return info, nil
}
