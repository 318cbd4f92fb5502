package audio

import (
	"fmt"
	"io"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// EncodeWAV encodes float32 samples as 16-bit mono PCM at sampleRate.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var m memSeeker
	if err := Encode(&m, samples, sampleRate); err != nil {
		return nil, err
	}
	return m.data, nil
}

// Encode writes samples to ws as a complete WAV stream. Samples outside
// [-1, 1] are clipped first.
func Encode(ws io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate < 1 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	enc := wav.NewEncoder(ws, sampleRate, BitDepth, Channels, 1) // 1 = PCM

	if err := enc.Write(&goaudio.Float32Buffer{
		Data:           Clip(samples),
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: Channels},
		SourceBitDepth: BitDepth,
	}); err != nil {
		return fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}
	return nil
}

// memSeeker is an in-memory io.WriteSeeker. The encoder seeks back on Close
// to patch chunk sizes, so writes may land before the end.
type memSeeker struct {
	data []byte
	off  int
}

func (m *memSeeker) Write(p []byte) (int, error) {
	if end := m.off + len(p); end > len(m.data) {
		m.data = append(m.data[:m.off], p...)
	} else {
		copy(m.data[m.off:], p)
	}
	m.off += len(p)
	return len(p), nil
}

func (m *memSeeker) Seek(offset int64, whence int) (int64, error) {
	base := 0
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = m.off
	case io.SeekEnd:
		base = len(m.data)
	default:
		return 0, fmt.Errorf("seek: bad whence %d", whence)
	}
	off := base + int(offset)
	if off < 0 || off > len(m.data) {
		return 0, fmt.Errorf("seek: offset %d outside [0, %d]", off, len(m.data))
	}
	m.off = off
	return int64(off), nil
}
