package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"
)

// pcmHeader builds a canonical 44-byte header followed by frames*channels
// zero samples.
func pcmHeader(rate uint32, channels uint16, frames int) []byte {
	const bits = 16
	block := channels * bits / 8
	size := uint32(frames) * uint32(block)

	b := make([]byte, 44+int(size))
	copy(b[0:], "RIFF")
	binary.LittleEndian.PutUint32(b[4:], 36+size)
	copy(b[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1)
	binary.LittleEndian.PutUint16(b[22:], channels)
	binary.LittleEndian.PutUint32(b[24:], rate)
	binary.LittleEndian.PutUint32(b[28:], rate*uint32(block))
	binary.LittleEndian.PutUint16(b[32:], block)
	binary.LittleEndian.PutUint16(b[34:], bits)
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], size)
	return b
}

func TestDecodeWAV(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		rate     int
		want     int
		mismatch bool
		fails    bool
	}{
		{name: "mono at rate", data: pcmHeader(16000, 1, 100), rate: 16000, want: 100},
		{name: "any rate", data: pcmHeader(22050, 1, 12), rate: 0, want: 12},
		{name: "wrong rate", data: pcmHeader(44100, 1, 10), rate: 16000, mismatch: true},
		{name: "stereo", data: pcmHeader(16000, 2, 10), rate: 16000, mismatch: true},
		{name: "garbage", data: []byte("not a wav file"), rate: 16000, fails: true},
		{name: "empty", data: nil, rate: 16000, fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples, err := DecodeWAV(tt.data, tt.rate)
			switch {
			case tt.mismatch:
				if !errors.Is(err, ErrFormatMismatch) {
					t.Fatalf("err = %v, want ErrFormatMismatch", err)
				}
			case tt.fails:
				if err == nil {
					t.Fatal("expected error")
				}
			case err != nil:
				t.Fatalf("DecodeWAV: %v", err)
			case len(samples) != tt.want:
				t.Fatalf("got %d samples, want %d", len(samples), tt.want)
			}
		})
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	data, err := EncodeWAV(make([]float32, 50), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(data) != 44+100 {
		t.Fatalf("len = %d, want 144", len(data))
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("bad magic %q %q", data[:4], data[8:12])
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != Channels {
		t.Errorf("channels = %d", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != BitDepth {
		t.Errorf("bit depth = %d", got)
	}
	if _, err := EncodeWAV(nil, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestEncodeDecodeQuantization(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1, 1.5, -1.5}
	data, err := EncodeWAV(in, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	out, err := DecodeWAV(data, 8000)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d samples, want %d", len(out), len(in))
	}
	for i, v := range in {
		want := max(-1, min(1, v))
		if math.Abs(float64(out[i]-want)) > 2.0/32768 {
			t.Errorf("sample %d = %f, want %f", i, out[i], want)
		}
	}
}

func TestMemSeeker(t *testing.T) {
	var m memSeeker
	_, _ = m.Write([]byte("abcdef"))
	if _, err := m.Seek(2, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	_, _ = m.Write([]byte("XYZWV"))
	if string(m.data) != "abXYZWV" {
		t.Fatalf("data = %q", m.data)
	}
	if _, err := m.Seek(-1, io.SeekStart); err == nil {
		t.Error("expected error for negative offset")
	}
	if off, _ := m.Seek(0, io.SeekEnd); off != 7 {
		t.Errorf("end offset = %d, want 7", off)
	}
}

func TestWAVFileRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	if err := WriteWAVFile(path, []float32{0.25, -0.25, 1.5, -1.5}, 16000); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	info, err := ProbeFile(path)
	if err != nil {
		t.Fatalf("ProbeFile: %v", err)
	}
	if want := (Info{SampleRate: 16000, Channels: 1, BitDepth: 16, Frames: 4}); info != want {
		t.Fatalf("info = %+v, want %+v", info, want)
	}

	got, err := ReadWAVFile(path, 16000)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	for i, want := range []float32{0.25, -0.25, 1, -1} {
		if math.Abs(float64(got[i]-want)) > 2.0/32768 {
			t.Errorf("sample %d = %f, want %f", i, got[i], want)
		}
	}

	if _, err := ReadWAVFile(path, 24000); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("err = %v, want ErrFormatMismatch", err)
	}
	if _, err := ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav"), 0); err == nil {
		t.Error("expected error for missing file")
	}
}
