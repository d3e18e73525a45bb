package media

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	samples := make([]int16, SampleRate/2) // 500ms ramp
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := WriteWAVFile(path, samples, SampleRate); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	buf, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if buf.Rate != SampleRate {
		t.Errorf("Rate = %d, want %d", buf.Rate, SampleRate)
	}
	if len(buf.Samples) != len(samples) {
		t.Fatalf("sample count = %d, want %d", len(buf.Samples), len(samples))
	}
	for i := 0; i < len(samples); i += 997 {
		if buf.Samples[i] != samples[i] {
			t.Fatalf("sample[%d] = %d, want %d", i, buf.Samples[i], samples[i])
		}
	}
}

func TestEncodeWAVBytes(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768}
	data, err := EncodeWAVBytes(samples, SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAVBytes: %v", err)
	}
	if len(data) < 44 {
		t.Fatalf("encoded size = %d, want at least a RIFF header", len(data))
	}

	buf, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(buf.Samples) != len(samples) {
		t.Fatalf("sample count = %d, want %d", len(buf.Samples), len(samples))
	}
	for i, want := range samples {
		if buf.Samples[i] != want {
			t.Errorf("sample[%d] = %d, want %d", i, buf.Samples[i], want)
		}
	}
}

func TestDecodeWAV_Garbage(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("definitely not audio"))); err == nil {
		t.Error("DecodeWAV on garbage should fail")
	}
}

func TestReadWAVFile_Missing(t *testing.T) {
	if _, err := ReadWAVFile(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("ReadWAVFile on missing file should fail")
	}
}

func TestWriteWAVFile_BadDir(t *testing.T) {
	err := WriteWAVFile(filepath.Join(t.TempDir(), "missing", "deep", "x.wav"), []int16{1, 2, 3}, SampleRate)
	if err == nil {
		t.Error("WriteWAVFile into missing directory should fail")
	}
}

// wavBytes encodes samples and returns the raw file contents, for tests that
// feed WAV data through byte-oriented paths.
func wavBytes(t *testing.T, samples []int16, rate int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enc.wav")
	if err := WriteWAVFile(path, samples, rate); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return data
}
