package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// writeWAV builds a minimal RIFF/WAVE file for probing.
func writeWAV(t *testing.T, channels, sampleRate, bits int, dataBytes int) string {
	t.Helper()

	var buf bytes.Buffer
	byteRate := sampleRate * channels * bits / 8
	blockAlign := channels * bits / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataBytes))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bits))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataBytes))
	buf.Write(make([]byte, dataBytes))

	path := filepath.Join(t.TempDir(), "probe.wav")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

// TestProbeConformantWAV verifies mono 16k PCM is detected as ready.
func TestProbeConformantWAV(t *testing.T) {
	path := writeWAV(t, 1, 16000, 16, 32000)

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if !info.Conformant() {
		t.Fatalf("expected conformant, got %+v", info)
	}
	if info.Duration != 1.0 {
		t.Fatalf("duration = %v, want 1.0", info.Duration)
	}
}

// TestProbeStereoWAV verifies a stereo file requires conversion.
func TestProbeStereoWAV(t *testing.T) {
	path := writeWAV(t, 2, 44100, 16, 1024)

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if info.Conformant() {
		t.Fatal("stereo 44.1k should not be conformant")
	}
	if info.Channels != 2 || info.SampleRate != 44100 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

// TestProbeOddSizedChunk verifies the chunk walk honors RIFF word
// alignment: an odd-sized LIST chunk before fmt carries a pad byte
// that is not counted in its size.
func TestProbeOddSizedChunk(t *testing.T) {
	var buf bytes.Buffer
	dataBytes := 32000

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+16+dataBytes))
	buf.WriteString("WAVE")

	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(7))
	buf.Write([]byte("INFOart"))
	buf.WriteByte(0) // pad byte

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(16000))
	binary.Write(&buf, binary.LittleEndian, uint32(32000))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataBytes))
	buf.Write(make([]byte, dataBytes))

	path := filepath.Join(t.TempDir(), "listed.wav")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if !info.Conformant() {
		t.Fatalf("expected conformant, got %+v", info)
	}
	if info.Duration != 1.0 {
		t.Fatalf("duration = %v, want 1.0", info.Duration)
	}
}

// TestProbeNonWAVContainer verifies non-WAV input is not an error.
func TestProbeNonWAVContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("ID3\x04\x00 not a wav at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if info.IsWAV || info.Conformant() {
		t.Fatalf("expected non-wav, got %+v", info)
	}
}

// TestProbeMissingFile verifies open errors are surfaced.
func TestProbeMissingFile(t *testing.T) {
	if _, err := Probe(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
