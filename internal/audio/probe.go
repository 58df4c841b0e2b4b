package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Engine input requirements: mono 16 kHz 16-bit PCM WAV.
const (
	targetSampleRate = 16000
	targetChannels   = 1
	targetBits       = 16
	wavFormatPCM     = 1
)

// Info describes an audio container without decoding it.
type Info struct {
	IsWAV         bool
	FormatTag     uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	Duration      float64
}

// Conformant reports whether the audio already matches the engine's
// required format and can skip normalization entirely.
func (i Info) Conformant() bool {
	return i.IsWAV &&
		i.FormatTag == wavFormatPCM &&
		i.Channels == targetChannels &&
		i.SampleRate == targetSampleRate &&
		i.BitsPerSample == targetBits
}

// Probe inspects the file header. Non-WAV containers are not an error:
// they come back with IsWAV false and force a conversion pass.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	return probeReader(f)
}

func probeReader(r io.Reader) (Info, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("read container header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Info{}, nil
	}

	info := Info{IsWAV: true}
	var byteRate uint32
	var dataSize uint32

	// Walk RIFF chunks until both fmt and data are seen.
	for {
		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break
		}
		chunkID := string(header[0:4])
		chunkSize := binary.LittleEndian.Uint32(header[4:8])
		// Chunks are word-aligned: odd-sized chunk data is followed by
		// a pad byte not counted in the chunk size.
		aligned := int64(chunkSize) + int64(chunkSize%2)

		switch chunkID {
		case "fmt ":
			var fmtChunk [16]byte
			if _, err := io.ReadFull(r, fmtChunk[:]); err != nil {
				return info, fmt.Errorf("read fmt chunk: %w", err)
			}
			info.FormatTag = binary.LittleEndian.Uint16(fmtChunk[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtChunk[14:16]))
			if rest := aligned - 16; rest > 0 {
				if _, err := io.CopyN(io.Discard, r, rest); err != nil {
					break
				}
			}
		case "data":
			dataSize = chunkSize
			if info.SampleRate == 0 {
				// fmt chunk not seen yet, skip the sample payload.
				if _, err := io.CopyN(io.Discard, r, aligned); err != nil {
					break
				}
			}
		default:
			if _, err := io.CopyN(io.Discard, r, aligned); err != nil {
				break
			}
		}

		if info.SampleRate != 0 && dataSize != 0 {
			break
		}
	}

	if byteRate > 0 && dataSize > 0 {
		info.Duration = float64(dataSize) / float64(byteRate)
	}
	return info, nil
}
