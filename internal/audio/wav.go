package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
)

// WAVEngine handles RIFF/PCM files natively. It avoids the ffmpeg dependency
// for WAV-emitting providers and keeps tests runnable without external tools.
type WAVEngine struct{}

// Format describes the PCM layout of a WAV stream.
type Format struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
}

func (f Format) bytesPerSecond() int {
	return int(f.SampleRate) * int(f.Channels) * int(f.BitsPerSample) / 8
}

// Concat merges PCM payloads of the inputs into a single WAV at output.
// All inputs must share sample rate, channel count, and bit depth.
func (e *WAVEngine) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}

	var format Format
	var pcm []byte

	for i, path := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		f, payload, err := DecodeWAV(data)
		if err != nil {
			return &EncodingError{Path: path, Err: err}
		}
		if i == 0 {
			format = f
		} else if f != format {
			return &EncodingError{Path: path,
				Err: fmt.Errorf("format mismatch: got %dHz/%dch/%dbit, expected %dHz/%dch/%dbit",
					f.SampleRate, f.Channels, f.BitsPerSample,
					format.SampleRate, format.Channels, format.BitsPerSample)}
		}
		pcm = append(pcm, payload...)
	}

	return os.WriteFile(output, EncodeWAV(format, pcm), 0644)
}

// Probe returns the duration of the WAV file at path in seconds.
func (e *WAVEngine) Probe(ctx context.Context, path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}
	d, err := WAVDuration(data)
	if err != nil {
		return 0, &EncodingError{Path: path, Err: err}
	}
	return d, nil
}

// WAVDuration computes the playback length of an in-memory WAV stream.
func WAVDuration(data []byte) (float64, error) {
	format, pcm, err := DecodeWAV(data)
	if err != nil {
		return 0, err
	}
	bps := format.bytesPerSecond()
	if bps == 0 {
		return 0, fmt.Errorf("wav header reports zero byte rate")
	}
	return float64(len(pcm)) / float64(bps), nil
}

// DecodeWAV parses a RIFF/WAVE stream and returns its format and raw PCM
// payload. Only uncompressed PCM (format tag 1) is supported.
func DecodeWAV(data []byte) (Format, []byte, error) {
	var format Format
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return format, nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var pcm []byte
	sawFmt := false

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(data) {
			return format, nil, fmt.Errorf("truncated %q chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return format, nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return format, nil, fmt.Errorf("unsupported wav format tag %d, only PCM is supported", audioFormat)
			}
			format.Channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			format.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			format.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			sawFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// chunks are word aligned
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if !sawFmt {
		return format, nil, fmt.Errorf("missing fmt chunk")
	}
	if pcm == nil {
		return format, nil, fmt.Errorf("missing data chunk")
	}
	return format, pcm, nil
}

// EncodeWAV builds a canonical 44-byte-header WAV stream around pcm.
func EncodeWAV(format Format, pcm []byte) []byte {
	blockAlign := int(format.Channels) * int(format.BitsPerSample) / 8
	byteRate := int(format.SampleRate) * blockAlign

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, format.Channels)
	binary.Write(&buf, binary.LittleEndian, format.SampleRate)
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, format.BitsPerSample)

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// EncodeSilence produces a mono 16-bit PCM WAV of silence lasting the given
// number of seconds.
func EncodeSilence(seconds float64, sampleRate uint32) []byte {
	format := Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
	samples := int(seconds * float64(sampleRate))
	if samples < 0 {
		samples = 0
	}
	return EncodeWAV(format, make([]byte, samples*2))
}
