// Package wav containerizes raw PCM audio as minimal RIFF/WAVE files.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// HeaderSize is the byte length of the canonical header emitted by Containerize.
const HeaderSize = 44

// ErrMalformed reports bytes that do not carry a minimal PCM WAV layout.
var ErrMalformed = errors.New("malformed wav data")

// Format describes raw PCM sample geometry.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat matches what the synthesis backends emit: 24 kHz mono 16-bit.
func DefaultFormat() Format {
	return Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

// BlockAlign returns the byte width of one sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the bytes consumed per second of playback.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the playback time of pcmLen bytes of raw audio.
func (f Format) Duration(pcmLen int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(pcmLen) * time.Second / time.Duration(rate)
}

// Containerize prepends a 44-byte RIFF/WAVE header to raw PCM bytes. The
// payload is not copied through any transform, so identical input always
// yields identical output.
func Containerize(pcm []byte, f Format) []byte {
	dataLen := len(pcm)
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+dataLen))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(f.ByteRate()))
	binary.Write(buf, binary.LittleEndian, uint16(f.BlockAlign()))
	binary.Write(buf, binary.LittleEndian, uint16(f.BitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)
	return buf.Bytes()
}

// Merge concatenates raw PCM buffers in order. There is no resampling and no
// inserted silence; callers must only merge buffers that share one format.
func Merge(buffers [][]byte) []byte {
	total := 0
	for _, b := range buffers {
		total += len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range buffers {
		out = append(out, b...)
	}
	return out
}

// ExtractPCM returns the sample payload and format of a PCM WAV file.
// Optional chunks between fmt and data are skipped; compressed encodings are
// rejected with ErrMalformed.
func ExtractPCM(data []byte) ([]byte, Format, error) {
	if len(data) < HeaderSize {
		return nil, Format{}, fmt.Errorf("%w: %d bytes is shorter than a header", ErrMalformed, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrMalformed)
	}
	if string(data[12:16]) != "fmt " {
		return nil, Format{}, fmt.Errorf("%w: fmt chunk not at offset 12", ErrMalformed)
	}
	fmtLen := int(binary.LittleEndian.Uint32(data[16:20]))
	if fmtLen < 16 || 20+fmtLen > len(data) {
		return nil, Format{}, fmt.Errorf("%w: fmt chunk length %d", ErrMalformed, fmtLen)
	}
	if audioFormat := binary.LittleEndian.Uint16(data[20:22]); audioFormat != 1 {
		return nil, Format{}, fmt.Errorf("%w: audio format %d is not PCM", ErrMalformed, audioFormat)
	}
	f := Format{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
	}

	off := 20 + fmtLen
	for {
		if off+8 > len(data) {
			return nil, Format{}, fmt.Errorf("%w: data chunk not found", ErrMalformed)
		}
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if size < 0 {
			return nil, Format{}, fmt.Errorf("%w: chunk %q declares negative size", ErrMalformed, id)
		}
		if id == "data" {
			if off+8+size > len(data) {
				return nil, Format{}, fmt.Errorf("%w: data chunk declares %d bytes, %d available", ErrMalformed, size, len(data)-off-8)
			}
			return data[off+8 : off+8+size], f, nil
		}
		// Chunks are word aligned; an odd payload carries a pad byte.
		if size%2 == 1 {
			size++
		}
		off += 8 + size
	}
}
