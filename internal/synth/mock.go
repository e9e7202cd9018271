package synth

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"strings"
)

// framesPerChar sizes mock output so longer text yields longer audio.
const framesPerChar = 40

type mockSynth struct {
	channels int
}

// NewMock returns a synthesizer that fabricates deterministic 16-bit audio
// without touching the network. Identical requests produce identical buffers.
func NewMock(channels int) Synthesizer {
	if channels <= 0 {
		channels = 1
	}
	return &mockSynth{channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("empty text")
	}

	h := fnv.New32a()
	h.Write([]byte(req.Voice))
	h.Write([]byte{0})
	h.Write([]byte(req.Text))
	seed := h.Sum32()

	frames := len(req.Text) * framesPerChar
	pcm := make([]byte, frames*m.channels*2)
	for i := 0; i < frames; i++ {
		sample := int16((seed+uint32(i)*2654435761)%8192) - 4096
		for c := 0; c < m.channels; c++ {
			binary.LittleEndian.PutUint16(pcm[(i*m.channels+c)*2:], uint16(sample))
		}
	}
	return pcm, nil
}
