package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestContainerizeHeaderLayout(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	f := Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}

	out := Containerize(pcm, f)

	if len(out) != HeaderSize+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+len(pcm), len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[12:16]) != "fmt " || string(out[36:40]) != "data" {
		t.Fatalf("unexpected chunk magic in header %q", out[:44])
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff chunk size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint32(out[16:20]); got != 16 {
		t.Fatalf("fmt chunk size = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint16(out[20:22]); got != 1 {
		t.Fatalf("audio format = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 2 {
		t.Fatalf("channels = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 44100 {
		t.Fatalf("sample rate = %d, want 44100", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 176400 {
		t.Fatalf("byte rate = %d, want 176400", got)
	}
	if got := binary.LittleEndian.Uint16(out[32:34]); got != 4 {
		t.Fatalf("block align = %d, want 4", got)
	}
	if got := binary.LittleEndian.Uint16(out[34:36]); got != 16 {
		t.Fatalf("bits per sample = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(out[44:], pcm) {
		t.Fatal("payload does not match input pcm")
	}
}

func TestContainerizeDeterministic(t *testing.T) {
	pcm := pcmFromSamples([]int16{0, 512, -512, 128})
	a := Containerize(pcm, DefaultFormat())
	b := Containerize(pcm, DefaultFormat())
	if !bytes.Equal(a, b) {
		t.Fatal("identical input produced different containers")
	}
}

func TestRoundTrip(t *testing.T) {
	pcm := pcmFromSamples([]int16{100, -100, 200, -200, 300})
	out := Containerize(pcm, DefaultFormat())

	payload, f, err := ExtractPCM(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != DefaultFormat() {
		t.Fatalf("format = %+v, want %+v", f, DefaultFormat())
	}
	if !bytes.Equal(payload, pcm) {
		t.Fatal("payload changed through containerize round trip")
	}
}

func TestContainerizeDecodesWithReferenceDecoder(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768, 42}
	out := Containerize(pcmFromSamples(samples), DefaultFormat())

	d := gowav.NewDecoder(bytes.NewReader(out))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("reference decoder rejected container: %v", err)
	}
	if d.SampleRate != 24000 || d.NumChans != 1 || d.BitDepth != 16 {
		t.Fatalf("decoded format %d/%d/%d, want 24000/1/16", d.SampleRate, d.NumChans, d.BitDepth)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i, want := range samples {
		if buf.Data[i] != int(want) {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], want)
		}
	}
}

func TestExtractPCMReadsReferenceEncoderOutput(t *testing.T) {
	samples := []int16{12, -34, 5600, -7800}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 24000},
		SourceBitDepth: 16,
	}
	for _, s := range samples {
		buf.Data = append(buf.Data, int(s))
	}

	path := filepath.Join(t.TempDir(), "ref.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	enc := gowav.NewEncoder(f, 24000, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("reference encoder write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("reference encoder close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	payload, format, err := ExtractPCM(data)
	if err != nil {
		t.Fatalf("reference-encoded file rejected: %v", err)
	}
	if format.SampleRate != 24000 || format.Channels != 1 || format.BitsPerSample != 16 {
		t.Fatalf("format = %+v, want 24000/1/16", format)
	}
	if !bytes.Equal(payload, pcmFromSamples(samples)) {
		t.Fatal("payload differs from the encoded samples")
	}
}

func TestMerge(t *testing.T) {
	a := []byte{1, 2}
	b := []byte{3, 4, 5, 6}
	c := []byte{7, 8}

	merged := Merge([][]byte{a, nil, b, c})
	if len(merged) != len(a)+len(b)+len(c) {
		t.Fatalf("merged length = %d, want %d", len(merged), len(a)+len(b)+len(c))
	}
	if !bytes.Equal(merged, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("merged payload = %v", merged)
	}

	if got := Merge(nil); len(got) != 0 {
		t.Fatalf("merging nothing produced %d bytes", len(got))
	}
}

func TestExtractPCMSkipsOptionalChunks(t *testing.T) {
	pcm := []byte{9, 9, 8, 8}
	canonical := Containerize(pcm, DefaultFormat())

	// Rebuild the file with a LIST chunk between fmt and data. Odd payloads
	// get a trailing pad byte to keep the following chunk word aligned.
	withChunk := func(body []byte) []byte {
		var out bytes.Buffer
		out.Write(canonical[:36])
		out.WriteString("LIST")
		binary.Write(&out, binary.LittleEndian, uint32(len(body)))
		out.Write(body)
		if len(body)%2 == 1 {
			out.WriteByte(0)
		}
		out.Write(canonical[36:])
		data := out.Bytes()
		binary.LittleEndian.PutUint32(data[4:8], uint32(len(data)-8))
		return data
	}

	for name, data := range map[string][]byte{
		"even payload": withChunk([]byte("INFO")),
		"odd payload":  withChunk([]byte("INFOx")),
	} {
		payload, f, err := ExtractPCM(data)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if f.SampleRate != 24000 {
			t.Fatalf("%s: sample rate = %d, want 24000", name, f.SampleRate)
		}
		if !bytes.Equal(payload, pcm) {
			t.Fatalf("%s: payload does not survive the optional chunk", name)
		}
	}
}

func TestExtractPCMRejectsMalformed(t *testing.T) {
	valid := Containerize([]byte{1, 2, 3, 4}, DefaultFormat())

	badMagic := append([]byte{}, valid...)
	copy(badMagic[0:4], "RIFX")

	notPCM := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(notPCM[20:22], 3)

	truncated := append([]byte{}, valid...)
	binary.LittleEndian.PutUint32(truncated[40:44], 4096)

	cases := map[string][]byte{
		"short":          valid[:20],
		"bad magic":      badMagic,
		"not pcm":        notPCM,
		"truncated data": truncated,
	}
	for name, data := range cases {
		if _, _, err := ExtractPCM(data); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestDuration(t *testing.T) {
	f := DefaultFormat()
	if got := f.Duration(f.ByteRate()); got != time.Second {
		t.Fatalf("one byte-rate worth of audio = %v, want 1s", got)
	}
	if got := f.Duration(0); got != 0 {
		t.Fatalf("empty audio duration = %v, want 0", got)
	}
}
