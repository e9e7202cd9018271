package synth

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	tts "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"

	"github.com/narratorlabs/narrator-core/internal/config"
	"github.com/narratorlabs/narrator-core/internal/wav"
)

// googleSynth uses Cloud Text-to-Speech. LINEAR16 responses arrive inside a
// WAV container, so the header is stripped before returning the PCM.
type googleSynth struct {
	client     *texttospeech.Client
	sampleRate int
}

// NewGoogle creates the API client with ambient credentials.
func NewGoogle(ctx context.Context, cfg config.SynthConfig) (Synthesizer, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create texttospeech client: %w", err)
	}
	return &googleSynth{client: client, sampleRate: cfg.SampleRate}, nil
}

func (g *googleSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	resp, err := g.client.SynthesizeSpeech(ctx, &tts.SynthesizeSpeechRequest{
		Input: &tts.SynthesisInput{
			InputSource: &tts.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &tts.VoiceSelectionParams{
			LanguageCode: languageCode(req.Voice),
			Name:         req.Voice,
		},
		AudioConfig: &tts.AudioConfig{
			AudioEncoding:   tts.AudioEncoding_LINEAR16,
			SampleRateHertz: int32(g.sampleRate),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}

	pcm, _, err := wav.ExtractPCM(resp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("strip linear16 container: %w", err)
	}
	return pcm, nil
}

// Close releases the underlying gRPC connection.
func (g *googleSynth) Close() error {
	return g.client.Close()
}

// languageCode derives "en-US" from voice names like "en-US-Neural2-F".
func languageCode(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 && len(parts[0]) == 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}
