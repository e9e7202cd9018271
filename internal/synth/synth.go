// Package synth turns text into raw PCM audio through pluggable backends.
package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/narratorlabs/narrator-core/internal/config"
)

// ErrMissingCredential reports a backend that needs an API key and has none.
// It propagates to callers unwrapped so they can prompt for configuration
// instead of retrying.
var ErrMissingCredential = errors.New("synthesis credential not configured")

// Request carries one chunk of text to voice.
type Request struct {
	Text   string
	Voice  string
	Model  string
	Prompt string
}

// Synthesizer produces the complete PCM buffer for one request. Buffers use
// the sample geometry the backend was configured with.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// New builds the backend selected by cfg.Mode.
func New(ctx context.Context, cfg config.SynthConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(cfg.Channels), nil
	case "exec":
		return NewExec(cfg)
	case "openai":
		return NewOpenAI(cfg), nil
	case "google":
		return NewGoogle(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown synth mode %q", cfg.Mode)
	}
}
