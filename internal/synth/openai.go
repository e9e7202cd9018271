package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/narratorlabs/narrator-core/internal/config"
)

// openAISynth calls an OpenAI-compatible speech endpoint and asks for raw
// PCM, which arrives without any container to strip.
type openAISynth struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	Instructions   string `json:"instructions,omitempty"`
	ResponseFormat string `json:"response_format"`
}

func NewOpenAI(cfg config.SynthConfig) Synthesizer {
	timeout := time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &openAISynth{
		baseURL: strings.TrimRight(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *openAISynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if o.apiKey == "" {
		return nil, ErrMissingCredential
	}

	body, err := json.Marshal(speechRequest{
		Model:          req.Model,
		Input:          req.Text,
		Voice:          req.Voice,
		Instructions:   req.Prompt,
		ResponseFormat: "pcm",
	})
	if err != nil {
		return nil, fmt.Errorf("encode speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build speech request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("speech request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("speech response was empty")
	}
	return pcm, nil
}
