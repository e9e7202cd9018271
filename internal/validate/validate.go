// Package validate checks synthesized audio for repeated phrases through an
// external analysis service.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/narratorlabs/narrator-core/internal/config"
)

// ErrDisabled reports that no validation service is configured.
var ErrDisabled = errors.New("validation disabled")

// Report is the repetition analysis for one audio asset.
type Report struct {
	HasRepetition   bool     `json:"hasRepetition"`
	RepetitionScore float64  `json:"repetitionScore"`
	TranscribedText string   `json:"transcribedText,omitempty"`
	RepeatedPhrases []string `json:"repeatedPhrases,omitempty"`
}

// Validator analyzes one containerized audio asset. The threshold is the
// repetition score above which audio counts as degenerate.
type Validator interface {
	Check(ctx context.Context, audio []byte, threshold float64) (Report, error)
}

// New returns the HTTP validator when configured, otherwise a stub that
// reports ErrDisabled.
func New(cfg config.ValidationConfig) Validator {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return disabled{}
	}
	return &httpValidator{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type disabled struct{}

func (disabled) Check(ctx context.Context, audio []byte, threshold float64) (Report, error) {
	return Report{}, ErrDisabled
}

type httpValidator struct {
	endpoint string
	client   *http.Client
}

func (v *httpValidator) Check(ctx context.Context, audio []byte, threshold float64) (Report, error) {
	u, err := url.Parse(v.endpoint)
	if err != nil {
		return Report{}, fmt.Errorf("parse validation endpoint: %w", err)
	}
	q := u.Query()
	q.Set("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(audio))
	if err != nil {
		return Report{}, fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := v.client.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("validation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Report{}, fmt.Errorf("validation failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return Report{}, fmt.Errorf("decode validation report: %w", err)
	}
	return report, nil
}
