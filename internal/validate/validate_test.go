package validate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/narratorlabs/narrator-core/internal/config"
)

func TestDisabledValidator(t *testing.T) {
	v := New(config.ValidationConfig{Enabled: false})
	_, err := v.Check(context.Background(), []byte{1, 2}, 2.0)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	// Enabled without an endpoint is still disabled.
	v = New(config.ValidationConfig{Enabled: true})
	if _, err := v.Check(context.Background(), nil, 2.0); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestHTTPValidator(t *testing.T) {
	var gotThreshold, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotThreshold = r.URL.Query().Get("threshold")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"hasRepetition":true,"repetitionScore":3.5,"transcribedText":"the the the","repeatedPhrases":["the"]}`))
	}))
	defer server.Close()

	v := New(config.ValidationConfig{Enabled: true, Endpoint: server.URL})
	report, err := v.Check(context.Background(), []byte("RIFFfake"), 2.5)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.HasRepetition || report.RepetitionScore != 3.5 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.RepeatedPhrases) != 1 || report.RepeatedPhrases[0] != "the" {
		t.Fatalf("phrases = %v", report.RepeatedPhrases)
	}
	if gotThreshold != "2.5" {
		t.Fatalf("threshold = %q", gotThreshold)
	}
	if gotContentType != "audio/wav" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if string(gotBody) != "RIFFfake" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestHTTPValidatorFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no transcriber available", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	v := New(config.ValidationConfig{Enabled: true, Endpoint: server.URL})
	if _, err := v.Check(context.Background(), []byte{1}, 2.0); err == nil {
		t.Fatal("expected an error for a failing service")
	}
}
