package speech

import (
	"strings"
	"testing"
	"time"

	"github.com/narratorlabs/narrator-core/internal/pipeline"
	"github.com/narratorlabs/narrator-core/internal/prefs"
	"github.com/narratorlabs/narrator-core/internal/protocol"
	"github.com/narratorlabs/narrator-core/internal/voices"
)

func TestBuildRequestFallsBackToPreferences(t *testing.T) {
	p := prefs.Defaults()
	p.Voice = "onyx"
	p.Model = "tts-1"
	p.Prompt = "whisper"
	p.MaxChunkChars = 500
	p.ValidationEnabled = true
	p.ValidationThreshold = 3.0

	preq, voiceID, voiceLabel := BuildRequest(protocol.SpeechRequest{Text: "hi"}, p, voices.Builtin())
	if voiceID != "onyx" || voiceLabel != "Onyx" {
		t.Fatalf("voice = %q/%q", voiceID, voiceLabel)
	}
	if preq.Voice != "onyx" || preq.Model != "tts-1" || preq.Prompt != "whisper" {
		t.Fatalf("request = %+v", preq)
	}
	if preq.MaxChars != 500 {
		t.Fatalf("maxChars = %d", preq.MaxChars)
	}
	if preq.Separate {
		t.Fatal("merge preference should keep output merged")
	}
	if !preq.Validate || preq.Threshold != 3.0 {
		t.Fatalf("validation = %v/%v", preq.Validate, preq.Threshold)
	}
}

func TestBuildRequestExplicitFieldsWin(t *testing.T) {
	p := prefs.Defaults()
	p.Voice = "alloy"
	p.Merge = true

	req := protocol.SpeechRequest{
		Text:     "hi",
		Voice:    "Shimmer",
		Model:    "gpt-4o-mini-tts",
		Prompt:   "fast",
		MaxChars: 120,
		Separate: true,
	}
	preq, voiceID, voiceLabel := BuildRequest(req, p, voices.Builtin())
	if voiceID != "shimmer" || voiceLabel != "Shimmer" {
		t.Fatalf("voice = %q/%q", voiceID, voiceLabel)
	}
	if preq.Model != "gpt-4o-mini-tts" || preq.Prompt != "fast" || preq.MaxChars != 120 {
		t.Fatalf("request = %+v", preq)
	}
	if !preq.Separate {
		t.Fatal("explicit separate flag was dropped")
	}
}

func TestBuildRequestSeparateFromMergePreference(t *testing.T) {
	p := prefs.Defaults()
	p.Merge = false

	preq, _, _ := BuildRequest(protocol.SpeechRequest{Text: "hi"}, p, voices.Builtin())
	if !preq.Separate {
		t.Fatal("merge=false should request separate files")
	}
}

func TestBuildRequestUnknownVoicePassesThrough(t *testing.T) {
	preq, voiceID, voiceLabel := BuildRequest(
		protocol.SpeechRequest{Text: "hi", Voice: "qzxw-custom"},
		prefs.Defaults(), voices.Builtin(),
	)
	if voiceID != "qzxw-custom" || voiceLabel != "qzxw-custom" {
		t.Fatalf("voice = %q/%q", voiceID, voiceLabel)
	}
	if preq.Voice != "qzxw-custom" {
		t.Fatalf("request voice = %q", preq.Voice)
	}
}

func TestHistoryRecordSingleAsset(t *testing.T) {
	result := &pipeline.Result{Assets: []pipeline.Asset{
		{FileName: "speech.wav", Format: "wav", Bytes: []byte{1, 2, 3, 4}, Chunks: 3},
	}}
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	rec, ok := HistoryRecord(result, "hello there", "calm", "nova", "Nova", at)
	if !ok {
		t.Fatal("expected a record for a single-asset result")
	}
	if rec.ID == "" {
		t.Fatal("expected a generated id")
	}
	if rec.FileName != "speech-20260506-070809-nova.wav" {
		t.Fatalf("unexpected file name %q", rec.FileName)
	}
	if !rec.CreatedAt.Equal(at) {
		t.Fatalf("expected createdAt %v, got %v", at, rec.CreatedAt)
	}
	if rec.Text != "hello there" || rec.Prompt != "calm" {
		t.Fatalf("unexpected text/prompt: %+v", rec)
	}
	if rec.VoiceID != "nova" || rec.VoiceLabel != "Nova" {
		t.Fatalf("unexpected voice fields: %+v", rec)
	}
	if !strings.HasPrefix(rec.AudioBase64, "AQIDBA") {
		t.Fatalf("unexpected audio payload %q", rec.AudioBase64)
	}
}

func TestHistoryRecordSkipsSeparateRuns(t *testing.T) {
	result := &pipeline.Result{Assets: []pipeline.Asset{
		{FileName: "speech-01.wav", Format: "wav", Bytes: []byte{1}},
		{FileName: "speech-02.wav", Format: "wav", Bytes: []byte{2}},
	}}
	if _, ok := HistoryRecord(result, "x", "", "alloy", "Alloy", time.Now()); ok {
		t.Fatal("expected separate-file results to stay out of history")
	}
	if _, ok := HistoryRecord(nil, "x", "", "alloy", "Alloy", time.Now()); ok {
		t.Fatal("expected nil result to stay out of history")
	}
}
