package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/narratorlabs/narrator-core/internal/pipeline"
	"github.com/narratorlabs/narrator-core/internal/prefs"
	"github.com/narratorlabs/narrator-core/internal/protocol"
	"github.com/narratorlabs/narrator-core/internal/speech"
	"github.com/narratorlabs/narrator-core/internal/synth"
	"github.com/narratorlabs/narrator-core/internal/voices"
)

// The HTTP surface speaks camelCase JSON; the bus keeps its own snake_case
// payloads in internal/protocol.

type speechRequest struct {
	RequestID string `json:"requestId"`
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxChars  int    `json:"maxChars"`
	Separate  bool   `json:"separate"`
	Validate  bool   `json:"validate"`
}

func (r speechRequest) toProtocol() protocol.SpeechRequest {
	return protocol.SpeechRequest{
		RequestID: r.RequestID,
		Text:      r.Text,
		Voice:     r.Voice,
		Model:     r.Model,
		Prompt:    r.Prompt,
		MaxChars:  r.MaxChars,
		Separate:  r.Separate,
		Validate:  r.Validate,
	}
}

type assetPayload struct {
	FileName    string `json:"fileName"`
	Format      string `json:"format"`
	AudioBase64 string `json:"audioBase64"`
}

type validationSummary struct {
	HasRepetition   bool     `json:"hasRepetition"`
	RepetitionScore float64  `json:"repetitionScore"`
	TranscribedText string   `json:"transcribedText,omitempty"`
	RepeatedPhrases []string `json:"repeatedPhrases,omitempty"`
}

type speechResponse struct {
	RequestID  string             `json:"requestId"`
	HistoryID  string             `json:"historyId,omitempty"`
	Assets     []assetPayload     `json:"assets"`
	Validation *validationSummary `json:"validation,omitempty"`
}

type errorResponse struct {
	Error    string `json:"error"`
	Chunk    int    `json:"chunk,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

type historyItem struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	CreatedAt  time.Time `json:"createdAt"`
	Prompt     string    `json:"prompt,omitempty"`
	Text       string    `json:"text,omitempty"`
	Format     string    `json:"format"`
	VoiceID    string    `json:"voiceId,omitempty"`
	VoiceLabel string    `json:"voiceLabel,omitempty"`
}

func (g *Gateway) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	resp, err := g.runSpeech(r.Context(), req, nil)
	if err != nil {
		g.writeSpeechError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runSpeech drives the pipeline for both the POST handler and the websocket
// stream, sharing the request merge and history rule with the bus service.
func (g *Gateway) runSpeech(ctx context.Context, req speechRequest, onProgress pipeline.ProgressFunc) (speechResponse, error) {
	wire := req.toProtocol()
	if wire.RequestID == "" {
		wire.RequestID = uuid.NewString()
	}

	preq, voiceID, voiceLabel := speech.BuildRequest(wire, g.prefs.Preferences(), g.catalog)
	result, err := g.pipe.Synthesize(ctx, preq, onProgress)
	if err != nil {
		return speechResponse{}, err
	}

	resp := speechResponse{
		RequestID: wire.RequestID,
		Assets:    make([]assetPayload, 0, len(result.Assets)),
	}
	for _, a := range result.Assets {
		resp.Assets = append(resp.Assets, assetPayload{
			FileName:    a.FileName,
			Format:      a.Format,
			AudioBase64: base64.StdEncoding.EncodeToString(a.Bytes),
		})
	}
	if result.Validation != nil {
		resp.Validation = &validationSummary{
			HasRepetition:   result.Validation.HasRepetition,
			RepetitionScore: result.Validation.RepetitionScore,
			TranscribedText: result.Validation.TranscribedText,
			RepeatedPhrases: result.Validation.RepeatedPhrases,
		}
	}

	if rec, ok := speech.HistoryRecord(result, wire.Text, preq.Prompt, voiceID, voiceLabel, time.Now()); ok {
		if err := g.hist.Append(ctx, rec); err != nil {
			g.log.Warn("failed to append history record", slogError(err))
		} else {
			resp.HistoryID = rec.ID
		}
	}
	return resp, nil
}

func (g *Gateway) writeSpeechError(w http.ResponseWriter, err error) {
	guidance := pipeline.Guidance(err)
	message := err.Error()
	if guidance != "" {
		message = guidance
	}
	g.notifier.Post("error", message)

	var cerr *pipeline.ChunkError
	switch {
	case errors.Is(err, pipeline.ErrEmptyInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, synth.ErrMissingCredential):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), Guidance: guidance})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Chunk: cerr.Index, Guidance: guidance})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Guidance: guidance})
	}
}

func (g *Gateway) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	records := g.hist.Records()
	items := make([]historyItem, 0, len(records))
	for _, rec := range records {
		items = append(items, historyItem{
			ID:         rec.ID,
			FileName:   rec.FileName,
			CreatedAt:  rec.CreatedAt,
			Prompt:     rec.Prompt,
			Text:       rec.Text,
			Format:     rec.Format,
			VoiceID:    rec.VoiceID,
			VoiceLabel: rec.VoiceLabel,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]historyItem{"history": items})
}

func (g *Gateway) handleHistoryAudio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := g.hist.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history entry not found"})
		return
	}
	path, ok := g.hist.HandlePath(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "audio no longer available"})
		return
	}

	w.Header().Set("Content-Type", contentType(rec.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", rec.FileName))
	http.ServeFile(w, r, path)
}

func (g *Gateway) handleHistoryRemove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := g.hist.Remove(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if err := g.hist.Clear(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handlePreferencesGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.prefs.Preferences())
}

func (g *Gateway) handlePreferencesPut(w http.ResponseWriter, r *http.Request) {
	var p prefs.Preferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := g.validatePreferences(p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := g.prefs.SavePreferences(r.Context(), p); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, g.prefs.Preferences())
}

func (g *Gateway) validatePreferences(p prefs.Preferences) error {
	if _, ok := g.catalog.Get(p.Voice); !ok {
		return fmt.Errorf("unknown voice %q", p.Voice)
	}
	switch p.Format {
	case "wav", "mp3":
	default:
		return fmt.Errorf("unsupported format %q", p.Format)
	}
	switch p.GenderFilter {
	case "", "all", "male", "female":
	default:
		return fmt.Errorf("unknown gender filter %q", p.GenderFilter)
	}
	if p.MaxChunkChars <= 0 {
		return errors.New("maxChunkChars must be positive")
	}
	if p.ValidationThreshold < 0 {
		return errors.New("validationThreshold must be >= 0")
	}
	return nil
}

func (g *Gateway) handlePresetsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"presets": g.prefs.Presets()})
}

func (g *Gateway) handlePresetsAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	presets, err := g.prefs.AddPreset(r.Context(), body.Text)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"presets": presets})
}

func (g *Gateway) handlePresetRemove(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid preset index"})
		return
	}
	presets, err := g.prefs.RemovePreset(r.Context(), index)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"presets": presets})
}

func (g *Gateway) handleVoices(w http.ResponseWriter, r *http.Request) {
	gender := r.URL.Query().Get("gender")
	writeJSON(w, http.StatusOK, map[string][]voices.Voice{"voices": g.catalog.Filter(gender)})
}

func contentType(format string) string {
	if format == "mp3" {
		return "audio/mpeg"
	}
	return "audio/wav"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
