// Package speech handles synthesis requests arriving on the bus.
package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/narratorlabs/narrator-core/internal/bus"
	"github.com/narratorlabs/narrator-core/internal/config"
	"github.com/narratorlabs/narrator-core/internal/history"
	"github.com/narratorlabs/narrator-core/internal/notify"
	"github.com/narratorlabs/narrator-core/internal/pipeline"
	"github.com/narratorlabs/narrator-core/internal/prefs"
	"github.com/narratorlabs/narrator-core/internal/protocol"
	"github.com/narratorlabs/narrator-core/internal/voices"
)

type Service struct {
	cfg      config.SpeechConfig
	bus      *bus.Client
	pipe     *pipeline.Orchestrator
	hist     *history.Store
	prefs    *prefs.Store
	catalog  *voices.Catalog
	notifier *notify.Notifier
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
	clock    func() time.Time
}

func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, pipe *pipeline.Orchestrator, hist *history.Store, prefStore *prefs.Store, catalog *voices.Catalog, notifier *notify.Notifier, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		pipe:     pipe,
		hist:     hist,
		prefs:    prefStore,
		catalog:  catalog,
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "speech-service")),
		clock:    time.Now,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeechRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SpeechRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speech request", slogError(err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(req)
	}()
}

// process runs one request end to end. Concurrent requests queue on the
// orchestrator's run lock, so their progress streams never interleave.
func (s *Service) process(req protocol.SpeechRequest) {
	preq, voiceID, voiceLabel := BuildRequest(req, s.prefs.Preferences(), s.catalog)

	result, err := s.pipe.Synthesize(s.ctx, preq, func(current, total int) {
		s.publishProgress(req.RequestID, current, total, "synthesizing")
	})
	if err != nil {
		s.completeError(req, err)
		return
	}

	total := 0
	for _, a := range result.Assets {
		total += a.Chunks
	}
	s.publishProgress(req.RequestID, total, total, "assembling")

	complete := protocol.SpeechComplete{
		RequestID: req.RequestID,
		Assets:    make([]protocol.AssetPayload, 0, len(result.Assets)),
		Timestamp: s.clock().UTC(),
	}
	for _, a := range result.Assets {
		complete.Assets = append(complete.Assets, protocol.AssetPayload{
			FileName:    a.FileName,
			Format:      a.Format,
			AudioBase64: base64.StdEncoding.EncodeToString(a.Bytes),
		})
	}
	if result.Validation != nil {
		complete.Validation = &protocol.ValidationSummary{
			HasRepetition:   result.Validation.HasRepetition,
			RepetitionScore: result.Validation.RepetitionScore,
			TranscribedText: result.Validation.TranscribedText,
			RepeatedPhrases: result.Validation.RepeatedPhrases,
		}
	}

	if rec, ok := HistoryRecord(result, req.Text, preq.Prompt, voiceID, voiceLabel, s.clock()); ok {
		if err := s.hist.Append(s.ctx, rec); err != nil {
			s.logger.Warn("failed to append history record", slogError(err))
		} else {
			complete.HistoryID = rec.ID
		}
	}

	s.publishComplete(complete)
}

func (s *Service) completeError(req protocol.SpeechRequest, err error) {
	guidance := pipeline.Guidance(err)
	s.logger.Error("speech request failed", slog.String("request_id", req.RequestID), slogError(err))

	message := err.Error()
	if guidance != "" {
		message = guidance
	}
	s.notifier.Post("error", message)

	s.publishComplete(protocol.SpeechComplete{
		RequestID: req.RequestID,
		Error:     err.Error(),
		Guidance:  guidance,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) publishProgress(requestID string, current, total int, stage string) {
	evt := protocol.SpeechProgress{
		RequestID: requestID,
		Current:   current,
		Total:     total,
		Stage:     stage,
		Timestamp: s.clock().UTC(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Warn("failed to marshal progress event", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.ProgressSubject(requestID), data); err != nil {
		s.logger.Warn("failed to publish progress event", slogError(err))
	}
}

func (s *Service) publishComplete(msg protocol.SpeechComplete) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal completion", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.CompleteSubject(msg.RequestID), data); err != nil {
		s.logger.Warn("failed to publish completion", slogError(err))
	}
}

// BuildRequest merges a wire request with the stored preferences and resolves
// the voice through the catalog. Explicit request fields win; blanks fall
// back to what the user saved.
func BuildRequest(req protocol.SpeechRequest, p prefs.Preferences, catalog *voices.Catalog) (pipeline.Request, string, string) {
	voiceID, voiceLabel := resolveVoice(catalog, firstNonEmpty(req.Voice, p.Voice))

	preq := pipeline.Request{
		Text:      req.Text,
		Voice:     voiceID,
		Model:     firstNonEmpty(req.Model, p.Model),
		Prompt:    firstNonEmpty(req.Prompt, p.Prompt),
		MaxChars:  req.MaxChars,
		Separate:  req.Separate || !p.Merge,
		Validate:  req.Validate || p.ValidationEnabled,
		Threshold: p.ValidationThreshold,
	}
	if preq.MaxChars <= 0 {
		preq.MaxChars = p.MaxChunkChars
	}
	return preq, voiceID, voiceLabel
}

func resolveVoice(catalog *voices.Catalog, name string) (id, label string) {
	if v, ok := catalog.Resolve(name); ok {
		return v.ID, v.Label
	}
	// Unknown names pass through; the backend decides whether it knows them.
	return name, name
}

// HistoryRecord builds the persisted record for a finished run. Only runs
// that produced a single asset enter history; separate-file runs return
// ok=false and stay out.
func HistoryRecord(result *pipeline.Result, text, prompt, voiceID, voiceLabel string, at time.Time) (history.Record, bool) {
	if result == nil || len(result.Assets) != 1 {
		return history.Record{}, false
	}
	asset := result.Assets[0]
	return history.Record{
		ID:          uuid.NewString(),
		FileName:    fmt.Sprintf("speech-%s-%s.%s", at.UTC().Format("20060102-150405"), voiceID, asset.Format),
		CreatedAt:   at.UTC(),
		Prompt:      prompt,
		Text:        text,
		Format:      asset.Format,
		VoiceID:     voiceID,
		VoiceLabel:  voiceLabel,
		AudioBase64: base64.StdEncoding.EncodeToString(asset.Bytes),
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
