// Package pipeline drives text through chunking, synthesis and assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/narratorlabs/narrator-core/internal/chunker"
	"github.com/narratorlabs/narrator-core/internal/synth"
	"github.com/narratorlabs/narrator-core/internal/validate"
	"github.com/narratorlabs/narrator-core/internal/wav"
)

// ErrEmptyInput reports text that produced no synthesizable chunks.
var ErrEmptyInput = errors.New("no text to synthesize")

// ChunkError reports the first failed synthesis call. Index is 1-based.
type ChunkError struct {
	Index int
	Total int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("synthesize chunk %d/%d: %v", e.Index, e.Total, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// ProgressFunc receives the chunk counter immediately before and immediately
// after every synthesis call.
type ProgressFunc func(current, total int)

// Request describes one synthesis run.
type Request struct {
	Text      string
	Voice     string
	Model     string
	Prompt    string
	MaxChars  int
	Separate  bool // one asset per chunk instead of a single merged file
	Validate  bool
	Threshold float64
}

// Asset is one finished audio file.
type Asset struct {
	FileName string
	Format   string
	Bytes    []byte
	PCMBytes int
	Chunks   int
}

// Result carries the finished assets and, when requested, the validation
// report for a merged run.
type Result struct {
	Assets     []Asset
	Validation *validate.Report
}

// Orchestrator runs requests strictly sequentially: chunks are synthesized
// one at a time, in order, aborting on the first failure. Concurrent
// Synthesize calls queue on an internal mutex so progress streams never
// interleave.
type Orchestrator struct {
	synth     synth.Synthesizer
	validator validate.Validator
	format    wav.Format
	log       *slog.Logger
	tracer    trace.Tracer
	runMu     sync.Mutex

	chunkCounter metric.Int64Counter
	chunkLatency metric.Float64Histogram
}

func New(s synth.Synthesizer, v validate.Validator, f wav.Format, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		synth:     s,
		validator: v,
		format:    f,
		log:       log.With(slog.String("component", "pipeline")),
		tracer:    otel.Tracer("github.com/narratorlabs/narrator-core/internal/pipeline"),
	}
	o.initMetrics()
	return o
}

func (o *Orchestrator) initMetrics() {
	meter := otel.Meter("github.com/narratorlabs/narrator-core/internal/pipeline")

	var err error
	o.chunkCounter, err = meter.Int64Counter("narrator.pipeline.chunks",
		metric.WithDescription("Chunks synthesized"))
	if err != nil {
		o.log.Warn("failed to register chunk counter", slogError(err))
	}
	o.chunkLatency, err = meter.Float64Histogram("narrator.pipeline.chunk_duration_ms",
		metric.WithDescription("Synthesis latency per chunk"),
		metric.WithUnit("ms"))
	if err != nil {
		o.log.Warn("failed to register chunk histogram", slogError(err))
	}
}

// Synthesize runs one request to completion. onProgress may be nil.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	chunks := chunker.Split(req.Text, req.MaxChars)
	if len(chunks) == 0 {
		return nil, ErrEmptyInput
	}
	if onProgress == nil {
		onProgress = func(int, int) {}
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.synthesize", trace.WithAttributes(
		attribute.Int("chunks", len(chunks)),
		attribute.String("voice", req.Voice),
		attribute.Bool("separate", req.Separate),
	))
	defer span.End()

	total := len(chunks)
	started := time.Now()
	buffers := make([][]byte, 0, total)
	for i, chunk := range chunks {
		current := i + 1
		onProgress(current, total)
		pcm, err := o.synthesizeChunk(ctx, req, chunk, current, total)
		onProgress(current, total)
		if err != nil {
			span.RecordError(err)
			if errors.Is(err, synth.ErrMissingCredential) {
				return nil, err
			}
			return nil, &ChunkError{Index: current, Total: total, Err: err}
		}
		buffers = append(buffers, pcm)
	}

	var assets []Asset
	if req.Separate && total > 1 {
		assets = make([]Asset, 0, total)
		for i, pcm := range buffers {
			assets = append(assets, Asset{
				FileName: fmt.Sprintf("speech-%02d.wav", i+1),
				Format:   "wav",
				Bytes:    wav.Containerize(pcm, o.format),
				PCMBytes: len(pcm),
				Chunks:   1,
			})
		}
	} else {
		pcm := wav.Merge(buffers)
		assets = []Asset{{
			FileName: "speech.wav",
			Format:   "wav",
			Bytes:    wav.Containerize(pcm, o.format),
			PCMBytes: len(pcm),
			Chunks:   total,
		}}
	}

	result := &Result{Assets: assets}
	if req.Validate && len(assets) == 1 {
		report, err := o.validator.Check(ctx, assets[0].Bytes, req.Threshold)
		switch {
		case err == nil:
			result.Validation = &report
		case errors.Is(err, validate.ErrDisabled):
			// nothing to attach
		default:
			o.log.Warn("validation check failed", slogError(err))
		}
	}

	o.log.Info("synthesis finished",
		slog.Int("chunks", total),
		slog.Int("assets", len(assets)),
		slog.Duration("elapsed", time.Since(started)),
		slog.Duration("audio", o.format.Duration(pcmTotal(buffers))))
	return result, nil
}

func (o *Orchestrator) synthesizeChunk(ctx context.Context, req Request, text string, current, total int) ([]byte, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.chunk", trace.WithAttributes(
		attribute.Int("index", current),
		attribute.Int("chars", len(text)),
	))
	defer span.End()

	started := time.Now()
	pcm, err := o.synth.Synthesize(ctx, synth.Request{
		Text:   text,
		Voice:  req.Voice,
		Model:  req.Model,
		Prompt: req.Prompt,
	})
	if o.chunkLatency != nil {
		o.chunkLatency.Record(ctx, float64(time.Since(started).Milliseconds()))
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if align := o.format.BlockAlign(); len(pcm)%align != 0 {
		return nil, fmt.Errorf("backend returned %d bytes, not aligned to %d-byte frames", len(pcm), align)
	}
	if o.chunkCounter != nil {
		o.chunkCounter.Add(ctx, 1)
	}
	o.log.Debug("chunk synthesized",
		slog.Int("index", current),
		slog.Int("of", total),
		slog.Int("pcm_bytes", len(pcm)))
	return pcm, nil
}

func pcmTotal(buffers [][]byte) int {
	total := 0
	for _, b := range buffers {
		total += len(b)
	}
	return total
}

// Guidance maps well-known upstream failure text to a one-line operator hint.
// It returns "" when there is nothing useful to say.
func Guidance(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, synth.ErrMissingCredential) {
		return "Configure an API key for the synthesis backend before retrying."
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient_quota") || strings.Contains(msg, "quota"):
		return "The synthesis account is out of quota. Check billing for the backend."
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "status 429"):
		return "The backend is rate limiting requests. Wait a moment and retry."
	case strings.Contains(msg, "invalid_api_key") || strings.Contains(msg, "incorrect api key") || strings.Contains(msg, "status 401"):
		return "The configured API key was rejected. Check the credential."
	case strings.Contains(msg, "model_not_found") || strings.Contains(msg, "does not exist"):
		return "The requested model is unknown to the backend. Pick another model."
	case strings.Contains(msg, "string_above_max_length") || strings.Contains(msg, "too long"):
		return "A chunk exceeded the backend limit. Lower the chunk character budget."
	}
	return ""
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
