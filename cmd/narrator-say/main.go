package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/narratorlabs/narrator-core/internal/config"
	"github.com/narratorlabs/narrator-core/internal/pipeline"
	"github.com/narratorlabs/narrator-core/internal/synth"
	"github.com/narratorlabs/narrator-core/internal/validate"
	"github.com/narratorlabs/narrator-core/internal/wav"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		text        string
		textFile    string
		voice       string
		model       string
		prompt      string
		maxChars    int
		separate    bool
		outPath     string
		quiet       bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults and NARRATOR_* environment apply when omitted)")
	flag.StringVar(&text, "text", "", "Text to synthesize")
	flag.StringVar(&textFile, "file", "", "Read text from a file, - for stdin")
	flag.StringVar(&voice, "voice", "", "Voice id, overrides configuration")
	flag.StringVar(&model, "model", "", "Model name, overrides configuration")
	flag.StringVar(&prompt, "prompt", "", "Delivery instructions passed to the backend")
	flag.IntVar(&maxChars, "max-chars", 0, "Chunk character budget, overrides configuration")
	flag.BoolVar(&separate, "separate", false, "Write one file per chunk instead of a merged file")
	flag.StringVar(&outPath, "out", "out.wav", "Output file, or directory to place out.wav in")
	flag.BoolVar(&quiet, "quiet", false, "Suppress progress output")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if err := run(configPath, text, textFile, voice, model, prompt, maxChars, separate, outPath, quiet); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if hint := pipeline.Guidance(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}

func run(configPath, text, textFile, voice, model, prompt string, maxChars int, separate bool, outPath string, quiet bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	input, err := readInput(text, textFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	synthesizer, err := synth.New(ctx, cfg.Synth)
	if err != nil {
		return err
	}
	defer func() {
		if closer, ok := synthesizer.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	format := wav.Format{
		SampleRate:    cfg.Synth.SampleRate,
		Channels:      cfg.Synth.Channels,
		BitsPerSample: cfg.Synth.BitsPerSample,
	}
	pipe := pipeline.New(synthesizer, validate.New(cfg.Validation), format, logger)

	if voice == "" {
		voice = cfg.Synth.Voice
	}
	if model == "" {
		model = cfg.Synth.Model
	}
	if maxChars <= 0 {
		maxChars = cfg.Synth.MaxChunkChars
	}

	req := pipeline.Request{
		Text:      input,
		Voice:     voice,
		Model:     model,
		Prompt:    prompt,
		MaxChars:  maxChars,
		Separate:  separate,
		Validate:  cfg.Validation.Enabled,
		Threshold: cfg.Validation.Threshold,
	}

	var progress pipeline.ProgressFunc
	if !quiet {
		last := 0
		progress = func(current, total int) {
			// The pipeline reports every chunk twice, before and after the
			// backend call.
			if current == last {
				return
			}
			last = current
			fmt.Fprintf(os.Stderr, "chunk %d/%d\n", current, total)
		}
	}

	result, err := pipe.Synthesize(ctx, req, progress)
	if err != nil {
		return err
	}

	paths, err := writeAssets(result.Assets, outPath)
	if err != nil {
		return err
	}
	for i, path := range paths {
		asset := result.Assets[i]
		fmt.Printf("wrote %s (%d chunks, %s)\n", path, asset.Chunks, format.Duration(asset.PCMBytes).Round(time.Millisecond))
	}
	if result.Validation != nil {
		status := "clean"
		if result.Validation.HasRepetition {
			status = "repetition detected"
		}
		fmt.Printf("validation: %s (score %.2f)\n", status, result.Validation.RepetitionScore)
	}
	return nil
}

func readInput(text, textFile string) (string, error) {
	switch {
	case text != "":
		return text, nil
	case textFile == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case textFile != "":
		data, err := os.ReadFile(textFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", textFile, err)
		}
		return string(data), nil
	}
	return "", errors.New("provide -text or -file")
}

// writeAssets resolves the output location and writes every asset, returning
// the paths in asset order. A multi-asset run derives numbered names from the
// single output name.
func writeAssets(assets []pipeline.Asset, outPath string) ([]string, error) {
	dir := filepath.Dir(outPath)
	name := filepath.Base(outPath)
	if info, err := os.Stat(outPath); err == nil && info.IsDir() {
		dir = outPath
		name = "out.wav"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	if len(assets) == 1 {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, assets[0].Bytes, 0o644); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".wav"
	}
	stem := strings.TrimSuffix(name, ext)
	paths := make([]string, 0, len(assets))
	for i, asset := range assets {
		path := filepath.Join(dir, fmt.Sprintf("%s-%02d%s", stem, i+1, ext))
		if err := os.WriteFile(path, asset.Bytes, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
