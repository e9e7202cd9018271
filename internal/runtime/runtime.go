package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/narratorlabs/narrator-core/internal/bus"
	"github.com/narratorlabs/narrator-core/internal/config"
	"github.com/narratorlabs/narrator-core/internal/gateway"
	"github.com/narratorlabs/narrator-core/internal/history"
	"github.com/narratorlabs/narrator-core/internal/natsserver"
	"github.com/narratorlabs/narrator-core/internal/notify"
	"github.com/narratorlabs/narrator-core/internal/pipeline"
	"github.com/narratorlabs/narrator-core/internal/prefs"
	"github.com/narratorlabs/narrator-core/internal/presence"
	"github.com/narratorlabs/narrator-core/internal/speech"
	"github.com/narratorlabs/narrator-core/internal/storage"
	"github.com/narratorlabs/narrator-core/internal/synth"
	"github.com/narratorlabs/narrator-core/internal/validate"
	"github.com/narratorlabs/narrator-core/internal/voices"
	"github.com/narratorlabs/narrator-core/internal/wav"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	promServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	slot        storage.Slot
	hist        *history.Store
	prefs       *prefs.Store
	catalog     *voices.Catalog
	synthesizer synth.Synthesizer
	pipe        *pipeline.Orchestrator
	notifier    *notify.Notifier
	registry    *presence.Registry
	speechSvc   *speech.Service
	gw          *gateway.Gateway
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves until ctx is cancelled, then shuts the
// stack down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	r.natsServer = ns

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.busClient = busClient

	slot, err := storage.Open(ctx, r.cfg.Storage, r.logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	r.slot = slot

	hist, err := history.NewStore(slot, r.cfg.Storage.MediaDir, r.logger)
	if err != nil {
		return fmt.Errorf("create history store: %w", err)
	}
	if err := hist.Load(ctx); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	r.hist = hist

	prefStore := prefs.NewStore(slot, r.logger)
	if err := prefStore.Load(ctx); err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	r.prefs = prefStore

	r.catalog = voices.Builtin()

	synthesizer, err := synth.New(ctx, r.cfg.Synth)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}
	r.synthesizer = synthesizer

	format := wav.Format{
		SampleRate:    r.cfg.Synth.SampleRate,
		Channels:      r.cfg.Synth.Channels,
		BitsPerSample: r.cfg.Synth.BitsPerSample,
	}
	r.pipe = pipeline.New(synthesizer, validate.New(r.cfg.Validation), format, r.logger)

	r.notifier = notify.New(busClient.Conn(), r.logger)

	caps := map[string]string{
		"synth":      r.cfg.Synth.Mode,
		"voices":     strconv.Itoa(len(r.catalog.List())),
		"validation": "off",
	}
	if r.cfg.Validation.Enabled {
		caps["validation"] = "on"
	}
	registry, err := presence.NewRegistry(ctx, r.cfg.Node, caps, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("start presence registry: %w", err)
	}
	r.registry = registry

	speechSvc := speech.NewService(ctx, r.cfg.Speech, busClient, r.pipe, hist, prefStore, r.catalog, r.notifier, r.logger)
	if err := speechSvc.Start(); err != nil {
		return fmt.Errorf("start speech service: %w", err)
	}
	r.speechSvc = speechSvc

	gw := gateway.New(r.cfg.Gateway, r.pipe, hist, prefStore, r.catalog, r.notifier, r.logger)
	if err := gw.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	r.gw = gw

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/nodes", r.handleNodes)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", metricHandler)
		r.promServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           promMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synth_mode", r.cfg.Synth.Mode),
		slog.String("storage_driver", r.cfg.Storage.Driver))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := r.gw.Close(shutdownCtx); err != nil {
		r.logger.Error("gateway shutdown error", slog.String("error", err.Error()))
	}
	r.speechSvc.Close()
	r.registry.Close()
	r.notifier.Close()

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.promServer != nil {
		if err := r.promServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.busClient.Close()
	r.natsServer.Shutdown()

	if closer, ok := r.synthesizer.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("synthesizer close error", slog.String("error", err.Error()))
		}
	}
	if err := r.slot.Close(); err != nil {
		r.logger.Warn("storage close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.speechSvc.Healthy() && r.gw.Healthy() && r.registry.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleNodes(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(r.registry.Nodes())
}
