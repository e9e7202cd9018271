// Package gateway exposes the narrator over HTTP for local clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/narratorlabs/narrator-core/internal/config"
	"github.com/narratorlabs/narrator-core/internal/history"
	"github.com/narratorlabs/narrator-core/internal/notify"
	"github.com/narratorlabs/narrator-core/internal/pipeline"
	"github.com/narratorlabs/narrator-core/internal/prefs"
	"github.com/narratorlabs/narrator-core/internal/voices"
)

type Gateway struct {
	cfg      config.GatewayConfig
	pipe     *pipeline.Orchestrator
	hist     *history.Store
	prefs    *prefs.Store
	catalog  *voices.Catalog
	notifier *notify.Notifier
	log      *slog.Logger

	server  *http.Server
	serving atomic.Bool
}

func New(cfg config.GatewayConfig, pipe *pipeline.Orchestrator, hist *history.Store, prefStore *prefs.Store, catalog *voices.Catalog, notifier *notify.Notifier, log *slog.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		pipe:     pipe,
		hist:     hist,
		prefs:    prefStore,
		catalog:  catalog,
		notifier: notifier,
		log:      log.With(slog.String("component", "gateway")),
	}
}

// Handler builds the routed and CORS-wrapped handler. Exposed so tests can
// drive the gateway through httptest without binding a port.
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(g.logRequests)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/speech", g.handleSpeech).Methods(http.MethodPost)
	v1.HandleFunc("/speech/stream", g.handleSpeechStream).Methods(http.MethodGet)
	v1.HandleFunc("/history", g.handleHistoryList).Methods(http.MethodGet)
	v1.HandleFunc("/history", g.handleHistoryClear).Methods(http.MethodDelete)
	v1.HandleFunc("/history/{id}/audio", g.handleHistoryAudio).Methods(http.MethodGet)
	v1.HandleFunc("/history/{id}", g.handleHistoryRemove).Methods(http.MethodDelete)
	v1.HandleFunc("/preferences", g.handlePreferencesGet).Methods(http.MethodGet)
	v1.HandleFunc("/preferences", g.handlePreferencesPut).Methods(http.MethodPut)
	v1.HandleFunc("/presets", g.handlePresetsList).Methods(http.MethodGet)
	v1.HandleFunc("/presets", g.handlePresetsAdd).Methods(http.MethodPost)
	v1.HandleFunc("/presets/{index}", g.handlePresetRemove).Methods(http.MethodDelete)
	v1.HandleFunc("/voices", g.handleVoices).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: g.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (g *Gateway) Start() error {
	if !g.cfg.Enabled {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", g.cfg.Bind, g.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen gateway: %w", err)
	}

	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.serving.Store(true)
	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("gateway server failed", slogError(err))
		}
		g.serving.Store(false)
	}()

	g.log.Info("gateway listening", slog.String("addr", addr))
	return nil
}

func (g *Gateway) Close(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) Healthy() bool {
	return !g.cfg.Enabled || g.serving.Load()
}

func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		g.log.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(started)))
	})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
