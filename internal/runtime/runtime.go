// Package runtime assembles the configured components and owns their
// lifecycle: telemetry, engine, history, bus front-end, and the HTTP
// server.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kotobalabs/kokotts/internal/bus"
	"github.com/kotobalabs/kokotts/internal/config"
	"github.com/kotobalabs/kokotts/internal/engine"
	"github.com/kotobalabs/kokotts/internal/history"
	"github.com/kotobalabs/kokotts/internal/httpapi"
	"github.com/kotobalabs/kokotts/internal/natsserver"
	"github.com/kotobalabs/kokotts/internal/synthesis"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the service until ctx is cancelled, then shuts everything
// down in reverse construction order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	handle, err := r.buildEngine(ctx)
	if err != nil {
		return err
	}
	defer handle.Close()

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer hist.Close()

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	var busService *bus.Service
	if r.cfg.Bus.Enabled {
		if r.cfg.Bus.Embedded {
			embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
			if err != nil {
				return fmt.Errorf("failed to start embedded nats server: %w", err)
			}
			defer embedded.Shutdown()
		}
		busClient, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busClient.Close()

		session := synthesis.NewSession(handle, r.cfg.Synthesis, r.logger)
		busService = bus.NewService(ctx, busClient, session, r.logger)
		if err := busService.Start(); err != nil {
			return fmt.Errorf("failed to start bus service: %w", err)
		}
		defer busService.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	httpapi.New(r.cfg, handle, hist, r.logger).Register(mux)

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
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine_mode", r.cfg.Engine.Mode),
		slog.Bool("bus", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildEngine(ctx context.Context) (*engine.Handle, error) {
	var eng engine.Engine
	switch r.cfg.Engine.Mode {
	case "mock":
		eng = engine.NewMockEngine(r.cfg.Engine.SampleRate)
	case "exec":
		var err error
		eng, err = engine.NewExecEngine(r.cfg.Engine.Command, r.cfg.Engine.ModelID, r.cfg.Engine.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to build exec engine: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown engine mode %q", r.cfg.Engine.Mode)
	}

	handle := engine.NewHandle(eng, r.logger)
	if r.cfg.Engine.EagerLoad {
		loadCtx, cancel := context.WithTimeout(ctx,
			time.Duration(r.cfg.Engine.LoadTimeoutMS)*time.Millisecond)
		defer cancel()
		if err := handle.EnsureLoaded(loadCtx); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
		r.logger.Info("model loaded", slog.String("model", r.cfg.Engine.ModelID))
	}
	return handle, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
