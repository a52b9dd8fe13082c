package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Handle owns the one engine instance shared by the whole process.
//
// Loading happens at most once, on first demand; concurrent callers
// block until the load settles. A load failure is sticky: every
// subsequent call fails with ErrModelUnavailable until Reload. All
// Synthesize calls are serialized through a single mutex because the
// underlying engine is not safe for concurrent inference and may carry
// prosodic state across consecutive calls.
type Handle struct {
	eng Engine
	log *slog.Logger

	mu      sync.Mutex
	loaded  bool
	loadErr error

	queueWait metric.Float64Histogram
}

func NewHandle(eng Engine, log *slog.Logger) *Handle {
	h := &Handle{
		eng: eng,
		log: log.With(slog.String("component", "engine-handle")),
	}
	meter := otel.Meter("kokotts.engine")
	if hist, err := meter.Float64Histogram("engine.queue_wait_seconds",
		metric.WithDescription("Time spent waiting for the serialized engine gate"),
		metric.WithUnit("s")); err == nil {
		h.queueWait = hist
	}
	return h
}

// EnsureLoaded loads the engine if it has not been loaded yet.
func (h *Handle) EnsureLoaded(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ensureLoadedLocked(ctx)
}

func (h *Handle) ensureLoadedLocked(ctx context.Context) error {
	if h.loaded {
		return nil
	}
	if h.loadErr != nil {
		return fmt.Errorf("%w: %s", ErrModelUnavailable, h.loadErr)
	}
	start := time.Now()
	h.log.Info("loading engine")
	if err := h.eng.Load(ctx); err != nil {
		h.loadErr = err
		h.log.Error("engine load failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %s", ErrModelUnavailable, err)
	}
	h.loaded = true
	h.log.Info("engine loaded", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// Reload clears a sticky load failure and loads the engine again. The
// previous engine instance is closed first if it had loaded.
func (h *Handle) Reload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		if err := h.eng.Close(); err != nil {
			h.log.Warn("closing engine before reload", slog.String("error", err.Error()))
		}
	}
	h.loaded = false
	h.loadErr = nil
	return h.ensureLoadedLocked(ctx)
}

// Synthesize runs one engine call. Calls from all requests queue on the
// handle mutex; within a request the caller is responsible for issuing
// segments in index order.
func (h *Handle) Synthesize(ctx context.Context, req SegmentRequest) (AudioChunk, error) {
	waitStart := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.queueWait != nil {
		h.queueWait.Record(ctx, time.Since(waitStart).Seconds())
	}

	if err := h.ensureLoadedLocked(ctx); err != nil {
		return AudioChunk{}, err
	}
	return h.eng.Synthesize(ctx, req)
}

// Close releases the engine if it was loaded.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return nil
	}
	h.loaded = false
	return h.eng.Close()
}
