// Package httpapi exposes the synthesis engine over HTTP: WAV
// download, local playback, catalog lookups, and request history.
package httpapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kotobalabs/kokotts/internal/config"
	"github.com/kotobalabs/kokotts/internal/engine"
	"github.com/kotobalabs/kokotts/internal/history"
	"github.com/kotobalabs/kokotts/internal/sink"
	"github.com/kotobalabs/kokotts/internal/synthesis"
	"github.com/kotobalabs/kokotts/internal/voices"
)

//go:embed web/index.html
var indexHTML []byte

// synthesizeRequest is the JSON body of POST /tts and
// POST /tts/stream-play. "speaker" is an accepted alias for "voice".
type synthesizeRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	Speaker  string  `json:"speaker"`
	Language string  `json:"language"`
	Instruct string  `json:"instruct"`
	Speed    float64 `json:"speed"`
}

type playResponse struct {
	Status         string  `json:"status"`
	Chunks         int     `json:"chunks"`
	GenerationTime float64 `json:"generation_time"`
	AudioDuration  float64 `json:"audio_duration"`
	RTF            float64 `json:"rtf"`
}

// Server handles the public HTTP surface.
type Server struct {
	cfg     config.Config
	handle  *engine.Handle
	session *synthesis.Session
	history *history.Store
	log     *slog.Logger

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func New(cfg config.Config, handle *engine.Handle, hist *history.Store, log *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		handle:  handle,
		session: synthesis.NewSession(handle, cfg.Synthesis, log),
		history: hist,
		log:     log.With(slog.String("component", "httpapi")),
	}
	meter := otel.Meter("kokotts.http")
	if requests, err := meter.Int64Counter("http.requests_total",
		metric.WithDescription("HTTP requests by endpoint and status")); err == nil {
		s.requests = requests
	}
	if duration, err := meter.Float64Histogram("http.request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s")); err == nil {
		s.duration = duration
	}
	return s
}

// Register installs all API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /tts", s.instrument("/tts", s.handleSynthesize))
	mux.HandleFunc("POST /tts/stream-play", s.instrument("/tts/stream-play", s.handleStreamPlay))
	mux.HandleFunc("GET /voices", s.instrument("/voices", s.handleVoices))
	mux.HandleFunc("GET /speakers", s.instrument("/speakers", s.handleSpeakers))
	mux.HandleFunc("GET /history", s.instrument("/history", s.handleHistory))
	mux.HandleFunc("POST /engine/reload", s.instrument("/engine/reload", s.handleReload))
	mux.HandleFunc("GET /{$}", s.handleIndex)
}

// instrument wraps a handler with request counting and latency metrics.
func (s *Server) instrument(endpoint string, next func(http.ResponseWriter, *http.Request) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := next(w, r)
		attrs := metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.Int("status", status),
		)
		if s.requests != nil {
			s.requests.Add(r.Context(), 1, attrs)
		}
		if s.duration != nil {
			s.duration.Record(r.Context(), time.Since(start).Seconds(), attrs)
		}
	}
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) int {
	req, status := s.decodeRequest(w, r)
	if status != 0 {
		return status
	}

	out := sink.NewFileSink()
	result, err := s.session.Run(r.Context(), req, out)
	s.record(r.Context(), "http", req, result, err)
	if err != nil {
		return s.writeSynthesisError(w, err)
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Bytes())))
	setStatsHeaders(w, result.Stats)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Bytes()); err != nil {
		s.log.Warn("write wav response", slog.String("error", err.Error()))
	}
	return http.StatusOK
}

func (s *Server) handleStreamPlay(w http.ResponseWriter, r *http.Request) int {
	req, status := s.decodeRequest(w, r)
	if status != 0 {
		return status
	}

	if !s.cfg.Playback.Enabled {
		writeError(w, http.StatusServiceUnavailable, "audio playback is disabled on this server")
		return http.StatusServiceUnavailable
	}

	// Reject bad requests before claiming the output device.
	if err := s.session.Validate(req); err != nil {
		return s.writeSynthesisError(w, err)
	}

	out, err := sink.NewPlaybackSink(s.cfg.Engine.SampleRate, s.cfg.Playback.QueueDepth,
		s.cfg.Playback.FramesPerBuffer, s.log)
	if err != nil {
		s.log.Error("open playback device", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "audio playback device unavailable")
		return http.StatusServiceUnavailable
	}

	result, runErr := s.session.Run(r.Context(), req, out)
	s.record(r.Context(), "http-play", req, result, runErr)
	if runErr != nil {
		out.Discard()
		return s.writeSynthesisError(w, runErr)
	}

	setStatsHeaders(w, result.Stats)
	writeJSON(w, http.StatusOK, playResponse{
		Status:         "played",
		Chunks:         result.Segments,
		GenerationTime: result.Stats.GenerationSeconds,
		AudioDuration:  result.Stats.AudioSeconds,
		RTF:            result.Stats.RTF,
	})
	return http.StatusOK
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) int {
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices.Catalog})
	return http.StatusOK
}

func (s *Server) handleSpeakers(w http.ResponseWriter, r *http.Request) int {
	writeJSON(w, http.StatusOK, map[string]any{"speakers": voices.All()})
	return http.StatusOK
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return http.StatusBadRequest
		}
		limit = n
	}
	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("query history", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return http.StatusInternalServerError
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": records})
	return http.StatusOK
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) int {
	if err := s.handle.Reload(r.Context()); err != nil {
		s.log.Error("engine reload failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("reload failed: %v", err))
		return http.StatusServiceUnavailable
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	return http.StatusOK
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// decodeRequest parses and normalizes the JSON body. A non-zero return
// status means the response was already written.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (synthesis.Request, int) {
	var body synthesizeRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return synthesis.Request{}, http.StatusBadRequest
	}
	voice := body.Voice
	if voice == "" {
		voice = body.Speaker
	}
	return synthesis.Request{
		Text:     body.Text,
		Voice:    voice,
		Language: body.Language,
		Instruct: body.Instruct,
		Speed:    body.Speed,
	}, 0
}

func (s *Server) writeSynthesisError(w http.ResponseWriter, err error) int {
	var synthErr *synthesis.SynthesisError
	switch {
	case errors.Is(err, synthesis.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrModelUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return http.StatusServiceUnavailable
	case errors.Is(err, sink.ErrPlaybackDevice):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return http.StatusServiceUnavailable
	case errors.As(err, &synthErr):
		writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled):
		// Client went away; status code is for the metrics label only.
		return 499
	default:
		s.log.Error("synthesis failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "synthesis failed")
		return http.StatusInternalServerError
	}
}

// record appends the request outcome to history. Failures are logged,
// never surfaced to the client.
func (s *Server) record(ctx context.Context, source string, req synthesis.Request, result synthesis.Result, runErr error) {
	if s.history == nil {
		return
	}
	// The record outlives the request; a client disconnect must not
	// lose it.
	ctx = context.WithoutCancel(ctx)
	rec := history.Record{
		ID:                uuid.NewString(),
		Source:            source,
		Voice:             req.Voice,
		Language:          req.Language,
		TextChars:         utf8.RuneCountInString(req.Text),
		Segments:          result.Segments,
		GenerationSeconds: result.Stats.GenerationSeconds,
		AudioSeconds:      result.Stats.AudioSeconds,
		RTF:               result.Stats.RTF,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := s.history.Append(ctx, rec); err != nil {
		s.log.Warn("append history", slog.String("error", err.Error()))
	}
}

func setStatsHeaders(w http.ResponseWriter, stats synthesis.GenerationStats) {
	w.Header().Set("X-Generation-Time", fmt.Sprintf("%.2f", stats.GenerationSeconds))
	w.Header().Set("X-Audio-Duration", fmt.Sprintf("%.2f", stats.AudioSeconds))
	w.Header().Set("X-RTF", fmt.Sprintf("%.3f", stats.RTF))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
