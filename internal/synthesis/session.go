// Package synthesis drives one end-to-end text-to-speech request:
// validation, chunking, sequential engine calls, sink delivery, and
// timing.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kotobalabs/kokotts/internal/chunker"
	"github.com/kotobalabs/kokotts/internal/config"
	"github.com/kotobalabs/kokotts/internal/engine"
	"github.com/kotobalabs/kokotts/internal/sink"
	"github.com/kotobalabs/kokotts/internal/voices"
)

// Synthesizer is the engine access the session needs; satisfied by
// *engine.Handle.
type Synthesizer interface {
	Synthesize(ctx context.Context, req engine.SegmentRequest) (engine.AudioChunk, error)
}

// Request is one immutable synthesis request.
type Request struct {
	Text     string
	Voice    string
	Language string
	Instruct string
	Speed    float64
}

// Result describes a completed session.
type Result struct {
	Segments int
	Stats    GenerationStats
}

// Session runs synthesis requests against a shared engine.
type Session struct {
	synth  Synthesizer
	cfg    config.SynthesisConfig
	log    *slog.Logger
	tracer trace.Tracer
}

func NewSession(synth Synthesizer, cfg config.SynthesisConfig, log *slog.Logger) *Session {
	return &Session{
		synth:  synth,
		cfg:    cfg,
		log:    log.With(slog.String("component", "synthesis-session")),
		tracer: otel.Tracer("kokotts.synthesis"),
	}
}

// Run validates req, splits the text into segments, synthesizes each
// segment strictly in index order, and delivers the resulting chunks
// to out in the same order. Segment order matters: the engine may
// carry prosodic state across consecutive calls, and sinks require
// monotonic delivery.
//
// On an engine failure at segment i the session stops with a
// SynthesisError carrying i; the sink is never finalized. After ctx is
// cancelled no further engine calls are issued; the in-flight call
// runs to completion.
func (s *Session) Run(ctx context.Context, req Request, out sink.Sink) (Result, error) {
	req = s.applyDefaults(req)
	if err := s.validate(req); err != nil {
		return Result{}, err
	}

	segments := s.segment(req.Text)

	ctx, span := s.tracer.Start(ctx, "synthesis.session",
		trace.WithAttributes(
			attribute.String("tts.voice", req.Voice),
			attribute.String("tts.language", req.Language),
			attribute.Int("tts.segments", len(segments)),
		))
	defer span.End()

	var generationSeconds, audioSeconds float64
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return Result{}, err
		}

		start := time.Now()
		chunk, err := s.synth.Synthesize(ctx, engine.SegmentRequest{
			Text:     seg.Content,
			Voice:    req.Voice,
			LangCode: voices.LangCode(req.Language),
			Instruct: req.Instruct,
			Speed:    req.Speed,
		})
		generationSeconds += time.Since(start).Seconds()
		if err != nil {
			span.RecordError(err)
			if errors.Is(err, engine.ErrModelUnavailable) {
				return Result{}, err
			}
			// A cancelled call is the caller going away, not an
			// engine fault.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Result{}, err
			}
			return Result{}, &SynthesisError{Index: seg.Index, Err: err}
		}

		chunk.Index = seg.Index
		audioSeconds += chunk.Duration()
		if err := out.Accept(ctx, chunk); err != nil {
			span.RecordError(err)
			return Result{}, err
		}
	}

	if err := out.Finalize(ctx); err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	stats := NewGenerationStats(generationSeconds, audioSeconds)
	s.log.Info("synthesis complete",
		slog.Int("segments", len(segments)),
		slog.String("voice", req.Voice),
		slog.Float64("generation_seconds", stats.GenerationSeconds),
		slog.Float64("audio_seconds", stats.AudioSeconds),
		slog.Float64("rtf", stats.RTF))
	return Result{Segments: len(segments), Stats: stats}, nil
}

// Validate applies defaults and checks the request without doing any
// engine work. Run performs the same check; callers that must fail
// before acquiring resources can use this first.
func (s *Session) Validate(req Request) error {
	return s.validate(s.applyDefaults(req))
}

func (s *Session) applyDefaults(req Request) Request {
	if req.Voice == "" {
		req.Voice = s.cfg.DefaultVoice
	}
	if req.Language == "" {
		req.Language = s.cfg.DefaultLanguage
	}
	if req.Instruct == "" {
		req.Instruct = s.cfg.DefaultInstruct
	}
	if req.Speed == 0 {
		req.Speed = 1.0
	}
	return req
}

func (s *Session) validate(req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: text must not be empty", ErrInvalidRequest)
	}
	if err := voices.Validate(req.Voice, req.Language); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}
	return nil
}

// segment splits only texts past the long-text threshold; shorter
// input goes to the engine as a single utterance so short phrases keep
// their natural prosody.
func (s *Session) segment(text string) []chunker.Segment {
	if utf8.RuneCountInString(text) > s.cfg.LongTextThreshold {
		return chunker.Split(text, s.cfg.MaxChunkRunes)
	}
	return []chunker.Segment{{Index: 0, Content: text, Final: true}}
}
