package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kotobalabs/kokotts/internal/config"
	"github.com/kotobalabs/kokotts/internal/engine"
	"github.com/kotobalabs/kokotts/internal/sink"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSynthConfig() config.SynthesisConfig {
	return config.SynthesisConfig{
		MaxChunkRunes:     100,
		LongTextThreshold: 120,
		DefaultVoice:      "jf_alpha",
		DefaultLanguage:   "Japanese",
	}
}

// fakeSynth returns fixed-size chunks and can be told to fail on the
// nth call. It also asserts it is never entered concurrently.
type fakeSynth struct {
	mu       sync.Mutex
	inFlight atomic.Int32
	calls    []string
	failAt   int // -1 disables
}

func newFakeSynth() *fakeSynth { return &fakeSynth{failAt: -1} }

func (f *fakeSynth) Synthesize(ctx context.Context, req engine.SegmentRequest) (engine.AudioChunk, error) {
	if f.inFlight.Add(1) > 1 {
		return engine.AudioChunk{}, fmt.Errorf("concurrent engine call observed")
	}
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, req.Text)
	f.mu.Unlock()

	if f.failAt >= 0 && call == f.failAt {
		return engine.AudioChunk{}, errors.New("engine fault")
	}
	// 24000 samples = one second of audio per chunk.
	return engine.AudioChunk{PCM: make([]byte, 48000), SampleRate: 24000}, nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// collectSink records accepted chunk indices.
type collectSink struct {
	indices   []int
	finalized bool
}

func (c *collectSink) Accept(ctx context.Context, chunk engine.AudioChunk) error {
	c.indices = append(c.indices, chunk.Index)
	return nil
}

func (c *collectSink) Finalize(ctx context.Context) error {
	c.finalized = true
	return nil
}

func TestRunEmptyTextRejected(t *testing.T) {
	synth := newFakeSynth()
	s := NewSession(synth, testSynthConfig(), testLogger())

	_, err := s.Run(context.Background(), Request{Text: "   "}, &collectSink{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if synth.callCount() != 0 {
		t.Fatal("no engine work may happen for invalid requests")
	}
}

func TestRunUnknownVoiceRejected(t *testing.T) {
	synth := newFakeSynth()
	s := NewSession(synth, testSynthConfig(), testLogger())

	_, err := s.Run(context.Background(), Request{Text: "hello", Voice: "nope"}, &collectSink{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if synth.callCount() != 0 {
		t.Fatal("no engine work may happen for invalid requests")
	}
}

func TestRunShortTextSingleChunk(t *testing.T) {
	handle := engine.NewHandle(engine.NewMockEngine(24000), testLogger())
	s := NewSession(handle, testSynthConfig(), testLogger())

	fileSink := sink.NewFileSink()
	res, err := s.Run(context.Background(), Request{Text: "こんにちは。", Voice: "jf_alpha", Language: "Japanese"}, fileSink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Segments != 1 {
		t.Fatalf("expected 1 segment, got %d", res.Segments)
	}
	if fileSink.Chunks() != 1 {
		t.Fatalf("expected 1 chunk, got %d", fileSink.Chunks())
	}
	if len(fileSink.Bytes()) == 0 {
		t.Fatal("expected encoded wav payload")
	}
	if res.Stats.AudioSeconds <= 0 {
		t.Fatalf("expected positive audio duration, got %f", res.Stats.AudioSeconds)
	}
}

func TestRunLongTextOrderPreserved(t *testing.T) {
	synth := newFakeSynth()
	s := NewSession(synth, testSynthConfig(), testLogger())

	out := &collectSink{}
	res, err := s.Run(context.Background(), Request{Text: strings.Repeat("あ", 250)}, out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Segments != 3 {
		t.Fatalf("expected 3 segments for 250 runes, got %d", res.Segments)
	}
	for i, idx := range out.indices {
		if idx != i {
			t.Fatalf("chunk order broken: position %d has index %d", i, idx)
		}
	}
	if !out.finalized {
		t.Fatal("sink must be finalized after the last chunk")
	}
	if res.Stats.AudioSeconds != 3.0 {
		t.Fatalf("expected 3 seconds of audio, got %f", res.Stats.AudioSeconds)
	}
}

func TestRunEngineFailureMidStream(t *testing.T) {
	synth := newFakeSynth()
	synth.failAt = 1
	s := NewSession(synth, testSynthConfig(), testLogger())

	out := &collectSink{}
	_, err := s.Run(context.Background(), Request{Text: strings.Repeat("あ", 250)}, out)

	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
	if synthErr.Index != 1 {
		t.Fatalf("expected failing index 1, got %d", synthErr.Index)
	}
	if synth.callCount() != 2 {
		t.Fatalf("no call may be issued past the failure: got %d calls", synth.callCount())
	}
	if len(out.indices) != 1 || out.indices[0] != 0 {
		t.Fatalf("only chunk 0 may reach the sink, got %v", out.indices)
	}
	if out.finalized {
		t.Fatal("sink must not be finalized after a failure")
	}
}

func TestRunModelUnavailablePassesThrough(t *testing.T) {
	failing := &loadFailEngine{}
	handle := engine.NewHandle(failing, testLogger())
	s := NewSession(handle, testSynthConfig(), testLogger())

	_, err := s.Run(context.Background(), Request{Text: "hello world", Voice: "af_heart", Language: "American English"}, &collectSink{})
	if !errors.Is(err, engine.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

type loadFailEngine struct{}

func (l *loadFailEngine) Load(ctx context.Context) error { return errors.New("weights missing") }
func (l *loadFailEngine) Synthesize(ctx context.Context, req engine.SegmentRequest) (engine.AudioChunk, error) {
	return engine.AudioChunk{}, errors.New("unreachable")
}
func (l *loadFailEngine) Close() error { return nil }

func TestRunCancelledBeforeNextSegment(t *testing.T) {
	synth := newFakeSynth()
	s := NewSession(synth, testSynthConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, Request{Text: strings.Repeat("あ", 250)}, &collectSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if synth.callCount() != 0 {
		t.Fatalf("no engine calls may be issued after cancellation, got %d", synth.callCount())
	}
}

func TestRunCancelledDuringEngineCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	synth := &cancellingSynth{cancel: cancel}
	s := NewSession(synth, testSynthConfig(), testLogger())

	_, err := s.Run(ctx, Request{Text: strings.Repeat("あ", 250)}, &collectSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		t.Fatal("cancellation must not be reported as an engine failure")
	}
}

// cancellingSynth cancels the request inside its first call, the way a
// client disconnect lands mid-inference.
type cancellingSynth struct {
	cancel context.CancelFunc
}

func (c *cancellingSynth) Synthesize(ctx context.Context, req engine.SegmentRequest) (engine.AudioChunk, error) {
	c.cancel()
	return engine.AudioChunk{}, ctx.Err()
}

func TestConcurrentRequestsDoNotInterleave(t *testing.T) {
	handle := engine.NewHandle(&reentrancyGuardEngine{}, testLogger())
	s := NewSession(handle, testSynthConfig(), testLogger())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Run(context.Background(), Request{Text: strings.Repeat("あ", 250)}, &collectSink{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent run failed: %v", err)
		}
	}
}

type reentrancyGuardEngine struct {
	inFlight atomic.Int32
}

func (r *reentrancyGuardEngine) Load(ctx context.Context) error { return nil }

func (r *reentrancyGuardEngine) Synthesize(ctx context.Context, req engine.SegmentRequest) (engine.AudioChunk, error) {
	if r.inFlight.Add(1) > 1 {
		return engine.AudioChunk{}, errors.New("interleaved engine access")
	}
	defer r.inFlight.Add(-1)
	return engine.AudioChunk{PCM: make([]byte, 2), SampleRate: 24000}, nil
}

func (r *reentrancyGuardEngine) Close() error { return nil }
