package sink

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/kotobalabs/kokotts/internal/engine"
)

// playbackDevice is the slice of the portaudio stream the sink needs:
// Write plays the shared frame buffer, Stop blocks until buffered
// audio has drained.
type playbackDevice interface {
	Write() error
	Stop() error
	Close() error
}

// PlaybackSink streams chunks to the default audio output device as
// they arrive. Chunks are queued ahead of real time in a bounded
// channel and fed to the device back-to-back by a writer goroutine, so
// consecutive chunks play with no gap or overlap. Finalize returns
// only after the device has drained the last enqueued chunk.
//
// Cancellation policy: chunks not yet enqueued are dropped; audio
// already handed to the device plays out.
type PlaybackSink struct {
	log             *slog.Logger
	framesPerBuffer int
	sampleRate      int

	stream    playbackDevice
	terminate func()
	buffer    []float32

	queue chan []float32
	done  chan struct{}
	errMu sync.Mutex
	err   error

	nextIndex int
	finalized bool
}

// newPlaybackSink builds the sink without a device; the caller wires
// the stream and starts the writer goroutine.
func newPlaybackSink(sampleRate, queueDepth, framesPerBuffer int, log *slog.Logger) *PlaybackSink {
	return &PlaybackSink{
		log:             log.With(slog.String("component", "playback-sink")),
		framesPerBuffer: framesPerBuffer,
		sampleRate:      sampleRate,
		terminate:       func() {},
		buffer:          make([]float32, framesPerBuffer),
		queue:           make(chan []float32, queueDepth),
		done:            make(chan struct{}),
	}
}

// NewPlaybackSink opens the default output device. Device failures are
// reported as ErrPlaybackDevice.
func NewPlaybackSink(sampleRate, queueDepth, framesPerBuffer int, log *slog.Logger) (*PlaybackSink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize: %v", ErrPlaybackDevice, err)
	}

	p := newPlaybackSink(sampleRate, queueDepth, framesPerBuffer, log)
	p.terminate = func() { portaudio.Terminate() }

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, &p.buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: open output stream: %v", ErrPlaybackDevice, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: start output stream: %v", ErrPlaybackDevice, err)
	}
	p.stream = stream

	go p.run()
	return p, nil
}

func (p *PlaybackSink) Accept(ctx context.Context, chunk engine.AudioChunk) error {
	if p.finalized {
		return fmt.Errorf("playback sink already finalized")
	}
	if chunk.Index != p.nextIndex {
		return fmt.Errorf("chunk out of order: got %d, want %d", chunk.Index, p.nextIndex)
	}
	p.nextIndex++

	samples := make([]float32, len(chunk.PCM)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(chunk.PCM[i*2:]))) / 32768.0
	}

	select {
	case p.queue <- samples:
		return nil
	case <-p.done:
		return fmt.Errorf("%w: %v", ErrPlaybackDevice, p.writerErr())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PlaybackSink) Finalize(ctx context.Context) error {
	if p.finalized {
		return nil
	}
	p.finalized = true

	close(p.queue)
	select {
	case <-p.done:
	case <-ctx.Done():
		// Abandon the drain; teardown still runs.
		p.teardown()
		return ctx.Err()
	}
	p.teardown()

	if err := p.writerErr(); err != nil {
		return fmt.Errorf("%w: %v", ErrPlaybackDevice, err)
	}
	return nil
}

// Discard releases the device after a failed request. Audio already
// queued plays out; any writer error is dropped.
func (p *PlaybackSink) Discard() {
	_ = p.Finalize(context.Background())
}

func (p *PlaybackSink) teardown() {
	if p.stream != nil {
		// Stop blocks until buffered audio has played.
		if err := p.stream.Stop(); err != nil {
			p.log.Warn("stopping output stream", slog.String("error", err.Error()))
		}
		p.stream.Close()
		p.stream = nil
	}
	p.terminate()
}

func (p *PlaybackSink) run() {
	defer close(p.done)

	var pending []float32
	for samples := range p.queue {
		pending = append(pending, samples...)
		for len(pending) >= p.framesPerBuffer {
			copy(p.buffer, pending[:p.framesPerBuffer])
			pending = pending[p.framesPerBuffer:]
			if err := p.stream.Write(); err != nil {
				p.setWriterErr(err)
				return
			}
		}
	}

	// Flush the tail zero-padded to a full device buffer.
	if len(pending) > 0 {
		copy(p.buffer, pending)
		for i := len(pending); i < p.framesPerBuffer; i++ {
			p.buffer[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			p.setWriterErr(err)
		}
	}
}

func (p *PlaybackSink) setWriterErr(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *PlaybackSink) writerErr() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}
