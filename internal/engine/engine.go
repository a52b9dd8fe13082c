// Package engine wraps the neural text-to-speech model behind a single
// process-wide handle. The model itself is opaque: it maps a text
// segment plus voice parameters to PCM samples.
package engine

import (
	"context"
	"errors"
)

// ErrModelUnavailable reports that the inference engine could not be
// loaded or has terminated. The condition is sticky on the Handle until
// an explicit Reload.
var ErrModelUnavailable = errors.New("model unavailable")

// SegmentRequest carries one text segment to the engine.
type SegmentRequest struct {
	Text     string
	Voice    string
	LangCode string
	Instruct string
	Speed    float64
}

// AudioChunk is the synthesized audio for one segment: 16-bit
// little-endian mono PCM.
type AudioChunk struct {
	Index      int
	PCM        []byte
	SampleRate int
}

// Duration returns the audio length in seconds.
func (c AudioChunk) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.PCM)/2) / float64(c.SampleRate)
}

// Engine is the contract for an inference backend. Load is called at
// most once before any Synthesize; implementations are not required to
// support concurrent Synthesize calls.
type Engine interface {
	Load(ctx context.Context) error
	Synthesize(ctx context.Context, req SegmentRequest) (AudioChunk, error)
	Close() error
}
