package engine

import (
	"context"
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// mockEngine produces deterministic sine-wave audio without any model.
// Audio length scales with text length so timing and chunking behavior
// stay realistic in development and tests.
type mockEngine struct {
	sampleRate int
	perRuneMS  int
}

// NewMockEngine returns an engine emitting 50ms of 440Hz tone per rune.
func NewMockEngine(sampleRate int) Engine {
	return &mockEngine{sampleRate: sampleRate, perRuneMS: 50}
}

func (m *mockEngine) Load(ctx context.Context) error { return nil }

func (m *mockEngine) Synthesize(ctx context.Context, req SegmentRequest) (AudioChunk, error) {
	if err := ctx.Err(); err != nil {
		return AudioChunk{}, err
	}
	runes := utf8.RuneCountInString(req.Text)
	samples := runes * m.perRuneMS * m.sampleRate / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(m.sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return AudioChunk{PCM: pcm, SampleRate: m.sampleRate}, nil
}

func (m *mockEngine) Close() error { return nil }
