package sink

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/kotobalabs/kokotts/internal/engine"
)

// FileSink buffers chunks and seals them into a single WAV container
// on Finalize. Chunks are butt-joined in index order with no padding,
// so the payload is sample-identical to one unbroken synthesis at the
// chunk boundaries.
type FileSink struct {
	sampleRate int
	nextIndex  int
	failed     bool
	sealed     bool
	pcm        []byte
	encoded    []byte
}

func NewFileSink() *FileSink {
	return &FileSink{}
}

func (f *FileSink) Accept(ctx context.Context, chunk engine.AudioChunk) error {
	if f.failed {
		return fmt.Errorf("file sink already failed")
	}
	if f.sealed {
		f.failed = true
		return fmt.Errorf("file sink already finalized")
	}
	if chunk.Index != f.nextIndex {
		f.failed = true
		return fmt.Errorf("chunk out of order: got %d, want %d", chunk.Index, f.nextIndex)
	}
	if f.nextIndex == 0 {
		f.sampleRate = chunk.SampleRate
	} else if chunk.SampleRate != f.sampleRate {
		f.failed = true
		return fmt.Errorf("sample rate changed mid-stream: %d -> %d", f.sampleRate, chunk.SampleRate)
	}
	f.pcm = append(f.pcm, chunk.PCM...)
	f.nextIndex++
	return nil
}

func (f *FileSink) Finalize(ctx context.Context) error {
	if f.failed {
		return fmt.Errorf("file sink failed before finalize")
	}
	if f.sealed {
		return nil
	}
	if f.sampleRate <= 0 {
		f.sampleRate = 24000
	}

	samples := make([]int, len(f.pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(f.pcm[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: f.sampleRate},
		Data:   samples,
	}

	var out seekBuffer
	enc := wav.NewEncoder(&out, f.sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		f.failed = true
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.failed = true
		return fmt.Errorf("close wav encoder: %w", err)
	}
	f.encoded = out.data
	f.sealed = true
	return nil
}

// Bytes returns the encoded WAV payload. Valid only after Finalize.
func (f *FileSink) Bytes() []byte { return f.encoded }

// Chunks returns how many chunks were accepted.
func (f *FileSink) Chunks() int { return f.nextIndex }

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks
// back to patch chunk sizes into the header on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = int(next)
	return next, nil
}
