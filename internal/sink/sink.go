// Package sink consumes the ordered audio chunk stream produced by a
// synthesis session. A sink receives every chunk exactly once, in
// index order, and is finalized after the last chunk.
package sink

import (
	"context"
	"errors"

	"github.com/kotobalabs/kokotts/internal/engine"
)

// ErrPlaybackDevice reports that the local audio output device could
// not be opened or failed mid-stream.
var ErrPlaybackDevice = errors.New("playback device unavailable")

// Sink is the single capability shared by all audio consumers.
type Sink interface {
	// Accept takes the next chunk in index order.
	Accept(ctx context.Context, chunk engine.AudioChunk) error
	// Finalize completes the stream. For file output this seals the
	// container; for device playback it returns only after the last
	// enqueued chunk has finished playing.
	Finalize(ctx context.Context) error
}
