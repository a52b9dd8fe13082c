package synthesis

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest reports a request rejected before any engine work:
// empty text or an unknown voice/language combination.
var ErrInvalidRequest = errors.New("invalid request")

// SynthesisError reports an engine failure on one segment. Engine
// failures are treated as deterministic for the same input, so the
// session does not retry.
type SynthesisError struct {
	Index int
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed at segment %d: %v", e.Index, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
