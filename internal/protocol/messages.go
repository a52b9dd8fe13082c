// Package protocol defines the bus subjects and message shapes used by
// the NATS front-end.
package protocol

import "time"

const (
	SubjectSynthesisRequest = "tts.synthesize.request"
	SubjectSynthesisAudio   = "tts.synthesize.audio"
	SubjectSynthesisDone    = "tts.synthesize.done"
)

// SynthesisRequest asks the server to synthesize text and stream the
// audio back over the bus.
type SynthesisRequest struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Language  string `json:"language,omitempty"`
	Instruct  string `json:"instruct,omitempty"`
}

// AudioChunk carries one synthesized segment.
type AudioChunk struct {
	RequestID  string `json:"request_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// SynthesisStatus closes a request on the bus; on failure Error is set
// and no further chunks follow.
type SynthesisStatus struct {
	RequestID      string    `json:"request_id"`
	Completed      bool      `json:"completed"`
	Error          string    `json:"error,omitempty"`
	Segments       int       `json:"segments,omitempty"`
	GenerationTime float64   `json:"generation_time,omitempty"`
	AudioDuration  float64   `json:"audio_duration,omitempty"`
	RTF            float64   `json:"rtf,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
