// Package bus exposes synthesis over NATS: requests arrive on a
// subject, audio chunks stream back as they are produced, and a status
// message closes each request.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kotobalabs/kokotts/internal/engine"
	"github.com/kotobalabs/kokotts/internal/protocol"
	"github.com/kotobalabs/kokotts/internal/synthesis"
)

// Service subscribes to synthesis requests on the bus and runs them
// through the shared session.
type Service struct {
	bus     *Client
	session *synthesis.Session
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, busClient *Client, session *synthesis.Session, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:     busClient,
		session: session,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "bus-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSynthesisRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synthesis request", slogError(err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, 120*time.Second)
		defer cancel()

		out := newBusSink(s.bus.Conn(), req.RequestID, s.logger)
		res, err := s.session.Run(ctx, synthesis.Request{
			Text:     req.Text,
			Voice:    req.Voice,
			Language: req.Language,
			Instruct: req.Instruct,
		}, out)

		status := protocol.SynthesisStatus{
			RequestID: req.RequestID,
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			s.logger.Warn("bus synthesis failed", slogError(err))
			status.Error = err.Error()
		} else {
			status.Completed = true
			status.Segments = res.Segments
			status.GenerationTime = res.Stats.GenerationSeconds
			status.AudioDuration = res.Stats.AudioSeconds
			status.RTF = res.Stats.RTF
		}
		if data, err := json.Marshal(status); err == nil {
			_ = s.bus.Conn().Publish(protocol.SubjectSynthesisDone, data)
		}
	}()
}

// busSink publishes each chunk to the audio subject as it arrives.
type busSink struct {
	conn      *nats.Conn
	requestID string
	logger    *slog.Logger
	nextIndex int
}

func newBusSink(conn *nats.Conn, requestID string, log *slog.Logger) *busSink {
	return &busSink{conn: conn, requestID: requestID, logger: log}
}

func (b *busSink) Accept(ctx context.Context, chunk engine.AudioChunk) error {
	packet := protocol.AudioChunk{
		RequestID:  b.requestID,
		Sequence:   chunk.Index,
		SampleRate: chunk.SampleRate,
		Channels:   1,
		PCM:        chunk.PCM,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		return err
	}
	b.nextIndex = chunk.Index + 1
	return b.conn.Publish(protocol.SubjectSynthesisAudio, data)
}

func (b *busSink) Finalize(ctx context.Context) error {
	packet := protocol.AudioChunk{
		RequestID: b.requestID,
		Sequence:  b.nextIndex,
		Final:     true,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		return err
	}
	return b.conn.Publish(protocol.SubjectSynthesisAudio, data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
