package engine

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// execEngine hosts the neural model in a long-lived subprocess and
// talks to it with line-delimited JSON over stdin/stdout. The worker
// loads the model weights once at startup and answers one synthesis
// request per line, which matches the handle's serialized access.
type execEngine struct {
	command    string
	modelID    string
	sampleRate int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
}

type execReadyMsg struct {
	Status     string `json:"status"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Error      string `json:"error,omitempty"`
}

type execSynthRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	LangCode   string  `json:"lang_code"`
	Instruct   string  `json:"instruct,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	SampleRate int     `json:"sample_rate"`
}

type execSynthResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Error     string `json:"error,omitempty"`
}

// NewExecEngine builds an engine that shells out to command, typically
// a Python worker wrapping the mlx model.
func NewExecEngine(command, modelID string, sampleRate int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execEngine{command: command, modelID: modelID, sampleRate: sampleRate}, nil
}

func (e *execEngine) Load(ctx context.Context) error {
	parser := shellwords.NewParser()
	args, err := parser.Parse(e.command)
	if err != nil {
		return fmt.Errorf("parse engine command: %w", err)
	}

	base := args[0]
	rest := append([]string{}, args[1:]...)
	if e.modelID != "" {
		rest = append(rest, "--model", e.modelID)
	}
	cmd := exec.Command(base, rest...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("engine stdin: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine worker: %w", err)
	}

	scanner := bufio.NewScanner(stdoutPipe)
	// Base64 PCM lines grow with segment length; allow large tokens.
	scanner.Buffer(make([]byte, 1<<20), 64<<20)

	readyCh := make(chan error, 1)
	go func() {
		if !scanner.Scan() {
			readyCh <- fmt.Errorf("engine worker exited before ready: %v", scanner.Err())
			return
		}
		var ready execReadyMsg
		if err := json.Unmarshal(scanner.Bytes(), &ready); err != nil {
			readyCh <- fmt.Errorf("decode ready message: %w", err)
			return
		}
		if ready.Error != "" {
			readyCh <- fmt.Errorf("engine worker: %s", ready.Error)
			return
		}
		if ready.Status != "ready" {
			readyCh <- fmt.Errorf("unexpected worker status %q", ready.Status)
			return
		}
		if ready.SampleRate > 0 {
			e.sampleRate = ready.SampleRate
		}
		readyCh <- nil
	}()

	select {
	case err := <-readyCh:
		if err != nil {
			stdin.Close()
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return err
		}
	case <-ctx.Done():
		stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("waiting for engine worker: %w", ctx.Err())
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = scanner
	return nil
}

func (e *execEngine) Synthesize(ctx context.Context, req SegmentRequest) (AudioChunk, error) {
	if e.cmd == nil {
		return AudioChunk{}, fmt.Errorf("engine worker not started")
	}

	payload := execSynthRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		LangCode:   req.LangCode,
		Instruct:   req.Instruct,
		Speed:      req.Speed,
		SampleRate: e.sampleRate,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return AudioChunk{}, err
	}
	data = append(data, '\n')
	if _, err := e.stdin.Write(data); err != nil {
		return AudioChunk{}, fmt.Errorf("write to engine worker: %w", err)
	}

	// Engine calls are not cancellable mid-flight; the in-flight
	// response is always read to keep the stream in sync.
	if !e.stdout.Scan() {
		return AudioChunk{}, fmt.Errorf("engine worker closed stream: %v", e.stdout.Err())
	}
	var resp execSynthResponse
	if err := json.Unmarshal(e.stdout.Bytes(), &resp); err != nil {
		return AudioChunk{}, fmt.Errorf("decode engine response: %w", err)
	}
	if resp.Error != "" {
		return AudioChunk{}, fmt.Errorf("engine worker: %s", resp.Error)
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return AudioChunk{}, fmt.Errorf("decode pcm payload: %w", err)
	}
	return AudioChunk{PCM: pcm, SampleRate: e.sampleRate}, nil
}

func (e *execEngine) Close() error {
	if e.cmd == nil {
		return nil
	}
	e.stdin.Close()
	err := e.cmd.Wait()
	e.cmd = nil
	return err
}
