package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/kotobalabs/kokotts/internal/config"
	"github.com/kotobalabs/kokotts/internal/engine"
	"github.com/kotobalabs/kokotts/internal/history"
)

type failLoadEngine struct{}

func (f *failLoadEngine) Load(ctx context.Context) error { return io.ErrUnexpectedEOF }
func (f *failLoadEngine) Synthesize(ctx context.Context, req engine.SegmentRequest) (engine.AudioChunk, error) {
	return engine.AudioChunk{}, io.ErrUnexpectedEOF
}
func (f *failLoadEngine) Close() error { return nil }

func testServer(t *testing.T, eng engine.Engine) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Playback.Enabled = false
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hist, err := history.Open(context.Background(), cfg.History, log)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	handle := engine.NewHandle(eng, log)
	t.Cleanup(func() { handle.Close() })

	mux := http.NewServeMux()
	New(cfg, handle, hist, log).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestSynthesizeReturnsWAV(t *testing.T) {
	ts := testServer(t, engine.NewMockEngine(24000))

	resp := postJSON(t, ts.URL+"/tts", map[string]any{
		"text":  "こんにちは。",
		"voice": "jf_alpha",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("content type: got %q", ct)
	}
	for _, h := range []string{"X-Generation-Time", "X-Audio-Duration", "X-RTF"} {
		if resp.Header.Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		t.Fatal("response is not a valid WAV file")
	}
	if dec.SampleRate != 24000 {
		t.Errorf("sample rate: got %d", dec.SampleRate)
	}
}

func TestSynthesizeSpeakerAlias(t *testing.T) {
	ts := testServer(t, engine.NewMockEngine(24000))

	resp := postJSON(t, ts.URL+"/tts", map[string]any{
		"text":     "test",
		"speaker":  "af_heart",
		"language": "American English",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
}

func TestSynthesizeRejectsBadInput(t *testing.T) {
	ts := testServer(t, engine.NewMockEngine(24000))

	cases := []struct {
		name string
		body map[string]any
	}{
		{"empty text", map[string]any{"text": "   ", "voice": "jf_alpha"}},
		{"unknown voice", map[string]any{"text": "hello", "voice": "nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/tts", tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestSynthesizeModelUnavailable(t *testing.T) {
	ts := testServer(t, &failLoadEngine{})

	resp := postJSON(t, ts.URL+"/tts", map[string]any{
		"text":  "hello",
		"voice": "jf_alpha",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestStreamPlayValidatesBeforeDevice(t *testing.T) {
	cfg := config.Default()
	cfg.Playback.Enabled = true
	cfg.History.Enabled = false

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hist, err := history.Open(context.Background(), cfg.History, log)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer hist.Close()
	handle := engine.NewHandle(engine.NewMockEngine(24000), log)
	defer handle.Close()

	mux := http.NewServeMux()
	New(cfg, handle, hist, log).Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	// Invalid input must come back 400 with no device work, even on
	// hosts with no audio output at all.
	resp := postJSON(t, ts.URL+"/tts/stream-play", map[string]any{
		"text":  "  ",
		"voice": "jf_alpha",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 before any device work, got %d", resp.StatusCode)
	}
}

func TestHandlersTolerateMissingMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Playback.Enabled = false
	cfg.History.Enabled = false

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hist, err := history.Open(context.Background(), cfg.History, log)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer hist.Close()
	handle := engine.NewHandle(engine.NewMockEngine(24000), log)
	defer handle.Close()

	srv := New(cfg, handle, hist, log)
	srv.requests = nil
	srv.duration = nil
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/voices")
	if err != nil {
		t.Fatalf("get voices: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 without instruments, got %d", resp.StatusCode)
	}
}

func TestStreamPlayDisabled(t *testing.T) {
	ts := testServer(t, engine.NewMockEngine(24000))

	resp := postJSON(t, ts.URL+"/tts/stream-play", map[string]any{
		"text":  "hello",
		"voice": "jf_alpha",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with playback disabled, got %d", resp.StatusCode)
	}
}

func TestVoicesAndSpeakers(t *testing.T) {
	ts := testServer(t, engine.NewMockEngine(24000))

	resp, err := http.Get(ts.URL + "/voices")
	if err != nil {
		t.Fatalf("get voices: %v", err)
	}
	defer resp.Body.Close()
	var voicesBody struct {
		Voices map[string][]string `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&voicesBody); err != nil {
		t.Fatalf("decode voices: %v", err)
	}
	if len(voicesBody.Voices["Japanese"]) == 0 {
		t.Error("expected Japanese voices in catalog")
	}

	resp, err = http.Get(ts.URL + "/speakers")
	if err != nil {
		t.Fatalf("get speakers: %v", err)
	}
	defer resp.Body.Close()
	var speakersBody struct {
		Speakers []string `json:"speakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&speakersBody); err != nil {
		t.Fatalf("decode speakers: %v", err)
	}
	found := false
	for _, sp := range speakersBody.Speakers {
		if sp == "jf_alpha" {
			found = true
		}
	}
	if !found {
		t.Error("expected jf_alpha in speakers list")
	}
}

func TestHistoryRecordsRequests(t *testing.T) {
	ts := testServer(t, engine.NewMockEngine(24000))

	resp := postJSON(t, ts.URL+"/tts", map[string]any{
		"text":  "こんにちは。",
		"voice": "jf_alpha",
	})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/history")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Requests []history.Record `json:"requests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(body.Requests) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(body.Requests))
	}
	if body.Requests[0].Voice != "jf_alpha" || body.Requests[0].Error != "" {
		t.Errorf("unexpected record: %+v", body.Requests[0])
	}
}

func TestEngineReload(t *testing.T) {
	ts := testServer(t, engine.NewMockEngine(24000))

	resp := postJSON(t, ts.URL+"/engine/reload", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestIndexPage(t *testing.T) {
	ts := testServer(t, engine.NewMockEngine(24000))

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "KokoTTS") {
		t.Error("index page missing expected content")
	}
}
