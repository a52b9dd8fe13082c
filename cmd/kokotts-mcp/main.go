// kokotts-mcp exposes a running kokottsd server as MCP tools over
// stdio, so agent hosts can speak text through the local engine.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var (
	serverURL string
	timeout   time.Duration
)

type speakParams struct {
	Text     string  `json:"text" mcp:"The text to speak aloud"`
	Voice    string  `json:"voice,omitempty" mcp:"Voice ID, e.g. 'jf_alpha' (optional, server default used when empty)"`
	Language string  `json:"language,omitempty" mcp:"Language name, e.g. 'Japanese' (optional)"`
	Speed    float64 `json:"speed,omitempty" mcp:"Speech speed multiplier (optional, default 1.0)"`
}

type getVoicesParams struct{}

type notifyCompletionParams struct {
	Message string `json:"message,omitempty" mcp:"Completion message to announce (optional, a short default is used when empty)"`
	Voice   string `json:"voice,omitempty" mcp:"Voice ID to announce with (optional)"`
}

type playResult struct {
	Status         string  `json:"status"`
	Chunks         int     `json:"chunks"`
	GenerationTime float64 `json:"generation_time"`
	AudioDuration  float64 `json:"audio_duration"`
	RTF            float64 `json:"rtf"`
}

var rootCmd = &cobra.Command{
	Use:   "kokotts-mcp",
	Short: "MCP stdio front-end for a local kokotts server",
	Long: `kokotts-mcp bridges MCP tool calls to a running kokotts HTTP server.

Tools:
  speak              synthesize text and play it on the server's audio device
  get_voices         list available voices grouped by language
  notify_completion  announce that a task has finished`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		s := mcp.NewServer(&mcp.Implementation{
			Name:    "kokotts",
			Title:   "KokoTTS Speech",
			Version: version,
		}, nil)

		mcp.AddTool(s, &mcp.Tool{
			Name:        "speak",
			Description: "Convert text to speech and play it aloud on the local audio device",
		}, handleSpeak)

		mcp.AddTool(s, &mcp.Tool{
			Name:        "get_voices",
			Description: "List available TTS voices grouped by language",
		}, handleGetVoices)

		mcp.AddTool(s, &mcp.Tool{
			Name:        "notify_completion",
			Description: "Announce out loud that the current task has finished",
		}, handleNotifyCompletion)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("mcp server starting", slog.String("backend", serverURL))
		if err := s.Run(ctx, &mcp.StdioTransport{}); err != nil {
			return fmt.Errorf("failed to serve MCP: %w", err)
		}
		return nil
	},
}

func handleSpeak(ctx context.Context, _ *mcp.CallToolRequest, input speakParams) (*mcp.CallToolResult, any, error) {
	if input.Text == "" {
		return textResult("Error: empty text provided"), nil, nil
	}
	result, err := postStreamPlay(ctx, map[string]any{
		"text":     input.Text,
		"voice":    input.Voice,
		"language": input.Language,
		"speed":    input.Speed,
	})
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Spoke %.1fs of audio (%d chunks, RTF %.3f)",
		result.AudioDuration, result.Chunks, result.RTF)), nil, nil
}

func handleGetVoices(ctx context.Context, _ *mcp.CallToolRequest, _ getVoicesParams) (*mcp.CallToolResult, any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/voices", nil)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err)), nil, nil
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return textResult(fmt.Sprintf("Error: TTS server unreachable: %v", err)), nil, nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err)), nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return textResult(fmt.Sprintf("Error: server returned %d: %s", resp.StatusCode, body)), nil, nil
	}
	return textResult(string(body)), nil, nil
}

func handleNotifyCompletion(ctx context.Context, _ *mcp.CallToolRequest, input notifyCompletionParams) (*mcp.CallToolResult, any, error) {
	message := input.Message
	if message == "" {
		message = "タスクが完了しました。"
	}
	result, err := postStreamPlay(ctx, map[string]any{"text": message, "voice": input.Voice})
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Announced completion (%.1fs of audio)", result.AudioDuration)), nil, nil
}

func postStreamPlay(ctx context.Context, body map[string]any) (playResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return playResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serverURL+"/tts/stream-play", bytes.NewReader(payload))
	if err != nil {
		return playResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(req)
	if err != nil {
		return playResult{}, fmt.Errorf("TTS server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Error != "" {
			return playResult{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return playResult{}, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var result playResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return playResult{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: timeout}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8001", "Base URL of the kokotts HTTP server")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "HTTP request timeout (long texts take a while to play)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
