package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/verbalis/verbalis/internal/httpkit"
)

// DefaultVoiceID is the Rachel voice.
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

const defaultElevenLabsURL = "https://api.elevenlabs.io"

// ElevenLabs synthesizes speech via the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	apiKey     string
	voiceID    string
	agentID    string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// Play receives synthesized audio. When nil, audio is discarded
	// after synthesis (the API call still validates the pipeline).
	Play func(ctx context.Context, audio []byte, mime string) error
}

// NewElevenLabs creates an ElevenLabs sink. Empty voiceID selects
// DefaultVoiceID; empty baseURL selects the public API. agentID is
// optional and, when set, is validated by Verify.
func NewElevenLabs(apiKey, voiceID, agentID, baseURL string, logger *slog.Logger) *ElevenLabs {
	if logger == nil {
		logger = slog.Default()
	}
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	if baseURL == "" {
		baseURL = defaultElevenLabsURL
	}
	return &ElevenLabs{
		apiKey:     apiKey,
		voiceID:    voiceID,
		agentID:    agentID,
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		logger:     logger,
	}
}

// Verify checks the API key by fetching account info, and the agent ID
// (when configured) by fetching the agent. Session start retries this.
func (e *ElevenLabs) Verify(ctx context.Context) error {
	if err := e.get(ctx, "/v1/user"); err != nil {
		return fmt.Errorf("verify api key: %w", err)
	}
	if e.agentID != "" {
		if err := e.get(ctx, "/v1/convai/agents/"+e.agentID); err != nil {
			return fmt.Errorf("verify agent %s: %w", e.agentID, err)
		}
	}
	return nil
}

// Speak synthesizes text with the configured voice. Long text is
// truncated to the API's character limit.
func (e *ElevenLabs) Speak(ctx context.Context, text string) error {
	if len(text) > 4096 {
		text = text[:4093] + "..."
	}

	payload := map[string]any{
		"text":     text,
		"model_id": "eleven_monolingual_v1",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := e.baseURL + "/v1/text-to-speech/" + e.voiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("speech API error %d: %s", resp.StatusCode, errBody)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	e.logger.Debug("synthesized speech", "voice", e.voiceID, "chars", len(text), "bytes", len(audio))

	if e.Play != nil {
		return e.Play(ctx, audio, "audio/mpeg")
	}
	return nil
}

func (e *ElevenLabs) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("speech API error %d: %s", resp.StatusCode, body)
	}
	return nil
}
