package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TTSConfig configures the text-to-speech client.
type TTSConfig struct {
	Provider string // "openai" | "elevenlabs"
	APIBase  string
	APIKey   string
	Model    string // e.g. "tts-1" (OpenAI) or model ID (ElevenLabs)
	Voice    string // e.g. "nova" (OpenAI) or a voice ID (ElevenLabs)
	Logger   *slog.Logger
}

// TTS synthesizes reply audio for the voice pipeline. The caller owns the
// returned ReadCloser; the payload is MP3.
type TTS struct {
	provider string
	apiBase  string
	apiKey   string
	model    string
	voice    string
	client   *http.Client
	logger   *slog.Logger
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "nova"
	}
	return &TTS{
		provider: cfg.Provider,
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voice:    cfg.Voice,
		client:   sharedHTTPClient(60 * time.Second),
		logger:   cfg.Logger,
	}
}

func (t *TTS) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	switch t.provider {
	case "openai":
		return t.synthesizeOpenAI(ctx, text)
	case "elevenlabs":
		return t.synthesizeElevenLabs(ctx, text)
	default:
		return nil, fmt.Errorf("unsupported TTS provider: %s", t.provider)
	}
}

func (t *TTS) synthesizeOpenAI(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(map[string]string{
		"model": t.model,
		"input": text,
		"voice": t.voice,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("TTS error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return resp.Body, nil
}

func (t *TTS) synthesizeElevenLabs(ctx context.Context, text string) (io.ReadCloser, error) {
	model := t.model
	if model == "" || model == "tts-1" {
		model = "eleven_monolingual_v1"
	}
	body, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": model,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s", t.voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ElevenLabs error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return resp.Body, nil
}
