package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
)

// WhisperConfig configures the speech-to-text client.
type WhisperConfig struct {
	APIBase  string // e.g. "https://api.openai.com/v1" or a Groq endpoint
	APIKey   string
	Model    string // e.g. "whisper-1" (OpenAI) or "whisper-large-v3" (Groq)
	Language string // optional ISO-639-1 hint
	Logger   *slog.Logger
}

// Whisper transcribes audio via the OpenAI-compatible transcription API.
type Whisper struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	logger   *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &Whisper{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   sharedHTTPClient(defaultHTTPTimeout),
		logger:   cfg.Logger,
	}
}

// TranscriptionResult is the transcription API response.
type TranscriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe converts audio to text. filename must carry the container
// extension (e.g. "turn.webm") so the API can sniff the format.
func (w *Whisper) Transcribe(ctx context.Context, audio io.Reader, filename string) (*TranscriptionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio: %w", err)
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "json")
	if w.language != "" {
		writer.WriteField("language", w.language)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiBase+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transcription error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}

	w.logger.Info("transcription complete",
		"text_len", len(result.Text),
		"language", result.Language,
		"duration", result.Duration,
	)
	return &result, nil
}
