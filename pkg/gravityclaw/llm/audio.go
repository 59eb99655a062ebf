package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Transcriber turns voice messages into text via a Whisper-compatible
// /audio/transcriptions endpoint (Groq by default).
type Transcriber struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string

	httpClient *http.Client
	logger     *slog.Logger
}

// NewTranscriber creates a transcriber with Groq defaults for empty fields.
func NewTranscriber(baseURL, apiKey, model, language string, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &Transcriber{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		Language:   language,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "transcriber"),
	}
}

// Transcribe uploads audio and returns the transcript.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "voice.ogg"
	}
	// Telegram voice notes are .oga, which Whisper only accepts as .ogg.
	filename = strings.TrimSuffix(filename, ".oga")
	if !strings.Contains(filename, ".") {
		filename += ".ogg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio data: %w", err)
	}
	if err := w.WriteField("model", t.Model); err != nil {
		return "", fmt.Errorf("writing model field: %w", err)
	}
	if t.Language != "" {
		_ = w.WriteField("language", t.Language)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parsing transcription: %w", err)
	}

	t.logger.Info("audio transcribed",
		"size_bytes", len(audio),
		"duration_ms", time.Since(start).Milliseconds(),
		"chars", len(result.Text),
	)
	return strings.TrimSpace(result.Text), nil
}

// Speaker synthesizes speech with ElevenLabs and returns OGG/Opus audio.
type Speaker struct {
	APIKey  string
	VoiceID string
	Model   string
	BaseURL string

	httpClient *http.Client
	logger     *slog.Logger
}

// NewSpeaker creates an ElevenLabs speaker.
func NewSpeaker(apiKey, voiceID string, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	if voiceID == "" {
		voiceID = "onwK4e9ZLuTAKqWW03F9"
	}
	return &Speaker{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		Model:      "eleven_multilingual_v2",
		BaseURL:    "https://api.elevenlabs.io/v1",
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "tts"),
	}
}

// Speak converts text to speech.
func (s *Speaker) Speak(ctx context.Context, text string) ([]byte, error) {
	payload := map[string]any{
		"text":          text,
		"model_id":      s.Model,
		"output_format": "ogg_opus",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
			"style":            0.0,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/text-to-speech/"+s.VoiceID, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("elevenlabs error", "status", resp.StatusCode, "body", truncate(string(audio), 300))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(audio)}
	}

	s.logger.Debug("speech generated", "chars", len(text), "bytes", len(audio))
	return audio, nil
}
