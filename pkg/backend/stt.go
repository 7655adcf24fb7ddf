package backend

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

// Значения по умолчанию для Groq Whisper
const (
	DefaultSTTURL   = "https://api.groq.com/openai/v1"
	DefaultSTTModel = "whisper-large-v3"
)

// STTConfig параметры сервиса распознавания. URL база OpenAI-совместимого
// API, к ней добавляется audio/transcriptions.
type STTConfig struct {
	URL      string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// GroqTranscriber клиент /audio/transcriptions
type GroqTranscriber struct {
	cfg    STTConfig
	client openai.Client
}

// NewGroqTranscriber создает клиент распознавания
func NewGroqTranscriber(cfg STTConfig) *GroqTranscriber {
	if cfg.URL == "" {
		cfg.URL = DefaultSTTURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultSTTModel
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GroqTranscriber{cfg: cfg, client: newOpenAIClient(cfg.URL, cfg.APIKey, cfg.Timeout)}
}

// Transcribe отправляет WAV и возвращает распознанный текст
func (t *GroqTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if t.cfg.APIKey == "" {
		return "", fmt.Errorf("stt api key not configured: %w", pipeline.ErrUnavailable)
	}

	start := time.Now()
	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          openai.AudioModel(t.cfg.Model),
		Language:       openai.String(t.cfg.Language),
		ResponseFormat: openai.AudioResponseFormatJSON,
	})
	observe("stt", start, err)
	if err != nil {
		return "", apiError("stt", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
