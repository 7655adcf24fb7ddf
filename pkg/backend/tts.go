package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

// DefaultVoice голос по умолчанию openai-edge-tts
const DefaultVoice = "en-US-GuyNeural"

// Voice одна стратегия синтеза. Голоса пробуются по порядку.
type Voice struct {
	Name    string        `mapstructure:"name" yaml:"name"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TTSConfig параметры сервиса синтеза
type TTSConfig struct {
	URL     string
	APIKey  string
	Model   string
	Voices  []Voice
	Timeout time.Duration
}

// SpeechClient клиент OpenAI-совместимого /v1/audio/speech
type SpeechClient struct {
	cfg    TTSConfig
	client openai.Client
	logger logrus.FieldLogger
}

// NewSpeechClient создает клиент синтеза
func NewSpeechClient(cfg TTSConfig, logger logrus.FieldLogger) *SpeechClient {
	if cfg.URL == "" {
		cfg.URL = "http://10.0.0.59:5050"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Voices) == 0 {
		cfg.Voices = []Voice{{Name: DefaultVoice}}
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	// таймаут задается контекстом каждой попытки
	return &SpeechClient{cfg: cfg, client: newOpenAIClient(cfg.URL+"/v1", cfg.APIKey, 0), logger: logger}
}

// Synthesize возвращает MP3. Если все голоса недоступны, ошибки объединяются.
func (c *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts: empty input text")
	}
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("tts api key not configured: %w", pipeline.ErrUnavailable)
	}

	var errs []error
	for _, voice := range c.cfg.Voices {
		audio, err := c.synthesizeVoice(ctx, text, voice)
		if err == nil {
			return audio, nil
		}
		c.logger.WithError(err).WithField("voice", voice.Name).Warn("Голос недоступен")
		errs = append(errs, fmt.Errorf("voice %s: %w", voice.Name, err))

		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (c *SpeechClient) synthesizeVoice(ctx context.Context, text string, voice Voice) ([]byte, error) {
	timeout := voice.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	audio, err := c.speech(ctx, text, voice.Name)
	observe("tts", start, err)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio: %w", pipeline.ErrUnavailable)
	}
	return audio, nil
}

func (c *SpeechClient) speech(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          c.cfg.Model,
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, apiError("tts", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("tts read response: %w", err)
	}
	return audio, nil
}
