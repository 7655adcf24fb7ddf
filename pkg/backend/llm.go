package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

// LLMConfig параметры Ollama. URL корень сервера, запросы идут в /v1.
type LLMConfig struct {
	URL         string
	Model       string
	Temperature float64
	NumPredict  int
	Timeout     time.Duration
}

// OllamaChat клиент OpenAI-совместимого /v1/chat/completions Ollama
type OllamaChat struct {
	cfg    LLMConfig
	client openai.Client
}

// NewOllamaChat создает клиент языковой модели
func NewOllamaChat(cfg LLMConfig) *OllamaChat {
	if cfg.URL == "" {
		cfg.URL = "http://host.docker.internal:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.NumPredict <= 0 {
		cfg.NumPredict = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	// Ollama ключ не проверяет
	return &OllamaChat{cfg: cfg, client: newOpenAIClient(cfg.URL+"/v1", "ollama", cfg.Timeout)}
}

// Model имя модели, сохраняется вместе с ответом
func (c *OllamaChat) Model() string {
	return c.cfg.Model
}

// Chat возвращает ответ ассистента. Пустой ответ считается ошибкой.
func (c *OllamaChat) Chat(ctx context.Context, messages []pipeline.Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.cfg.Model,
		Messages:    chatMessages(messages),
		Temperature: openai.Float(c.cfg.Temperature),
		MaxTokens:   openai.Int(int64(c.cfg.NumPredict)),
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	observe("llm", start, err)
	if err != nil {
		return "", apiError("llm", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices from %s: %w", c.cfg.Model, pipeline.ErrUnavailable)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("empty reply from %s: %w", c.cfg.Model, pipeline.ErrUnavailable)
	}
	return reply, nil
}

func chatMessages(messages []pipeline.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case pipeline.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case pipeline.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
