// Package pipeline описывает контракты конвейера разговора: распознавание
// речи, языковую модель, синтез речи и источники обогащения контекста.
// Реализации находятся в пакете backend.
package pipeline

import (
	"context"
	"errors"
)

// ErrUnavailable бэкенд недоступен или вернул пустой ответ
var ErrUnavailable = errors.New("pipeline: backend unavailable")

// FallbackReply ответ ассистента, если языковая модель недоступна
const FallbackReply = "I'm sorry, I couldn't process that request."

// Role роль сообщения в диалоге
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message сообщение в контексте языковой модели
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcriber распознает речь из WAV
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// ChatModel генерирует ответ ассистента
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Model() string
}

// Synthesizer синтезирует речь, результат в MP3
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
