package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// newOpenAIClient клиент OpenAI-совместимого API. Повторы отключены:
// запасные варианты перебирают сами клиенты.
func newOpenAIClient(baseURL, apiKey string, timeout time.Duration) openai.Client {
	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(baseURL, "/") + "/"),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return openai.NewClient(opts...)
}

// apiError приводит ошибку SDK к *StatusError, если сервис ответил кодом
func apiError(backend string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Backend: backend, Code: apiErr.StatusCode, Body: apiErr.Message}
	}
	return fmt.Errorf("%s request: %w", backend, err)
}
