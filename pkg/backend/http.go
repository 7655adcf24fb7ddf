// Package backend содержит клиенты внешних сервисов конвейера. Распознавание
// речи (Groq Whisper), языковая модель (Ollama /v1) и синтез речи работают
// через OpenAI SDK; источники обогащения (OpenWeather, TomTom, iCal, IMAP)
// через собственные клиенты.
package backend

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// maxResponseSize ограничение на размер ответа бэкенда
const maxResponseSize = 16 << 20

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "voice_bridge",
	Subsystem: "backend",
	Name:      "request_duration_seconds",
	Help:      "Длительность запросов к внешним сервисам",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
}, []string{"backend", "outcome"})

// StatusError сервис ответил кодом вне 2xx
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Backend, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Backend, e.Code, e.Body)
}

// do выполняет запрос и читает тело ответа. Коды вне 2xx возвращаются как *StatusError.
func do(client *http.Client, req *http.Request, backend string) ([]byte, error) {
	start := time.Now()
	body, err := roundTrip(client, req, backend)
	observe(backend, start, err)
	return body, err
}

func observe(backend string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestDuration.WithLabelValues(backend, outcome).Observe(time.Since(start).Seconds())
}

func roundTrip(client *http.Client, req *http.Request, backend string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", backend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s read response: %w", backend, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(body)
		if len(text) > 200 {
			text = text[:200]
		}
		return nil, &StatusError{Backend: backend, Code: resp.StatusCode, Body: text}
	}
	return body, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
