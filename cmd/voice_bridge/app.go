package main

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/backend"
	"github.com/arzzra/voice_bridge/pkg/config"
	"github.com/arzzra/voice_bridge/pkg/logger"
	"github.com/arzzra/voice_bridge/pkg/pipeline"
	"github.com/arzzra/voice_bridge/pkg/session"
	"github.com/arzzra/voice_bridge/pkg/store"
)

// app общие для команд компоненты: конфигурация, логгер, база и бэкенды
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	store  *store.Store
	deps   session.Deps
	closer io.Closer
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: st, closer: closer}
	a.deps = session.Deps{
		Store:       st,
		Transcriber: newTranscriber(cfg.STT),
		Chat:        newChat(cfg.LLM),
		Synthesizer: newSynthesizer(cfg.TTS, log),
		Context:     pipeline.NewContextBuilder(pipeline.ContextConfig{Persona: cfg.Assistant.Persona, Timezone: cfg.Assistant.Timezone}, newEnrichers(cfg, log), log),
		Logger:      log,
	}

	log.WithFields(logrus.Fields{
		"database": cfg.Database.Path,
		"stt":      cfg.STT.APIKey != "",
		"llm":      cfg.LLM.Model,
		"tts":      cfg.TTS.APIKey != "",
	}).Info("Конфигурация загружена")
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Ошибка закрытия базы")
	}
	_ = a.closer.Close()
}

// sessionConfig параметры сессий из конфигурации
func (a *app) sessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.Welcome = a.cfg.Session.Welcome
	sc.RecordingsDir = a.cfg.Session.RecordingsDir
	sc.SettleDelay = a.cfg.Session.SettleDelay
	sc.InactivityTimeout = a.cfg.Session.InactivityTimeout
	sc.Detector.SilenceTimeout = a.cfg.Session.SilenceTimeout
	return sc
}

func newTranscriber(c config.STTConfig) pipeline.Transcriber {
	return backend.NewGroqTranscriber(backend.STTConfig{
		URL:      c.URL,
		APIKey:   c.APIKey,
		Model:    c.Model,
		Language: c.Language,
		Timeout:  c.Timeout,
	})
}

func newChat(c config.LLMConfig) pipeline.ChatModel {
	return backend.NewOllamaChat(backend.LLMConfig{
		URL:         c.URL,
		Model:       c.Model,
		Temperature: c.Temperature,
		NumPredict:  c.NumPredict,
		Timeout:     c.Timeout,
	})
}

func newSynthesizer(c config.TTSConfig, log logrus.FieldLogger) pipeline.Synthesizer {
	return backend.NewSpeechClient(backend.TTSConfig{
		URL:     c.URL,
		APIKey:  c.APIKey,
		Model:   c.Model,
		Voices:  c.Voices,
		Timeout: c.Timeout,
	}, log)
}

// newEnrichers источники контекста, для которых заданы ключи и адреса.
// Порядок определяет нумерацию блоков в системном промпте.
func newEnrichers(cfg *config.Config, log logrus.FieldLogger) []pipeline.Enricher {
	// неизвестный пояс уже залогирован построителем контекста
	location, err := time.LoadLocation(cfg.Assistant.Timezone)
	if err != nil {
		location = time.UTC
	}

	var enrichers []pipeline.Enricher
	if cfg.Email.Enabled() {
		client := backend.NewIMAPClient(backend.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			Mailbox:  cfg.Email.Mailbox,
			Limit:    cfg.Email.Limit,
			Insecure: cfg.Email.Insecure,
		}, log)
		enrichers = append(enrichers, backend.NewEmailEnricher(client, location, log))
	}
	if cfg.Weather.APIKey != "" {
		client := backend.NewWeatherClient(backend.WeatherConfig{APIKey: cfg.Weather.APIKey, Units: cfg.Weather.Units})
		enrichers = append(enrichers, backend.NewWeatherEnricher(client, log))
	}
	if cfg.TomTom.APIKey != "" {
		client := backend.NewTomTomClient(backend.TomTomConfig{APIKey: cfg.TomTom.APIKey})
		enrichers = append(enrichers, backend.NewTomTomEnricher(client, log))
	}
	if cfg.Calendar.URL != "" {
		client := backend.NewCalendarClient(backend.CalendarConfig{
			URL:   cfg.Calendar.URL,
			Days:  cfg.Calendar.Days,
			Limit: cfg.Calendar.Limit,
		})
		enrichers = append(enrichers, backend.NewCalendarEnricher(client, location, log))
	}
	return enrichers
}

func closeOnError(a *app, err error) error {
	a.Close()
	return fmt.Errorf("voice_bridge: %w", err)
}
