// Package logger настраивает logrus: уровень, формат и вывод в stdout
// плюс необязательный файл с ротацией.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arzzra/voice_bridge/pkg/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// New создает логгер по конфигурации. Closer закрывает файл ротации,
// если он открыт.
func New(cfg config.LogConfig) (*logrus.Logger, io.Closer, error) {
	return newWithOutput(cfg, os.Stdout)
}

func newWithOutput(cfg config.LogConfig, stdout io.Writer) (*logrus.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	log := logrus.New()
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	writers := []io.Writer{stdout}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, file)
		closer = file
	}
	log.SetOutput(io.MultiWriter(writers...))

	return log, closer, nil
}

func parseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	default:
		return logrus.ParseLevel(level)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
