package session

import (
	"time"

	"github.com/arzzra/voice_bridge/pkg/media"
	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

// DefaultWelcome приветствие после ответа на звонок
const DefaultWelcome = "Hello! How can I help you today?"

// Config параметры сессий звонков
type Config struct {
	// Welcome приветствие, пустая строка отключает его
	Welcome string
	// RecordingsDir каталог WAV записей, пустая строка отключает запись
	RecordingsDir string
	// SettleDelay пауза после воспроизведения перед снятием заглушения
	SettleDelay time.Duration
	// InactivityTimeout завершение звонка без речи абонента, 0 отключает
	InactivityTimeout time.Duration
	// IdleDelay задержка между событиями ended и idle
	IdleDelay time.Duration
	// RestartDelay пауза между остановкой и запуском SIP сервера
	RestartDelay time.Duration

	MinUtterance    time.Duration
	MinRMS          float64
	NormalizeTarget float64
	STTSampleRate   int
	HistoryLimit    int

	Detector media.DetectorConfig
	Tone     media.ToneConfig
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Welcome:         DefaultWelcome,
		RecordingsDir:   "recordings",
		SettleDelay:     500 * time.Millisecond,
		IdleDelay:       time.Second,
		RestartDelay:    time.Second,
		MinUtterance:    300 * time.Millisecond,
		MinRMS:          50,
		NormalizeTarget: 0.9,
		STTSampleRate:   16000,
		HistoryLimit:    pipeline.DefaultHistoryLimit,
		Detector:        media.DefaultDetectorConfig(),
		Tone:            media.DefaultThinkingTone(),
	}
}

// withDefaults заполняет нулевые числовые поля. Строки и InactivityTimeout
// остаются как есть: пустое значение у них означает отключение.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SettleDelay <= 0 {
		c.SettleDelay = def.SettleDelay
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = def.IdleDelay
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = def.RestartDelay
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = def.MinUtterance
	}
	if c.MinRMS <= 0 {
		c.MinRMS = def.MinRMS
	}
	if c.NormalizeTarget <= 0 || c.NormalizeTarget > 1 {
		c.NormalizeTarget = def.NormalizeTarget
	}
	if c.STTSampleRate <= 0 {
		c.STTSampleRate = def.STTSampleRate
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.Tone.SampleRate <= 0 {
		c.Tone = def.Tone
	}
	return c
}
