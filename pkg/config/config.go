// Package config загружает конфигурацию из YAML файла и переменных
// окружения VOICE_BRIDGE_*.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arzzra/voice_bridge/pkg/backend"
)

// EnvPrefix префикс переменных окружения: sip.port -> VOICE_BRIDGE_SIP_PORT
const EnvPrefix = "VOICE_BRIDGE"

// Config корневая конфигурация сервиса
type Config struct {
	SIP       SIPConfig       `mapstructure:"sip" yaml:"sip"`
	RTP       RTPConfig       `mapstructure:"rtp" yaml:"rtp"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	STT       STTConfig       `mapstructure:"stt" yaml:"stt"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	TTS       TTSConfig       `mapstructure:"tts" yaml:"tts"`
	Assistant AssistantConfig `mapstructure:"assistant" yaml:"assistant"`
	Weather   WeatherConfig   `mapstructure:"weather" yaml:"weather"`
	TomTom    TomTomConfig    `mapstructure:"tomtom" yaml:"tomtom"`
	Calendar  CalendarConfig  `mapstructure:"calendar" yaml:"calendar"`
	Email     EmailConfig     `mapstructure:"email" yaml:"email"`
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`
}

// SIPConfig параметры SIP сервера
type SIPConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Username  string `mapstructure:"username" yaml:"username"`
	Extension string `mapstructure:"extension" yaml:"extension"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	LocalIP   string `mapstructure:"local_ip" yaml:"local_ip"`
}

// ListenAddr адрес SIP сокета
func (c SIPConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RTPConfig диапазон медиа-портов и QoS
type RTPConfig struct {
	PortMin int `mapstructure:"port_min" yaml:"port_min"`
	PortMax int `mapstructure:"port_max" yaml:"port_max"`
	DSCP    int `mapstructure:"dscp" yaml:"dscp"`
}

// SessionConfig параметры звонка
type SessionConfig struct {
	Welcome           string        `mapstructure:"welcome" yaml:"welcome"`
	SilenceTimeout    time.Duration `mapstructure:"silence_timeout" yaml:"silence_timeout"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout" yaml:"inactivity_timeout"`
	RecordingsDir     string        `mapstructure:"recordings_dir" yaml:"recordings_dir"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// APIConfig HTTP API
type APIConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// DatabaseConfig база истории звонков
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig уровень, формат и ротация файла
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// STTConfig распознавание речи
type STTConfig struct {
	URL      string        `mapstructure:"url" yaml:"url"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Model    string        `mapstructure:"model" yaml:"model"`
	Language string        `mapstructure:"language" yaml:"language"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LLMConfig языковая модель
type LLMConfig struct {
	URL         string        `mapstructure:"url" yaml:"url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	NumPredict  int           `mapstructure:"num_predict" yaml:"num_predict"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TTSConfig синтез речи
type TTSConfig struct {
	URL     string          `mapstructure:"url" yaml:"url"`
	APIKey  string          `mapstructure:"api_key" yaml:"api_key"`
	Model   string          `mapstructure:"model" yaml:"model"`
	Voices  []backend.Voice `mapstructure:"voices" yaml:"voices"`
	Timeout time.Duration   `mapstructure:"timeout" yaml:"timeout"`
}

// AssistantConfig персона и часовой пояс
type AssistantConfig struct {
	Persona  string `mapstructure:"persona" yaml:"persona"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// WeatherConfig OpenWeather
type WeatherConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Units  string `mapstructure:"units" yaml:"units"`
}

// TomTomConfig поиск мест TomTom
type TomTomConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// CalendarConfig календарь iCal, пустой URL отключает источник
type CalendarConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Days  int    `mapstructure:"days" yaml:"days"`
	Limit int    `mapstructure:"limit" yaml:"limit"`
}

// EmailConfig почтовый ящик IMAP, источник включается при заданных учетных данных
type EmailConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Mailbox  string `mapstructure:"mailbox" yaml:"mailbox"`
	Limit    int    `mapstructure:"limit" yaml:"limit"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
}

// Enabled заданы адрес и пароль приложения
func (c EmailConfig) Enabled() bool {
	return c.Username != "" && c.Password != ""
}

// ReconcileConfig сверка зависших звонков
type ReconcileConfig struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

// Load читает файл path (может быть пустым) и переменные окружения
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults регистрирует все ключи, иначе AutomaticEnv не увидит
// переменные окружения для отсутствующих в файле ключей
func setDefaults(v *viper.Viper) {
	v.SetDefault("sip.host", "0.0.0.0")
	v.SetDefault("sip.port", 5060)
	v.SetDefault("sip.username", "voice-bridge")
	v.SetDefault("sip.extension", "")
	v.SetDefault("sip.user_agent", "VoiceBridge/1.0")
	v.SetDefault("sip.local_ip", "")

	v.SetDefault("rtp.port_min", 10000)
	v.SetDefault("rtp.port_max", 20000)
	v.SetDefault("rtp.dscp", 46)

	v.SetDefault("session.welcome", "Hello! How can I help you today?")
	v.SetDefault("session.silence_timeout", 1500*time.Millisecond)
	v.SetDefault("session.inactivity_timeout", time.Duration(0))
	v.SetDefault("session.recordings_dir", "recordings")
	v.SetDefault("session.settle_delay", 500*time.Millisecond)

	v.SetDefault("api.listen", "0.0.0.0:8080")
	v.SetDefault("database.path", "voice_bridge.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("stt.url", backend.DefaultSTTURL)
	v.SetDefault("stt.api_key", "")
	v.SetDefault("stt.model", backend.DefaultSTTModel)
	v.SetDefault("stt.language", "en")
	v.SetDefault("stt.timeout", 30*time.Second)

	v.SetDefault("llm.url", "http://host.docker.internal:11434")
	v.SetDefault("llm.model", "llama3.1")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.num_predict", 256)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("tts.url", "http://10.0.0.59:5050")
	v.SetDefault("tts.api_key", "")
	v.SetDefault("tts.model", "tts-1")
	v.SetDefault("tts.timeout", 30*time.Second)

	v.SetDefault("assistant.persona", "")
	v.SetDefault("assistant.timezone", "America/Los_Angeles")

	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.units", "imperial")
	v.SetDefault("tomtom.api_key", "")

	v.SetDefault("calendar.url", "")
	v.SetDefault("calendar.days", 30)
	v.SetDefault("calendar.limit", 20)

	v.SetDefault("email.host", "imap.gmail.com")
	v.SetDefault("email.port", 993)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.mailbox", "INBOX")
	v.SetDefault("email.limit", 3)
	v.SetDefault("email.insecure", false)

	v.SetDefault("reconcile.interval", 2*time.Second)
	v.SetDefault("reconcile.stale_after", 10*time.Minute)
}

// Validate проверяет диапазоны и заполняет производные значения
func (c *Config) Validate() error {
	var errs []error

	if c.SIP.Port <= 0 || c.SIP.Port > 65535 {
		errs = append(errs, fmt.Errorf("sip.port %d out of range", c.SIP.Port))
	}
	if c.SIP.Username == "" {
		c.SIP.Username = c.SIP.Extension
	}
	if c.RTP.PortMin <= 0 || c.RTP.PortMax > 65535 || c.RTP.PortMin > c.RTP.PortMax {
		errs = append(errs, fmt.Errorf("rtp port range %d-%d is invalid", c.RTP.PortMin, c.RTP.PortMax))
	}
	if c.RTP.DSCP < 0 || c.RTP.DSCP > 63 {
		errs = append(errs, fmt.Errorf("rtp.dscp %d out of range 0-63", c.RTP.DSCP))
	}
	if c.Session.InactivityTimeout < 0 {
		errs = append(errs, errors.New("session.inactivity_timeout must not be negative"))
	}
	if c.Session.SilenceTimeout <= 0 {
		errs = append(errs, errors.New("session.silence_timeout must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format: %s (must be json or text)", c.Log.Format))
	}

	switch c.Weather.Units {
	case "imperial", "metric", "standard":
	default:
		errs = append(errs, fmt.Errorf("weather.units %q must be imperial, metric or standard", c.Weather.Units))
	}

	if c.Calendar.Days <= 0 || c.Calendar.Limit <= 0 {
		errs = append(errs, fmt.Errorf("calendar.days and calendar.limit must be positive, got %d and %d", c.Calendar.Days, c.Calendar.Limit))
	}
	if c.Email.Enabled() {
		if c.Email.Port <= 0 || c.Email.Port > 65535 {
			errs = append(errs, fmt.Errorf("email.port %d out of range", c.Email.Port))
		}
		if c.Email.Limit <= 0 {
			errs = append(errs, fmt.Errorf("email.limit %d must be positive", c.Email.Limit))
		}
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f out of range 0-2", c.LLM.Temperature))
	}
	if len(c.TTS.Voices) == 0 {
		c.TTS.Voices = []backend.Voice{{Name: backend.DefaultVoice}}
	}
	for i, voice := range c.TTS.Voices {
		if voice.Name == "" {
			errs = append(errs, fmt.Errorf("tts.voices[%d].name is required", i))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
