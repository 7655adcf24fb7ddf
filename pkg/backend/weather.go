package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	defaultWeatherURL = "https://api.openweathermap.org/data/2.5"
	lookupCacheTTL    = 10 * time.Minute
	lookupCleanup     = 20 * time.Minute
)

// ErrLocationNotFound OpenWeather не знает такого места
var ErrLocationNotFound = errors.New("weather: location not found")

// WeatherConfig параметры OpenWeather
type WeatherConfig struct {
	APIKey  string
	Units   string // imperial, metric или standard
	BaseURL string
	Timeout time.Duration
}

// Weather текущая погода
type Weather struct {
	Location    string   `json:"location"`
	Country     string   `json:"country"`
	Temperature float64  `json:"temperature"`
	FeelsLike   float64  `json:"feels_like"`
	Humidity    float64  `json:"humidity"`
	Description string   `json:"description"`
	WindSpeed   *float64 `json:"wind_speed,omitempty"`
	Units       string   `json:"units"`
}

type owmResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
}

// WeatherClient клиент /weather с кешем по городу
type WeatherClient struct {
	cfg    WeatherConfig
	client *http.Client
	cache  *cache.Cache
}

// NewWeatherClient создает клиент погоды
func NewWeatherClient(cfg WeatherConfig) *WeatherClient {
	if cfg.Units == "" {
		cfg.Units = "imperial"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultWeatherURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WeatherClient{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		cache:  cache.New(lookupCacheTTL, lookupCleanup),
	}
}

// Current возвращает текущую погоду для места
func (c *WeatherClient) Current(ctx context.Context, location string) (*Weather, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("weather api key not configured: %w", pipeline.ErrUnavailable)
	}

	key := strings.ToLower(strings.TrimSpace(location))
	if cached, found := c.cache.Get(key); found {
		return cached.(*Weather), nil
	}

	query := url.Values{}
	query.Set("q", location)
	query.Set("appid", c.cfg.APIKey)
	query.Set("units", c.cfg.Units)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/weather?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	body, err := do(c.client, req, "weather")
	if err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%q: %w", location, ErrLocationNotFound)
		}
		return nil, err
	}

	var resp owmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode weather: %w", err)
	}

	w := &Weather{
		Location:    resp.Name,
		Country:     resp.Sys.Country,
		Temperature: resp.Main.Temp,
		FeelsLike:   resp.Main.FeelsLike,
		Humidity:    resp.Main.Humidity,
		Units:       c.cfg.Units,
	}
	if w.Location == "" {
		w.Location = location
	}
	if len(resp.Weather) > 0 {
		w.Description = resp.Weather[0].Description
	}
	if resp.Wind != nil {
		w.WindSpeed = resp.Wind.Speed
	}

	c.cache.SetDefault(key, w)
	return w, nil
}

// WeatherEnricher добавляет погоду в контекст, если абонент о ней спрашивает
type WeatherEnricher struct {
	client *WeatherClient
	logger logrus.FieldLogger
}

// NewWeatherEnricher создает источник погоды
func NewWeatherEnricher(client *WeatherClient, logger logrus.FieldLogger) *WeatherEnricher {
	return &WeatherEnricher{client: client, logger: logger}
}

func (e *WeatherEnricher) Name() string { return "weather" }

// Enrich ошибки сервиса превращаются в подсказку ассистенту переспросить город
func (e *WeatherEnricher) Enrich(ctx context.Context, userText string) (pipeline.Contribution, error) {
	if !pipeline.IsWeatherQuery(userText) {
		return pipeline.Contribution{}, nil
	}

	location, ok := pipeline.WeatherLocation(userText)
	if !ok {
		return pipeline.Contribution{
			Note: "Note: User is asking about weather but didn't specify a location. " +
				"Ask them which city or location they want weather for.",
		}, nil
	}

	w, err := e.client.Current(ctx, location)
	if err != nil {
		e.logger.WithError(err).WithField("location", location).Warn("Не удалось получить погоду")
		return pipeline.Contribution{
			Note: fmt.Sprintf("Note: Could not fetch weather for '%s'. The location might not be found "+
				"or the API key might be invalid. Ask the user to provide a valid city name.", location),
		}, nil
	}

	return pipeline.Contribution{Items: []pipeline.Item{{
		Kind:  pipeline.KindWeather,
		Title: "Weather data",
		Text:  FormatWeather(w),
		Data:  w,
	}}}, nil
}

// FormatWeather строки блока погоды для системного промпта
func FormatWeather(w *Weather) string {
	temp, speed := unitSymbols(w.Units)

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n- Location: %s, %s", w.Location, w.Country)
	fmt.Fprintf(&sb, "\n- Temperature: %s%s", formatNumber(w.Temperature), temp)
	fmt.Fprintf(&sb, "\n- Feels like: %s%s", formatNumber(w.FeelsLike), temp)
	fmt.Fprintf(&sb, "\n- Conditions: %s", w.Description)
	fmt.Fprintf(&sb, "\n- Humidity: %s%%", formatNumber(w.Humidity))
	if w.WindSpeed != nil && *w.WindSpeed != 0 {
		fmt.Fprintf(&sb, "\n- Wind speed: %s %s", formatNumber(*w.WindSpeed), speed)
	}
	return sb.String()
}

func unitSymbols(units string) (string, string) {
	switch units {
	case "metric":
		return "°C", "m/s"
	case "standard":
		return "K", "m/s"
	default:
		return "°F", "mph"
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
