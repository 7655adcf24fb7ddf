package backend

import (
	"context"
	"encoding/json"
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
	defaultTomTomURL = "https://api.tomtom.com/search/2"
	poiLimit         = 5
	poiPromptResults = 3
)

// TomTomConfig параметры поиска TomTom
type TomTomConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// POI найденное место
type POI struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Address  string `json:"address"`
	Phone    string `json:"phone,omitempty"`
	URL      string `json:"url,omitempty"`
}

// POIResult результат поиска мест
type POIResult struct {
	Query   string `json:"query"`
	Results []POI  `json:"results"`
}

type poiSearchResponse struct {
	Results []struct {
		POI struct {
			Name       string `json:"name"`
			Phone      string `json:"phone"`
			URL        string `json:"url"`
			Categories []struct {
				Name string `json:"name"`
			} `json:"categories"`
		} `json:"poi"`
		Address struct {
			FreeformAddress string `json:"freeformAddress"`
		} `json:"address"`
	} `json:"results"`
}

// TomTomClient клиент poiSearch
type TomTomClient struct {
	cfg    TomTomConfig
	client *http.Client
	cache  *cache.Cache
}

// NewTomTomClient создает клиент TomTom
func NewTomTomClient(cfg TomTomConfig) *TomTomClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTomTomURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TomTomClient{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		cache:  cache.New(lookupCacheTTL, lookupCleanup),
	}
}

// SearchPOI ищет места по запросу
func (c *TomTomClient) SearchPOI(ctx context.Context, query string) (*POIResult, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("tomtom api key not configured: %w", pipeline.ErrUnavailable)
	}

	key := strings.ToLower(strings.TrimSpace(query))
	if cached, found := c.cache.Get(key); found {
		return cached.(*POIResult), nil
	}

	params := url.Values{}
	params.Set("key", c.cfg.APIKey)
	params.Set("limit", strconv.Itoa(poiLimit))
	endpoint := fmt.Sprintf("%s/poiSearch/%s.json?%s", c.cfg.BaseURL, url.PathEscape(query), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	body, err := do(c.client, req, "tomtom")
	if err != nil {
		return nil, err
	}

	var resp poiSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode poi search: %w", err)
	}

	result := &POIResult{Query: query, Results: make([]POI, 0, len(resp.Results))}
	for _, r := range resp.Results {
		categories := make([]string, 0, len(r.POI.Categories))
		for _, cat := range r.POI.Categories {
			categories = append(categories, cat.Name)
		}
		result.Results = append(result.Results, POI{
			Name:     r.POI.Name,
			Category: strings.Join(categories, ", "),
			Address:  r.Address.FreeformAddress,
			Phone:    r.POI.Phone,
			URL:      r.POI.URL,
		})
	}

	c.cache.SetDefault(key, result)
	return result, nil
}

// TomTomEnricher добавляет найденные места в контекст.
// Запросы маршрутов и пробок распознаются, но поиск по ним не выполняется.
type TomTomEnricher struct {
	client *TomTomClient
	logger logrus.FieldLogger
}

// NewTomTomEnricher создает источник мест
func NewTomTomEnricher(client *TomTomClient, logger logrus.FieldLogger) *TomTomEnricher {
	return &TomTomEnricher{client: client, logger: logger}
}

func (e *TomTomEnricher) Name() string { return "tomtom" }

func (e *TomTomEnricher) Enrich(ctx context.Context, userText string) (pipeline.Contribution, error) {
	if pipeline.TomTomIntent(userText) != pipeline.TomTomPOI {
		return pipeline.Contribution{}, nil
	}

	query, ok := pipeline.POIQuery(userText)
	if !ok {
		return pipeline.Contribution{
			Note: "Note: User is searching for a place but query is unclear. Ask them what they're looking for.",
		}, nil
	}

	result, err := e.client.SearchPOI(ctx, query)
	if err != nil {
		e.logger.WithError(err).WithField("query", query).Warn("Поиск мест недоступен")
		return pipeline.Contribution{}, nil
	}

	return pipeline.Contribution{Items: []pipeline.Item{{
		Kind:  pipeline.KindTomTom,
		Title: "Points of Interest",
		Text:  FormatPOI(result),
		Data:  result,
	}}}, nil
}

// FormatPOI строки блока мест, в промпт попадают первые три результата
func FormatPOI(r *POIResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n- Search: %s", r.Query)
	fmt.Fprintf(&sb, "\n- Results found: %d", len(r.Results))
	for i, poi := range r.Results {
		if i == poiPromptResults {
			break
		}
		fmt.Fprintf(&sb, "\n- %d. %s - %s", i+1, poi.Name, poi.Address)
	}
	return sb.String()
}
