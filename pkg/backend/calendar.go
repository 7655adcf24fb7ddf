package backend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

const (
	calendarCacheTTL = 30 * time.Minute
	calendarCleanup  = time.Hour
	untitledEvent    = "Untitled Event"
)

// CalendarConfig параметры календаря iCal
type CalendarConfig struct {
	URL     string
	Days    int
	Limit   int
	Timeout time.Duration
}

// CalendarEvent событие календаря
type CalendarEvent struct {
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"is_all_day"`
}

// calendarFetch результат загрузки. Ошибка тоже кешируется, чтобы
// недоступный календарь не запрашивался на каждой реплике.
type calendarFetch struct {
	events []CalendarEvent
	err    error
}

// CalendarClient загружает .ics по URL и кеширует события на 30 минут
type CalendarClient struct {
	cfg    CalendarConfig
	client *http.Client
	cache  *cache.Cache
	now    func() time.Time
}

// NewCalendarClient создает клиент календаря
func NewCalendarClient(cfg CalendarConfig) *CalendarClient {
	if cfg.Days <= 0 {
		cfg.Days = 30
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CalendarClient{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		cache:  cache.New(calendarCacheTTL, calendarCleanup),
		now:    time.Now,
	}
}

// Events все события календаря, отсортированные по началу
func (c *CalendarClient) Events(ctx context.Context) ([]CalendarEvent, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("calendar url not configured: %w", pipeline.ErrUnavailable)
	}
	if cached, found := c.cache.Get(c.cfg.URL); found {
		f := cached.(calendarFetch)
		return f.events, f.err
	}

	events, err := c.fetch(ctx)
	c.cache.SetDefault(c.cfg.URL, calendarFetch{events: events, err: err})
	return events, err
}

// Upcoming события, начинающиеся в ближайшие Days дней, не больше Limit
func (c *CalendarClient) Upcoming(ctx context.Context) ([]CalendarEvent, error) {
	events, err := c.Events(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	until := now.AddDate(0, 0, c.cfg.Days)
	var upcoming []CalendarEvent
	for _, ev := range events {
		if ev.Start.Before(now) || ev.Start.After(until) {
			continue
		}
		upcoming = append(upcoming, ev)
		if len(upcoming) == c.cfg.Limit {
			break
		}
	}
	return upcoming, nil
}

func (c *CalendarClient) fetch(ctx context.Context) ([]CalendarEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	body, err := do(c.client, req, "calendar")
	if err != nil {
		return nil, err
	}
	return ParseCalendar(body)
}

// ParseCalendar разбирает iCal. События без DTSTART пропускаются, у повторяющихся
// берется только первое вхождение.
func ParseCalendar(data []byte) ([]CalendarEvent, error) {
	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var events []CalendarEvent
	for _, ev := range cal.Events() {
		event, ok := parseEvent(ev)
		if ok {
			events = append(events, event)
		}
	}
	slices.SortStableFunc(events, func(a, b CalendarEvent) int {
		return a.Start.Compare(b.Start)
	})
	return events, nil
}

func parseEvent(ev *ics.VEvent) (CalendarEvent, bool) {
	startProp := ev.GetProperty(ics.ComponentPropertyDtStart)
	if startProp == nil {
		return CalendarEvent{}, false
	}

	event := CalendarEvent{
		Summary:     propertyValue(ev, ics.ComponentPropertySummary),
		Description: propertyValue(ev, ics.ComponentPropertyDescription),
		Location:    propertyValue(ev, ics.ComponentPropertyLocation),
		AllDay:      isDate(startProp),
	}
	if event.Summary == "" {
		event.Summary = untitledEvent
	}

	start, err := eventTime(startProp, event.AllDay, ev.GetStartAt, ev.GetAllDayStartAt)
	if err != nil {
		return CalendarEvent{}, false
	}
	event.Start = start

	if endProp := ev.GetProperty(ics.ComponentPropertyDtEnd); endProp != nil {
		if end, err := eventTime(endProp, isDate(endProp), ev.GetEndAt, ev.GetAllDayEndAt); err == nil {
			event.End = end
		}
	}
	if event.End.IsZero() {
		if event.AllDay {
			event.End = event.Start.AddDate(0, 0, 1)
		} else {
			event.End = event.Start.Add(time.Hour)
		}
	}
	return event, true
}

// eventTime время без часового пояса и даты целого дня считаются в UTC
func eventTime(prop *ics.IANAProperty, allDay bool, timed, date func() (time.Time, error)) (time.Time, error) {
	if allDay {
		t, err := date()
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	t, err := timed()
	if err != nil {
		return time.Time{}, err
	}
	if _, hasTZ := prop.ICalParameters["TZID"]; !hasTZ && !strings.HasSuffix(prop.Value, "Z") {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	}
	return t, nil
}

func isDate(prop *ics.IANAProperty) bool {
	if values, ok := prop.ICalParameters["VALUE"]; ok && len(values) > 0 {
		return strings.EqualFold(values[0], "DATE")
	}
	return !strings.Contains(prop.Value, "T")
}

func propertyValue(ev *ics.VEvent, p ics.ComponentProperty) string {
	if prop := ev.GetProperty(p); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}

// CalendarEnricher добавляет ближайшие события в каждый контекст
type CalendarEnricher struct {
	client   *CalendarClient
	location *time.Location
	logger   logrus.FieldLogger
}

// NewCalendarEnricher создает источник календаря. Время выводится в location.
func NewCalendarEnricher(client *CalendarClient, location *time.Location, logger logrus.FieldLogger) *CalendarEnricher {
	if location == nil {
		location = time.UTC
	}
	return &CalendarEnricher{client: client, location: location, logger: logger}
}

func (e *CalendarEnricher) Name() string { return "calendar" }

// Enrich недоступный календарь не мешает ответу
func (e *CalendarEnricher) Enrich(ctx context.Context, _ string) (pipeline.Contribution, error) {
	events, err := e.client.Upcoming(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Не удалось получить события календаря")
		return pipeline.Contribution{}, nil
	}

	items := make([]pipeline.Item, 0, len(events))
	for i := range events {
		items = append(items, pipeline.Item{
			Kind:  pipeline.KindCalendar,
			Title: "Calendar event",
			Text:  FormatEvent(events[i], e.location),
			Data:  &events[i],
		})
	}
	return pipeline.Contribution{Items: items}, nil
}

// FormatEvent строки события для системного промпта
func FormatEvent(ev CalendarEvent, loc *time.Location) string {
	// дата целого дня не переводится в часовой пояс
	if ev.AllDay {
		return fmt.Sprintf("\n- %s (All day on %s)", ev.Summary, ev.Start.Format("Monday, January 02, 2006"))
	}
	start := ev.Start.In(loc)

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n- %s on %s to %s", ev.Summary,
		start.Format("Monday, January 02 at 03:04 PM"), ev.End.In(loc).Format("03:04 PM"))
	if ev.Location != "" {
		fmt.Fprintf(&sb, "\n- Location: %s", ev.Location)
	}
	if ev.Description != "" {
		fmt.Fprintf(&sb, "\n- Details: %s", truncateText(ev.Description, 100))
	}
	return sb.String()
}

// truncateText обрезает по символам и добавляет многоточие
func truncateText(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
