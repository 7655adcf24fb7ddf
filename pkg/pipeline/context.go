package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPersona системная роль ассистента по умолчанию
const DefaultPersona = "You are a friendly AI assistant on a phone call. Keep your responses short, " +
	"conversational, and to the point. Avoid long explanations, lists, or formatting. " +
	"Speak naturally, as if you are talking to a friend on the phone."

// DefaultHistoryLimit сколько последних реплик попадает в контекст
const DefaultHistoryLimit = 10

const markerInstructions = `

IMPORTANT: When referring to specific calendar events, emails, weather data, or TomTom results, use these markers:
- For calendar events: [CALENDAR:0], [CALENDAR:1], etc. (matching the indices shown above)
- For emails: [EMAIL:0], [EMAIL:1], etc. (matching the indices shown above)
- For weather data: [WEATHER:0], [WEATHER:1], etc. (matching the indices shown above)
- For TomTom data: [TOMTOM:0], [TOMTOM:1], etc. (matching the indices shown above)

Example: "You have a meeting tomorrow [CALENDAR:0] and an email from John [EMAIL:0]. The weather in New York is sunny [WEATHER:0]. The route to Boston is 200 miles [TOMTOM:0]."

Only use markers for events/emails/weather/TomTom data explicitly listed above. Do not hallucinate markers.`

// ContextConfig параметры построения контекста
type ContextConfig struct {
	Persona      string
	Timezone     string
	HistoryLimit int
}

// ContextBuilder собирает системный промпт и историю для языковой модели
type ContextBuilder struct {
	persona      string
	location     *time.Location
	enrichers    []Enricher
	historyLimit int
	now          func() time.Time
	logger       logrus.FieldLogger
}

// NewContextBuilder создает построитель. Неизвестный часовой пояс заменяется на UTC.
func NewContextBuilder(cfg ContextConfig, enrichers []Enricher, logger logrus.FieldLogger) *ContextBuilder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	location := time.UTC
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.WithError(err).WithField("timezone", cfg.Timezone).Warn("Неизвестный часовой пояс, используется UTC")
		} else {
			location = loc
		}
	}

	return &ContextBuilder{
		persona:      cfg.Persona,
		location:     location,
		enrichers:    enrichers,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
		logger:       logger.WithField("component", "context"),
	}
}

// Build возвращает сообщения для модели: системный промпт и последние
// реплики без системных. Текущая реплика добавляется, если ее нет в истории.
func (b *ContextBuilder) Build(ctx context.Context, userText string, history []Message) ([]Message, []Item) {
	system, items := b.SystemPrompt(ctx, userText)

	turns := make([]Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role == RoleSystem {
			continue
		}
		turns = append(turns, m)
	}
	if n := len(turns); n == 0 || turns[n-1].Role != RoleUser || turns[n-1].Content != userText {
		turns = append(turns, Message{Role: RoleUser, Content: userText})
	}
	if len(turns) > b.historyLimit {
		turns = turns[len(turns)-b.historyLimit:]
	}

	messages := make([]Message, 0, len(turns)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: system})
	messages = append(messages, turns...)
	return messages, items
}

// SystemPrompt собирает персону, текущую дату и данные источников
func (b *ContextBuilder) SystemPrompt(ctx context.Context, userText string) (string, []Item) {
	var sb strings.Builder
	sb.WriteString(b.persona)
	b.writeDateTime(&sb)

	var items []Item
	perKind := make(map[string]int)

	for _, enricher := range b.enrichers {
		contribution, err := enricher.Enrich(ctx, userText)
		if err != nil {
			b.logger.WithError(err).WithField("source", enricher.Name()).Warn("Источник контекста недоступен")
			continue
		}

		for _, item := range contribution.Items {
			item.Index = perKind[item.Kind]
			perKind[item.Kind]++
			items = append(items, item)

			sb.WriteString("\n\n")
			sb.WriteString(item.Title)
			sb.WriteString(" ")
			sb.WriteString(item.Marker())
			sb.WriteString(":")
			sb.WriteString(item.Text)
		}
		if contribution.Note != "" {
			sb.WriteString("\n\n")
			sb.WriteString(contribution.Note)
		}
		if !contribution.Empty() {
			b.logger.WithFields(logrus.Fields{
				"source": enricher.Name(),
				"items":  len(contribution.Items),
			}).Info("Контекст дополнен")
		}
	}

	if len(items) > 0 {
		sb.WriteString(markerInstructions)
	}
	return sb.String(), items
}

func (b *ContextBuilder) writeDateTime(sb *strings.Builder) {
	now := b.now().In(b.location)
	today := now.Format("Monday, January 02, 2006")
	tomorrow := now.AddDate(0, 0, 1).Format("Monday, January 02, 2006")

	sb.WriteString("\n\nCurrent date and time: ")
	sb.WriteString(now.Format("Monday, January 02, 2006 at 03:04 PM MST"))
	sb.WriteString("\n\nIMPORTANT - Date interpretation (all dates are in ")
	sb.WriteString(b.location.String())
	sb.WriteString(" timezone):")
	sb.WriteString("\n- 'Today' refers to " + today)
	sb.WriteString("\n- 'Tomorrow' refers to " + tomorrow)
	sb.WriteString("\n- When the user asks about 'tomorrow', they mean events on " + tomorrow + ", NOT today")
	sb.WriteString("\n- Always interpret relative dates (today, tomorrow, etc.) based on the current date shown above")
}
