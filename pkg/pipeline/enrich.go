package pipeline

import (
	"context"
	"fmt"
)

// Виды элементов обогащения, на которые ответ ссылается маркерами
const (
	KindCalendar = "CALENDAR"
	KindEmail    = "EMAIL"
	KindWeather  = "WEATHER"
	KindTomTom   = "TOMTOM"
)

// Item данные, добавленные в системный промпт. Ответ ассистента ссылается
// на них маркером [Kind:Index].
type Item struct {
	Kind  string
	Index int
	// Title заголовок блока, например "Weather data"
	Title string
	// Text строки блока, каждая начинается с "\n- "
	Text string
	// Data исходные данные для сохранения в базе
	Data any
}

// Marker строка маркера элемента
func (i Item) Marker() string {
	return fmt.Sprintf("[%s:%d]", i.Kind, i.Index)
}

// Contribution вклад источника в системный промпт
type Contribution struct {
	Items []Item
	// Note подсказка ассистенту без данных, например уточнить город
	Note string
}

// Empty сообщает, что источник ничего не добавил
func (c Contribution) Empty() bool {
	return len(c.Items) == 0 && c.Note == ""
}

// Enricher источник дополнительного контекста по тексту абонента.
// Источник сам решает, относится ли к нему запрос, и возвращает пустой
// вклад, если нет.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, userText string) (Contribution, error)
}

// EnricherFunc адаптер функции к Enricher
type EnricherFunc struct {
	ID string
	Fn func(ctx context.Context, userText string) (Contribution, error)
}

func (f EnricherFunc) Name() string { return f.ID }

func (f EnricherFunc) Enrich(ctx context.Context, userText string) (Contribution, error) {
	return f.Fn(ctx, userText)
}
