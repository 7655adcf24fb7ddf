package pipeline

import "strings"

// Фразы, которые Whisper выдает на тишине и шуме
var hallucinations = map[string]struct{}{
	"thank you":              {},
	"thank you.":             {},
	"thanks":                 {},
	"thanks.":                {},
	"bye":                    {},
	"bye.":                   {},
	"goodbye":                {},
	"goodbye.":               {},
	"thank you for watching": {},
	"you":                    {},
	"you.":                   {},
}

// IsHallucination сообщает, что расшифровка целиком совпадает с типичной галлюцинацией
func IsHallucination(text string) bool {
	_, ok := hallucinations[strings.ToLower(strings.TrimSpace(text))]
	return ok
}
