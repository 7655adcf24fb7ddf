package pipeline

import (
	"regexp"
	"strconv"
)

var markerPattern = regexp.MustCompile(`\[(CALENDAR|EMAIL|WEATHER|TOMTOM):(\d+)\]`)

// Marker ссылка в ответе ассистента
type Marker struct {
	Kind     string
	Index    int
	Position int // порядковый номер маркера в тексте
}

// ParseMarkers находит маркеры в ответе в порядке появления
func ParseMarkers(text string) []Marker {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	markers := make([]Marker, 0, len(matches))
	for _, m := range matches {
		index, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		markers = append(markers, Marker{Kind: m[1], Index: index, Position: len(markers)})
	}
	return markers
}

// Reference маркер, сопоставленный с элементом обогащения
type Reference struct {
	Item     Item
	Position int
}

// ResolveMarkers сопоставляет маркеры с элементами контекста. Маркеры без
// элемента (выдуманные моделью) возвращаются вторым значением.
func ResolveMarkers(markers []Marker, items []Item) ([]Reference, []Marker) {
	refs := make([]Reference, 0, len(markers))
	var unresolved []Marker
	for _, m := range markers {
		found := false
		for _, item := range items {
			if item.Kind == m.Kind && item.Index == m.Index {
				refs = append(refs, Reference{Item: item, Position: m.Position})
				found = true
				break
			}
		}
		if !found {
			unresolved = append(unresolved, m)
		}
	}
	return refs, unresolved
}
