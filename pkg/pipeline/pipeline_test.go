package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHallucination(t *testing.T) {
	for _, text := range []string{"Thank you.", "  you ", "BYE", "thank you for watching"} {
		assert.True(t, IsHallucination(text), text)
	}
	for _, text := range []string{"thank you very much for the help", "what's the weather", ""} {
		assert.False(t, IsHallucination(text), text)
	}
}

func TestWeatherLocation(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"What's the weather in Paris today?", "paris", true},
		{"weather for new york tomorrow", "new york", true},
		{"Is it raining in Seattle?", "seattle", true},
		{"How's the weather?", "", false},
		{"Tell me a joke", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := WeatherLocation(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, IsWeatherQuery("Will it snow?"))
	assert.False(t, IsWeatherQuery("Call my mother"))
}

func TestTomTomIntent(t *testing.T) {
	assert.Equal(t, TomTomDirections, TomTomIntent("How do I get to the airport?"))
	assert.Equal(t, TomTomTraffic, TomTomIntent("Any traffic on the bridge?"))
	assert.Equal(t, TomTomPOI, TomTomIntent("Where is the nearest pharmacy?"))
	assert.Equal(t, "", TomTomIntent("What time is it?"))
}

func TestPOIQuery(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Can you find me a coffee shop near downtown?", "coffee shop"},
		{"Where is the nearest pharmacy?", "pharmacy"},
		{"I'm looking for some sushi in town", "sushi"},
	}
	for _, tt := range tests {
		got, ok := POIQuery(tt.text)
		assert.True(t, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}

	_, ok := POIQuery("hello there")
	assert.False(t, ok)
}

func TestIsEmailQuery(t *testing.T) {
	assert.True(t, IsEmailQuery("Do I have any new messages?"))
	assert.False(t, IsEmailQuery("What's up?"))
}

func TestParseAndResolveMarkers(t *testing.T) {
	markers := ParseMarkers("Sunny [WEATHER:0], see [TOMTOM:1] and [FOO:1] or [WEATHER:3].")
	require.Len(t, markers, 3)
	assert.Equal(t, Marker{Kind: KindWeather, Index: 0, Position: 0}, markers[0])
	assert.Equal(t, Marker{Kind: KindTomTom, Index: 1, Position: 1}, markers[1])
	assert.Equal(t, Marker{Kind: KindWeather, Index: 3, Position: 2}, markers[2])

	items := []Item{
		{Kind: KindWeather, Index: 0, Title: "Weather data"},
		{Kind: KindTomTom, Index: 0, Title: "Points of Interest"},
	}
	refs, unresolved := ResolveMarkers(markers, items)
	require.Len(t, refs, 1)
	assert.Equal(t, KindWeather, refs[0].Item.Kind)
	assert.Equal(t, 0, refs[0].Position)
	assert.Equal(t, []Marker{markers[1], markers[2]}, unresolved)

	assert.Empty(t, ParseMarkers("no markers here"))
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func fixedBuilder(enrichers ...Enricher) *ContextBuilder {
	b := NewContextBuilder(ContextConfig{Persona: "You are a test bot.", Timezone: "UTC"}, enrichers, quietLogger())
	b.now = func() time.Time { return time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC) }
	return b
}

func weatherEnricher(location string) Enricher {
	return EnricherFunc{ID: "weather", Fn: func(context.Context, string) (Contribution, error) {
		return Contribution{Items: []Item{{
			Kind:  KindWeather,
			Title: "Weather data",
			Text:  "\n- Location: " + location,
		}}}, nil
	}}
}

func TestContextBuilder_SystemPrompt(t *testing.T) {
	b := fixedBuilder()

	prompt, items := b.SystemPrompt(context.Background(), "hello")
	assert.Empty(t, items)
	assert.True(t, strings.HasPrefix(prompt, "You are a test bot.\n\nCurrent date and time: Friday, March 15, 2024 at 02:30 PM UTC"))
	assert.Contains(t, prompt, "(all dates are in UTC timezone)")
	assert.Contains(t, prompt, "- 'Today' refers to Friday, March 15, 2024")
	assert.Contains(t, prompt, "- 'Tomorrow' refers to Saturday, March 16, 2024")
	assert.NotContains(t, prompt, "IMPORTANT: When referring")
}

func TestContextBuilder_EnrichmentItems(t *testing.T) {
	failing := EnricherFunc{ID: "broken", Fn: func(context.Context, string) (Contribution, error) {
		return Contribution{}, errors.New("down")
	}}
	note := EnricherFunc{ID: "note", Fn: func(context.Context, string) (Contribution, error) {
		return Contribution{Note: "Note: ask for the city."}, nil
	}}

	b := fixedBuilder(weatherEnricher("Paris"), failing, weatherEnricher("Berlin"), note)
	prompt, items := b.SystemPrompt(context.Background(), "weather")

	require.Len(t, items, 2)
	assert.Equal(t, 0, items[0].Index)
	assert.Equal(t, 1, items[1].Index)
	assert.Contains(t, prompt, "\n\nWeather data [WEATHER:0]:\n- Location: Paris")
	assert.Contains(t, prompt, "\n\nWeather data [WEATHER:1]:\n- Location: Berlin")
	assert.Contains(t, prompt, "\n\nNote: ask for the city.")
	assert.True(t, strings.HasSuffix(prompt, "Do not hallucinate markers."))
}

func TestContextBuilder_Build(t *testing.T) {
	b := fixedBuilder()

	var history []Message
	history = append(history, Message{Role: RoleSystem, Content: "User hung up"})
	for i := 0; i < 7; i++ {
		history = append(history,
			Message{Role: RoleUser, Content: "question"},
			Message{Role: RoleAssistant, Content: "answer"},
		)
	}
	history = append(history, Message{Role: RoleUser, Content: "last question"})

	messages, _ := b.Build(context.Background(), "last question", history)
	require.Len(t, messages, 11)
	assert.Equal(t, RoleSystem, messages[0].Role)
	for _, m := range messages[1:] {
		assert.NotEqual(t, RoleSystem, m.Role)
	}
	assert.Equal(t, Message{Role: RoleUser, Content: "last question"}, messages[10])

	// без истории текущая реплика добавляется
	messages, _ = b.Build(context.Background(), "hi", nil)
	require.Len(t, messages, 2)
	assert.Equal(t, Message{Role: RoleUser, Content: "hi"}, messages[1])
}

func TestContextBuilder_UnknownTimezone(t *testing.T) {
	b := NewContextBuilder(ContextConfig{Timezone: "Mars/Olympus"}, nil, quietLogger())
	assert.Equal(t, time.UTC, b.location)
	assert.Equal(t, DefaultPersona, b.persona)
	assert.Equal(t, DefaultHistoryLimit, b.historyLimit)
}
