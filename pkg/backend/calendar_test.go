package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

const testCalendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//voice_bridge//test//EN
BEGIN:VEVENT
UID:dentist
DTSTAMP:20261001T000000Z
DTSTART:20261020T170000Z
DTEND:20261020T180000Z
SUMMARY:Dentist
LOCATION:12 Main St
DESCRIPTION:Bring insurance card
END:VEVENT
BEGIN:VEVENT
UID:offsite
DTSTAMP:20261001T000000Z
DTSTART;VALUE=DATE:20261018
SUMMARY:Team offsite
END:VEVENT
BEGIN:VEVENT
UID:past
DTSTAMP:20261001T000000Z
DTSTART:20261001T090000Z
SUMMARY:Past meeting
END:VEVENT
BEGIN:VEVENT
UID:floating
DTSTAMP:20261001T000000Z
DTSTART:20261016T093000
END:VEVENT
BEGIN:VEVENT
UID:nostart
DTSTAMP:20261001T000000Z
SUMMARY:No start
END:VEVENT
BEGIN:VEVENT
UID:far
DTSTAMP:20261001T000000Z
DTSTART:20261201T090000Z
SUMMARY:Far away
END:VEVENT
END:VCALENDAR
`

var calendarNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func calendarServer(t *testing.T, hits *int32, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/calendar.ics", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(testCalendar))
	}))
}

func newTestCalendar(url string) *CalendarClient {
	client := NewCalendarClient(CalendarConfig{URL: url})
	client.now = func() time.Time { return calendarNow }
	return client
}

func TestParseCalendar(t *testing.T) {
	events, err := ParseCalendar([]byte(testCalendar))
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Equal(t, "Past meeting", events[0].Summary)
	assert.Equal(t, calendarNow.Add(-14*24*time.Hour-3*time.Hour), events[0].Start)
	assert.Equal(t, events[0].Start.Add(time.Hour), events[0].End)

	// время без пояса считается в UTC, пустой заголовок заменяется
	assert.Equal(t, untitledEvent, events[1].Summary)
	assert.Equal(t, time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC), events[1].Start)

	offsite := events[2]
	assert.True(t, offsite.AllDay)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), offsite.Start)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), offsite.End)

	dentist := events[3]
	assert.Equal(t, "Dentist", dentist.Summary)
	assert.Equal(t, "12 Main St", dentist.Location)
	assert.Equal(t, "Bring insurance card", dentist.Description)
	assert.Equal(t, time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC), dentist.End.UTC())
	assert.False(t, dentist.AllDay)

	assert.Equal(t, "Far away", events[4].Summary)
}

func TestParseCalendar_Invalid(t *testing.T) {
	_, err := ParseCalendar([]byte("BEGIN:VEVENT\nEND:VEVENT\n"))
	assert.Error(t, err)
}

func TestCalendarClient_UpcomingAndCache(t *testing.T) {
	var hits int32
	server := calendarServer(t, &hits, http.StatusOK)
	defer server.Close()

	client := newTestCalendar(server.URL + "/calendar.ics")
	ctx := context.Background()

	upcoming, err := client.Upcoming(ctx)
	require.NoError(t, err)
	var titles []string
	for _, ev := range upcoming {
		titles = append(titles, ev.Summary)
	}
	assert.Equal(t, []string{untitledEvent, "Team offsite", "Dentist"}, titles)

	_, err = client.Upcoming(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCalendarClient_Limit(t *testing.T) {
	var hits int32
	server := calendarServer(t, &hits, http.StatusOK)
	defer server.Close()

	client := NewCalendarClient(CalendarConfig{URL: server.URL + "/calendar.ics", Limit: 1})
	client.now = func() time.Time { return calendarNow }

	upcoming, err := client.Upcoming(context.Background())
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, untitledEvent, upcoming[0].Summary)
}

func TestCalendarClient_FailureIsCached(t *testing.T) {
	var hits int32
	server := calendarServer(t, &hits, http.StatusNotFound)
	defer server.Close()

	client := newTestCalendar(server.URL + "/calendar.ics")
	for i := 0; i < 2; i++ {
		_, err := client.Events(context.Background())
		var status *StatusError
		require.True(t, errors.As(err, &status))
		assert.Equal(t, http.StatusNotFound, status.Code)
		assert.Equal(t, "calendar", status.Backend)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCalendarClient_NoURL(t *testing.T) {
	_, err := NewCalendarClient(CalendarConfig{}).Events(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrUnavailable)
}

func TestCalendarEnricher(t *testing.T) {
	var hits int32
	server := calendarServer(t, &hits, http.StatusOK)
	defer server.Close()

	pdt := time.FixedZone("PDT", -7*60*60)
	enricher := NewCalendarEnricher(newTestCalendar(server.URL+"/calendar.ics"), pdt, quietLogger())

	// календарь добавляется независимо от вопроса
	c, err := enricher.Enrich(context.Background(), "tell me a joke")
	require.NoError(t, err)
	require.Len(t, c.Items, 3)
	for _, item := range c.Items {
		assert.Equal(t, pipeline.KindCalendar, item.Kind)
		assert.Equal(t, "Calendar event", item.Title)
	}

	assert.Equal(t, "\n- Team offsite (All day on Sunday, October 18, 2026)", c.Items[1].Text)
	assert.Equal(t,
		"\n- Dentist on Tuesday, October 20 at 10:00 AM to 11:00 AM"+
			"\n- Location: 12 Main St"+
			"\n- Details: Bring insurance card",
		c.Items[2].Text)

	event := c.Items[2].Data.(*CalendarEvent)
	assert.Equal(t, "Dentist", event.Summary)
}

func TestCalendarEnricher_Unavailable(t *testing.T) {
	var hits int32
	server := calendarServer(t, &hits, http.StatusInternalServerError)
	defer server.Close()

	enricher := NewCalendarEnricher(newTestCalendar(server.URL+"/calendar.ics"), nil, quietLogger())
	c, err := enricher.Enrich(context.Background(), "what's on my schedule")
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func TestFormatEvent_LongDescription(t *testing.T) {
	long := make([]rune, 150)
	for i := range long {
		long[i] = 'я'
	}
	text := FormatEvent(CalendarEvent{
		Summary:     "Review",
		Start:       calendarNow,
		End:         calendarNow.Add(30 * time.Minute),
		Description: string(long),
	}, time.UTC)

	assert.Contains(t, text, "\n- Review on Thursday, October 15 at 12:00 PM to 12:30 PM")
	assert.Contains(t, text, "\n- Details: "+string(long[:100])+"...")
}
