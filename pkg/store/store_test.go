package store

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

// testClock управляемое время для записей
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func openTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := &testClock{t: time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)}
	s.now = clock.now
	return s, clock
}

func TestStore_CallLifecycle(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	convID, err := s.CreateCall(ctx, "call-1", "alice")
	require.NoError(t, err)
	assert.NotZero(t, convID)

	got, err := s.Conversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Nil(t, got.AnsweredAt)

	clock.advance(5 * time.Second)
	require.NoError(t, s.MarkAnswered(ctx, "call-1"))
	clock.advance(time.Second)
	require.NoError(t, s.MarkAnswered(ctx, "call-1"))

	clock.advance(30 * time.Second)
	require.NoError(t, s.EndCall(ctx, "call-1"))

	got, err = s.ConversationByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.AnsweredAt)
	require.NotNil(t, got.EndedAt)
	assert.InDelta(t, 31.0, got.DurationSeconds, 0.001)

	// повторное завершение не меняет длительность
	clock.advance(time.Minute)
	require.NoError(t, s.EndCall(ctx, "call-1"))
	got, err = s.ConversationByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.InDelta(t, 31.0, got.DurationSeconds, 0.001)

	msgs, err := s.Messages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, MessageCallStarted, msgs[0].Content)
	assert.Equal(t, MessageCallAnswered, msgs[1].Content)
}

func TestStore_UnknownCall(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.MarkAnswered(ctx, "nope"), ErrCallNotFound)
	assert.ErrorIs(t, s.EndCall(ctx, "nope"), ErrCallNotFound)
	assert.ErrorIs(t, s.SetRecordingPath(ctx, "nope", "/tmp/x.wav"), ErrCallNotFound)

	_, err := s.AppendMessage(ctx, "nope", pipeline.RoleUser, "hi", "")
	assert.ErrorIs(t, err, ErrCallNotFound)

	_, err = s.RecentMessages(ctx, "nope", 10)
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestStore_RecentMessages(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCall(ctx, "call-2", "bob")
	require.NoError(t, err)

	turns := []struct {
		role pipeline.Role
		text string
	}{
		{pipeline.RoleUser, "one"},
		{pipeline.RoleAssistant, "two"},
		{pipeline.RoleSystem, "noise"},
		{pipeline.RoleUser, "three"},
		{pipeline.RoleAssistant, "four"},
	}
	for _, turn := range turns {
		clock.advance(time.Second)
		_, err := s.AppendMessage(ctx, "call-2", turn.role, turn.text, "llama3.1")
		require.NoError(t, err)
	}

	history, err := s.RecentMessages(ctx, "call-2", 3)
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Message{
		{Role: pipeline.RoleAssistant, Content: "two"},
		{Role: pipeline.RoleUser, Content: "three"},
		{Role: pipeline.RoleAssistant, Content: "four"},
	}, history)
}

func TestStore_References(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCall(ctx, "call-3", "carol")
	require.NoError(t, err)
	id, err := s.AppendMessage(ctx, "call-3", pipeline.RoleAssistant, "It is sunny [WEATHER:0].", "llama3.1")
	require.NoError(t, err)

	item := pipeline.Item{
		Kind:  pipeline.KindWeather,
		Index: 0,
		Title: "Weather data",
		Data:  map[string]any{"location": "Paris"},
	}
	require.NoError(t, s.LinkReference(ctx, id, item, 13))

	refs, err := s.References(ctx, id)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, pipeline.KindWeather, refs[0].Kind)
	assert.Equal(t, 13, refs[0].Position)
	assert.JSONEq(t, `{"location":"Paris"}`, refs[0].Data)
}

func TestStore_StaleActiveCalls(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCall(ctx, "old-active", "x")
	require.NoError(t, err)
	_, err = s.CreateCall(ctx, "old-ended", "y")
	require.NoError(t, err)
	require.NoError(t, s.EndCall(ctx, "old-ended"))

	clock.advance(20 * time.Minute)
	_, err = s.CreateCall(ctx, "fresh", "z")
	require.NoError(t, err)

	stale, err := s.StaleActiveCalls(ctx, clock.now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"old-active"}, stale)
}

func TestStore_RecordingAndLogs(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	convID, err := s.CreateCall(ctx, "call-4", "dave")
	require.NoError(t, err)
	require.NoError(t, s.SetRecordingPath(ctx, "call-4", "recordings/call_20240315_140000_call-4.wav"))

	got, err := s.Conversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, "recordings/call_20240315_140000_call-4.wav", got.RecordingPath)

	s.Log(ctx, "info", "call_started", "from dave", "call-4")
	clock.advance(time.Second)
	s.Log(ctx, "error", "tts_failed", "timeout", "call-4")
	s.Log(ctx, "info", "sip_started", "", "")

	logs, err := s.Logs(ctx, "call-4", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "tts_failed", logs[0].Event)

	all, err := s.Logs(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_Conversations(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.CreateCall(ctx, id, "caller")
		require.NoError(t, err)
		clock.advance(time.Minute)
	}

	convs, err := s.Conversations(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c", convs[0].CallID)
	assert.Equal(t, "b", convs[1].CallID)

	convs, err = s.Conversations(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "a", convs[0].CallID)
}
