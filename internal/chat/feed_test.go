package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpresschat/xpress-chat/internal/backend/memory"
)

func newTestFeed(t *testing.T) (*MessageFeed, *memory.Store) {
	t.Helper()
	store := memory.NewStore(testLogger())
	return NewMessageFeed(store, testLogger()), store
}

func collectMessages(t *testing.T, f *MessageFeed, roomID string) <-chan Message {
	t.Helper()
	ch := make(chan Message, 16)
	sub, err := f.Subscribe(roomID, func(m Message) {
		ch <- m
	})
	require.NoError(t, err)
	t.Cleanup(sub.Cancel)
	return ch
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestMessageFeed_SendRejectsEmptyText(t *testing.T) {
	f, _ := newTestFeed(t)
	ctx := context.Background()

	ch := collectMessages(t, f, RoomID)

	for _, text := range []string{"", "   ", "\n\t"} {
		err := f.Send(ctx, RoomID, "u1", "ada", "", text)
		assert.ErrorIs(t, err, ErrEmptyMessage, "text: %q", text)
	}

	select {
	case m := <-ch:
		t.Fatalf("empty send reached the store: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessageFeed_SendTrimsText(t *testing.T) {
	f, _ := newTestFeed(t)
	ctx := context.Background()

	ch := collectMessages(t, f, RoomID)

	require.NoError(t, f.Send(ctx, RoomID, "u1", "ada", "avatar-uri", "  hello  "))

	m := waitMessage(t, ch)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, "u1", m.SenderID)
	assert.Equal(t, "ada", m.SenderName)
	assert.Equal(t, "avatar-uri", m.SenderAvatar)
	assert.Equal(t, RoomID, m.RoomID)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.Timestamp.IsZero(), "timestamp must be server-assigned")
}

func TestMessageFeed_DeliversInTimestampOrder(t *testing.T) {
	f, store := newTestFeed(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})

	for _, text := range []string{"first", "second", "third"} {
		require.NoError(t, f.Send(ctx, RoomID, "u1", "ada", "", text))
	}

	// subscribing after the fact delivers the backlog in order
	ch := collectMessages(t, f, RoomID)

	assert.Equal(t, "first", waitMessage(t, ch).Text)
	assert.Equal(t, "second", waitMessage(t, ch).Text)
	assert.Equal(t, "third", waitMessage(t, ch).Text)
}

func TestMessageFeed_FiltersByRoom(t *testing.T) {
	f, _ := newTestFeed(t)
	ctx := context.Background()

	ch := collectMessages(t, f, RoomID)

	require.NoError(t, f.Send(ctx, "other-room", "u1", "ada", "", "elsewhere"))
	require.NoError(t, f.Send(ctx, RoomID, "u1", "ada", "", "here"))

	m := waitMessage(t, ch)
	assert.Equal(t, "here", m.Text)
}
