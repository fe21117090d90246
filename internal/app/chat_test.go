package app_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

func TestSendChatTrimsAndStamps(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *app.Config) { cfg.ChatMaxLength = 5 }))
	room := h.room(4, "B")

	msg, err := h.svc.SendChat(h.ctx, room.ID, "B", "  hello world  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, domain.MessageChat, msg.Kind)
	assert.Equal(t, "B", msg.SenderID)
	assert.NotZero(t, msg.Seq)

	_, err = h.svc.SendChat(h.ctx, room.ID, "B", "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	_, err = h.svc.SendChat(h.ctx, room.ID, "stranger", "hi")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestSendChatIsRateLimitedPerPlayer(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *app.Config) {
		cfg.ChatRate = rate.Limit(0.001)
		cfg.ChatBurst = 2
	}))
	room := h.room(4, "B")

	for i := 0; i < 2; i++ {
		_, err := h.svc.SendChat(h.ctx, room.ID, "B", "spam")
		require.NoError(t, err)
	}
	_, err := h.svc.SendChat(h.ctx, room.ID, "B", "spam")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = h.svc.SendChat(h.ctx, room.ID, "A", "calm down")
	assert.NoError(t, err, "limits are per player")
}

func TestReconnectReplaysMissedMessages(t *testing.T) {
	h := newHarness(t)
	room := h.room(4, "B")

	first, err := h.svc.SendChat(h.ctx, room.ID, "A", "one")
	require.NoError(t, err)
	_, err = h.svc.SendChat(h.ctx, room.ID, "B", "two")
	require.NoError(t, err)
	_, err = h.svc.SendChat(h.ctx, room.ID, "A", "three")
	require.NoError(t, err)

	events, cancel, err := h.svc.Subscribe(h.ctx, room.ID, first.Seq)
	require.NoError(t, err)
	defer cancel()

	var bodies []string
	var last domain.EventType
	for len(events) > 0 {
		ev := <-events
		last = ev.Type
		if ev.Type == domain.EventMessage && ev.Message.Kind == domain.MessageChat {
			bodies = append(bodies, ev.Message.Body)
		}
	}
	assert.Equal(t, []string{"two", "three"}, bodies)
	assert.Equal(t, domain.EventSnapshot, last, "snapshot follows the replay")
}

func TestChatRejectedInClosedRoom(t *testing.T) {
	h := newHarness(t)
	room := h.room(4, "B")
	require.NoError(t, h.svc.LeaveRoom(h.ctx, room.ID, "A"))
	require.NoError(t, h.svc.LeaveRoom(h.ctx, room.ID, "B"))

	_, err := h.svc.SendChat(h.ctx, room.ID, "B", "anyone?")
	assert.ErrorIs(t, err, domain.ErrRoomInactive)
}
