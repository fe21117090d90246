package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizroom-service/internal/domain"
)

func chat(room, body string) domain.Event {
	return domain.Event{
		Type:    domain.EventMessage,
		RoomID:  room,
		Message: &domain.Message{RoomID: room, Kind: domain.MessageChat, Body: body},
	}
}

func TestPublishIsFIFOPerRoom(t *testing.T) {
	hub := NewHub(Options{SubscriberBuffer: 32}, nil, nil)
	sub, cancel := hub.Subscribe("r1", 0)
	defer cancel()

	for i := 0; i < 10; i++ {
		hub.Publish(chat("r1", fmt.Sprint(i)))
	}
	for i := 0; i < 10; i++ {
		ev := <-sub
		require.NotNil(t, ev.Message)
		assert.Equal(t, fmt.Sprint(i), ev.Message.Body)
		assert.Equal(t, uint64(i+1), ev.Message.Seq)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	hub := NewHub(Options{}, nil, nil)
	r1, c1 := hub.Subscribe("r1", 0)
	defer c1()
	r2, c2 := hub.Subscribe("r2", 0)
	defer c2()

	hub.Publish(chat("r1", "hello"))

	assert.Len(t, r1, 1)
	assert.Len(t, r2, 0)
}

func TestReplayBufferServesLateSubscribers(t *testing.T) {
	hub := NewHub(Options{ReplayBuffer: 3}, nil, nil)
	for i := 1; i <= 5; i++ {
		hub.Publish(chat("r1", fmt.Sprint(i)))
	}

	sub, cancel := hub.Subscribe("r1", 3)
	defer cancel()
	require.Len(t, sub, 2)
	assert.Equal(t, "4", (<-sub).Message.Body)
	assert.Equal(t, "5", (<-sub).Message.Body)

	all, cancelAll := hub.Subscribe("r1", 0)
	defer cancelAll()
	assert.Len(t, all, 3, "only the last three are retained")
}

func TestSnapshotsAreNotReplayed(t *testing.T) {
	hub := NewHub(Options{ReplayBuffer: 10}, nil, nil)
	hub.Publish(domain.Event{Type: domain.EventSnapshot, RoomID: "r1", Snapshot: &domain.Snapshot{}})

	sub, cancel := hub.Subscribe("r1", 0)
	defer cancel()
	assert.Len(t, sub, 0)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(Options{SubscriberBuffer: 1}, nil, nil)
	sub, cancel := hub.Subscribe("r1", 0)
	defer cancel()

	hub.Publish(chat("r1", "a"))
	hub.Publish(chat("r1", "b"))

	first, ok := <-sub
	require.True(t, ok)
	assert.Equal(t, "a", first.Message.Body)
	_, ok = <-sub
	assert.False(t, ok, "channel closed after overflow")
	assert.Equal(t, 0, hub.Subscribers("r1"))
}

func TestCancelAndCloseRoom(t *testing.T) {
	hub := NewHub(Options{}, nil, nil)
	_, cancel := hub.Subscribe("r1", 0)
	sub2, _ := hub.Subscribe("r1", 0)
	assert.Equal(t, 2, hub.Subscribers("r1"))

	cancel()
	cancel()
	assert.Equal(t, 1, hub.Subscribers("r1"))

	hub.CloseRoom("r1")
	_, ok := <-sub2
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers("r1"))
}

type recordingRelay struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingRelay) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestPublishForwardsToRelayButDeliverDoesNot(t *testing.T) {
	relay := &recordingRelay{}
	hub := NewHub(Options{}, relay, nil)
	sub, cancel := hub.Subscribe("r1", 0)
	defer cancel()

	hub.Publish(chat("r1", "local"))
	hub.Deliver(chat("r1", "remote"))

	assert.Len(t, sub, 2)
	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.events, 1)
	assert.Equal(t, "local", relay.events[0].Message.Body)
}

func TestSubscribeQueuesInitialEventsAfterReplay(t *testing.T) {
	hub := NewHub(Options{ReplayBuffer: 5}, nil, nil)
	hub.Publish(chat("r1", "earlier"))

	snap := domain.Event{Type: domain.EventSnapshot, RoomID: "r1", Snapshot: &domain.Snapshot{}}
	sub, cancel := hub.Subscribe("r1", 0, snap)
	defer cancel()

	assert.Equal(t, domain.EventMessage, (<-sub).Type)
	assert.Equal(t, domain.EventSnapshot, (<-sub).Type)
}
