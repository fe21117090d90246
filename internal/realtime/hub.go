// Package realtime fans room events out to subscribers in per-room FIFO order.
package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

// Relay forwards locally published events to other service instances.
type Relay interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Options tunes buffering.
type Options struct {
	// SubscriberBuffer is the per-subscriber queue length. A subscriber whose queue is
	// full is dropped and must resubscribe.
	SubscriberBuffer int
	// ReplayBuffer is how many recent messages each room keeps for late subscribers.
	ReplayBuffer int
	RelayTimeout time.Duration
}

// Hub owns one channel per room.
type Hub struct {
	opts   Options
	relay  Relay
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[string]*channel
}

type channel struct {
	mu          sync.Mutex
	seq         uint64
	replay      []domain.Message
	subscribers map[chan domain.Event]struct{}
}

func NewHub(opts Options, relay Relay, logger *zap.Logger) *Hub {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.RelayTimeout <= 0 {
		opts.RelayTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		opts:   opts,
		relay:  relay,
		logger: logger,
		rooms:  make(map[string]*channel),
	}
}

// Publish delivers ev to local subscribers of its room and hands it to the relay.
// Message events are stamped with the room sequence number; the stamped event is returned.
func (h *Hub) Publish(ev domain.Event) domain.Event {
	ev = h.dispatch(ev)
	if h.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.RelayTimeout)
		defer cancel()
		if err := h.relay.Publish(ctx, ev); err != nil {
			h.logger.Warn("relay publish failed", zap.String("room_id", ev.RoomID), zap.Error(err))
		}
	}
	return ev
}

// Deliver hands an event received from another instance to local subscribers only.
func (h *Hub) Deliver(ev domain.Event) {
	h.dispatch(ev)
}

func (h *Hub) dispatch(ev domain.Event) domain.Event {
	ch := h.room(ev.RoomID)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ev.Type == domain.EventMessage && ev.Message != nil {
		ch.seq++
		msg := *ev.Message
		msg.Seq = ch.seq
		ev.Message = &msg
		if h.opts.ReplayBuffer > 0 {
			ch.replay = append(ch.replay, msg)
			if over := len(ch.replay) - h.opts.ReplayBuffer; over > 0 {
				ch.replay = append([]domain.Message(nil), ch.replay[over:]...)
			}
		}
	}

	for sub := range ch.subscribers {
		select {
		case sub <- ev:
		default:
			h.logger.Warn("dropping slow subscriber", zap.String("room_id", ev.RoomID))
			delete(ch.subscribers, sub)
			close(sub)
		}
	}
	return ev
}

// Subscribe registers a listener for roomID. Buffered messages with a sequence number
// greater than since are replayed first, followed by initial. The returned cancel
// func must be called.
func (h *Hub) Subscribe(roomID string, since uint64, initial ...domain.Event) (<-chan domain.Event, func()) {
	ch := h.room(roomID)
	ch.mu.Lock()
	pending := make([]domain.Message, 0)
	for _, msg := range ch.replay {
		if msg.Seq > since {
			pending = append(pending, msg)
		}
	}
	size := h.opts.SubscriberBuffer
	if n := len(pending) + len(initial); n > size {
		size = n
	}
	sub := make(chan domain.Event, size)
	for i := range pending {
		msg := pending[i]
		sub <- domain.Event{Type: domain.EventMessage, RoomID: roomID, Message: &msg}
	}
	for _, ev := range initial {
		sub <- ev
	}
	ch.subscribers[sub] = struct{}{}
	ch.mu.Unlock()

	cancel := func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		if _, ok := ch.subscribers[sub]; ok {
			delete(ch.subscribers, sub)
			close(sub)
		}
	}
	return sub, cancel
}

// Subscribers counts live subscribers of a room.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	ch, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subscribers)
}

// CloseRoom disconnects every subscriber and forgets the room.
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	ch, ok := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()
	if !ok {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for sub := range ch.subscribers {
		close(sub)
	}
	ch.subscribers = map[chan domain.Event]struct{}{}
}

func (h *Hub) room(roomID string) *channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.rooms[roomID]
	if !ok {
		ch = &channel{subscribers: make(map[chan domain.Event]struct{})}
		h.rooms[roomID] = ch
	}
	return ch
}
