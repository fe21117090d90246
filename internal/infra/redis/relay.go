package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

const eventChannelPrefix = "quizroom:events:"

// Deliverer receives events published by other instances.
type Deliverer interface {
	Deliver(ev domain.Event)
}

type envelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// Relay fans room events out to every service instance over Redis pub/sub, one
// channel per room. Events an instance published itself are skipped on receipt.
type Relay struct {
	client *redis.Client
	origin string
	logger *zap.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRelay(client *redis.Client, origin string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{client: client, origin: origin, logger: logger, ready: make(chan struct{})}
}

// Publish implements realtime.Relay.
func (r *Relay) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, eventChannelPrefix+ev.RoomID, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Ready is closed once the subscription is confirmed by Redis.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run consumes events of every room until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, sink Deliverer) error {
	sub := r.client.PSubscribe(ctx, eventChannelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to room events: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("dropping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			sink.Deliver(env.Event)
		}
	}
}
