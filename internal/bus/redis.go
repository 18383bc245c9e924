package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frozenbots60-source/kust-chat/internal/models"
)

const (
	subscribeBackoffMin = 250 * time.Millisecond
	subscribeBackoffMax = 30 * time.Second
)

// RedisBus fans envelopes out across processes over one Redis pub/sub
// channel. If the subscription drops, the receive loop resubscribes with
// capped exponential backoff instead of terminating, so a process never
// silently stops receiving fan-out.
type RedisBus struct {
	client  *redis.Client
	channel string
}

func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, env *models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan *models.Envelope, error) {
	out := make(chan *models.Envelope, 256)
	go b.receiveLoop(ctx, out)
	return out, nil
}

func (b *RedisBus) receiveLoop(ctx context.Context, out chan<- *models.Envelope) {
	defer close(out)

	backoff := subscribeBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := b.client.Subscribe(ctx, b.channel)
		// Receive confirms the subscription actually went through.
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			log.Printf("Bus subscribe failed, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, subscribeBackoffMax)
			continue
		}
		backoff = subscribeBackoffMin

		b.drain(ctx, pubsub, out)
		pubsub.Close()
	}
}

// drain pumps messages from one live subscription until it fails or ctx ends.
func (b *RedisBus) drain(ctx context.Context, pubsub *redis.PubSub, out chan<- *models.Envelope) {
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Bus receive failed, resubscribing: %v", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			// One bad envelope must never kill the listener.
			log.Printf("Dropping malformed bus envelope: %v", err)
			continue
		}

		select {
		case out <- &env:
		case <-ctx.Done():
			return
		}
	}
}
