package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a Bus over Redis pub/sub, for hosts running several processes.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus wraps client. Channel names are prefixed with prefix.
func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) key(channel string) string {
	return b.prefix + channel
}

// Publish sends snap to every process subscribed to channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := b.client.Publish(ctx, b.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe starts delivering snapshots of channel to fn. It returns once the
// subscription is confirmed by the server.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, fn func(Snapshot)) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go sub.loop(fn)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) loop(fn func(Snapshot)) {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		var snap Snapshot
		if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
			log.Printf("[broadcast] dropping malformed snapshot on %s: %v", msg.Channel, err)
			continue
		}
		fn(snap)
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		<-s.done
	})
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
