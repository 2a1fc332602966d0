package broadcast

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
)

// Channel is the handle one browsing context holds on its tenant channel.
// Snapshots it publishes are not delivered back to itself.
type Channel struct {
	bus    Bus
	name   string
	origin string

	mu      sync.Mutex
	handler func([]chat.Message)
	sub     Subscription
	closed  bool
}

// Open subscribes a new context to channel.
func Open(ctx context.Context, bus Bus, channel string) (*Channel, error) {
	c := &Channel{bus: bus, name: channel, origin: uuid.NewString()}
	sub, err := bus.Subscribe(ctx, channel, c.deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	c.sub = sub
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Origin identifies this context on the channel.
func (c *Channel) Origin() string { return c.origin }

// OnReceive sets the function that replaces the local list with a sibling's
// snapshot.
func (c *Channel) OnReceive(fn func([]chat.Message)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Publish sends the full current message list to sibling contexts.
func (c *Channel) Publish(ctx context.Context, messages []chat.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	snap := Snapshot{Origin: c.origin, Messages: chat.CloneMessages(messages)}
	if err := c.bus.Publish(ctx, c.name, snap); err != nil {
		return err
	}
	metricPublished.Inc()
	return nil
}

func (c *Channel) deliver(snap Snapshot) {
	if snap.Origin == c.origin {
		return
	}
	c.mu.Lock()
	handler, closed := c.handler, c.closed
	c.mu.Unlock()
	if closed || handler == nil {
		return
	}
	metricReceived.Inc()
	handler(chat.CloneMessages(snap.Messages))
}

// Close tears the subscription down. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.handler = nil
	sub := c.sub
	c.mu.Unlock()

	if err := sub.Close(); err != nil {
		log.Printf("[broadcast] close %s: %v", c.name, err)
		return err
	}
	return nil
}
