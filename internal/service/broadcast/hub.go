package broadcast

import (
	"context"
	"sync"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
)

// Hub is an in-process Bus for contexts served by the same host process.
//
// Each subscriber is served by its own goroutine, so a slow handler never
// holds up the publisher or the other subscribers. A subscriber that falls
// behind only sees the newest pending snapshot.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*mailbox
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]*mailbox)}
}

// Publish queues snap for every subscriber of channel and returns without
// waiting for delivery.
func (h *Hub) Publish(_ context.Context, channel string, snap Snapshot) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, box := range h.subs[channel] {
		box.offer(Snapshot{Origin: snap.Origin, Messages: chat.CloneMessages(snap.Messages)})
	}
	return nil
}

// Subscribe registers fn for channel.
func (h *Hub) Subscribe(_ context.Context, channel string, fn func(Snapshot)) (Subscription, error) {
	box := &mailbox{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go box.run()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[uint64]*mailbox)
	}
	h.subs[channel][id] = box
	return &hubSubscription{hub: h, channel: channel, id: id, box: box}, nil
}

// Subscribers reports how many handlers listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// mailbox holds at most one undelivered snapshot. Snapshots are full lists,
// so a newer one supersedes an older one that was never handed out.
type mailbox struct {
	fn   func(Snapshot)
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending *Snapshot
}

func (b *mailbox) offer(snap Snapshot) {
	b.mu.Lock()
	b.pending = &snap
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *mailbox) run() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
			b.mu.Lock()
			snap := b.pending
			b.pending = nil
			b.mu.Unlock()
			if snap != nil {
				b.fn(*snap)
			}
		}
	}
}

type hubSubscription struct {
	hub     *Hub
	channel string
	id      uint64
	box     *mailbox
	once    sync.Once
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs[s.channel], s.id)
		if len(s.hub.subs[s.channel]) == 0 {
			delete(s.hub.subs, s.channel)
		}
		s.hub.mu.Unlock()
		close(s.box.done)
	})
	return nil
}
