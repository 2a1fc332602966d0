// Package broadcast keeps every open browsing context of a widget showing the
// same message list.
//
// Every publish carries the full list and every receiver replaces its own
// list with it: last writer wins, with no merge, acknowledgement or delivery
// guarantee. Two contexts publishing at the same time may leave their
// siblings with either snapshot; that is an accepted limitation.
package broadcast

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
)

var (
	metricPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "widget",
		Name:      "broadcast_published_total",
		Help:      "Message-list snapshots published by widget contexts.",
	})
	metricReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "widget",
		Name:      "broadcast_received_total",
		Help:      "Message-list snapshots applied by sibling widget contexts.",
	})
)

// ErrClosed is returned when publishing on a closed bus or channel.
var ErrClosed = errors.New("broadcast: closed")

// ChannelName derives the channel shared by the contexts of one browser.
// scope identifies that browser (the visitor); contexts of other visitors
// and of other chatbots never share it. An empty scope is the single-browser
// channel of a standalone widget.
func ChannelName(chatbotID, scope string) string {
	name := "widget-chat-message-" + chatbotID
	if scope != "" {
		name += ":" + scope
	}
	return name
}

// Snapshot is the full message list of one context.
type Snapshot struct {
	Origin   string         `json:"origin"`
	Messages []chat.Message `json:"messages"`
}

// Subscription stops delivery when closed.
type Subscription interface {
	Close() error
}

// Bus moves snapshots between contexts.
type Bus interface {
	Publish(ctx context.Context, channel string, snap Snapshot) error
	Subscribe(ctx context.Context, channel string, fn func(Snapshot)) (Subscription, error)
}
