package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
)

type recorder struct {
	mu    sync.Mutex
	got   [][]chat.Message
	calls int
}

func (r *recorder) receive(messages []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, messages)
	r.calls++
}

func (r *recorder) last() ([]chat.Message, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return nil, 0
	}
	return r.got[len(r.got)-1], r.calls
}

func sample() []chat.Message {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return []chat.Message{
		{ID: "m2", Role: chat.RoleAssistant, Content: "We open at 9.", Like: chat.LikeFalse, CreatedAt: at.Add(time.Minute)},
		{ID: "m1", Role: chat.RoleUser, Content: "What are your hours?", CreatedAt: at},
	}
}

func openTabs(t *testing.T, bus Bus, channel string, n int) ([]*Channel, []*recorder) {
	t.Helper()
	tabs := make([]*Channel, n)
	recs := make([]*recorder, n)
	for i := range tabs {
		ch, err := Open(context.Background(), bus, channel)
		require.NoError(t, err)
		rec := &recorder{}
		ch.OnReceive(rec.receive)
		tabs[i], recs[i] = ch, rec
		t.Cleanup(func() { _ = ch.Close() })
	}
	return tabs, recs
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "widget-chat-message-bot-1", ChannelName("bot-1", ""))
	assert.Equal(t, "widget-chat-message-bot-1:v1", ChannelName("bot-1", "v1"))
	assert.NotEqual(t, ChannelName("a", ""), ChannelName("b", ""))
	assert.NotEqual(t, ChannelName("bot", "v1"), ChannelName("bot", "v2"))
}

func waitCalls(t *testing.T, rec *recorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, calls := rec.last()
		return calls >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubDeliversSnapshotToSiblingsOnly(t *testing.T) {
	hub := NewHub()
	tabs, recs := openTabs(t, hub, ChannelName("bot", ""), 3)

	require.NoError(t, tabs[0].Publish(context.Background(), sample()))

	for _, rec := range recs[1:] {
		waitCalls(t, rec, 1)
		got, calls := rec.last()
		assert.Equal(t, 1, calls)
		assert.Equal(t, sample(), got)
	}
	_, selfCalls := recs[0].last()
	assert.Zero(t, selfCalls, "publisher must not receive its own snapshot")
}

func TestHubSnapshotsAreCopies(t *testing.T) {
	hub := NewHub()
	tabs, recs := openTabs(t, hub, ChannelName("bot", ""), 2)

	msgs := sample()
	require.NoError(t, tabs[0].Publish(context.Background(), msgs))
	msgs[0].Content = "mutated"

	waitCalls(t, recs[1], 1)
	got, _ := recs[1].last()
	assert.Equal(t, "We open at 9.", got[0].Content)
}

func TestHubScopesDoNotCrossTalk(t *testing.T) {
	hub := NewHub()
	tenantA, _ := openTabs(t, hub, ChannelName("a", ""), 1)
	_, otherTenant := openTabs(t, hub, ChannelName("b", ""), 1)
	visitorX, _ := openTabs(t, hub, ChannelName("bot", "x"), 1)
	_, visitorY := openTabs(t, hub, ChannelName("bot", "y"), 1)
	_, sameVisitor := openTabs(t, hub, ChannelName("bot", "x"), 1)

	require.NoError(t, tenantA[0].Publish(context.Background(), sample()))
	require.NoError(t, visitorX[0].Publish(context.Background(), sample()))

	// The sibling of x proves delivery happened before the negative checks.
	waitCalls(t, sameVisitor[0], 1)
	for _, rec := range []*recorder{otherTenant[0], visitorY[0]} {
		_, calls := rec.last()
		assert.Zero(t, calls)
	}
}

func TestLastPublishWins(t *testing.T) {
	hub := NewHub()
	tabs, recs := openTabs(t, hub, ChannelName("bot", ""), 3)

	require.NoError(t, tabs[0].Publish(context.Background(), sample()))
	require.NoError(t, tabs[1].Publish(context.Background(), []chat.Message{}))

	require.Eventually(t, func() bool {
		got, calls := recs[2].last()
		return calls > 0 && len(got) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubPublishDoesNotWaitForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	channel := ChannelName("bot", "")
	release := make(chan struct{})
	defer close(release)

	slow, err := hub.Subscribe(context.Background(), channel, func(Snapshot) { <-release })
	require.NoError(t, err)
	defer slow.Close()

	_, recs := openTabs(t, hub, channel, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_ = hub.Publish(context.Background(), channel, Snapshot{Origin: "other", Messages: sample()})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	waitCalls(t, recs[0], 1)
}

func TestCloseTearsDownSubscription(t *testing.T) {
	hub := NewHub()
	channel := ChannelName("bot", "")
	tabs, recs := openTabs(t, hub, channel, 3)
	assert.Equal(t, 3, hub.Subscribers(channel))

	require.NoError(t, tabs[1].Close())
	require.NoError(t, tabs[1].Close())
	assert.Equal(t, 2, hub.Subscribers(channel))

	require.NoError(t, tabs[0].Publish(context.Background(), sample()))
	waitCalls(t, recs[2], 1)
	_, calls := recs[1].last()
	assert.Zero(t, calls)
	assert.ErrorIs(t, tabs[1].Publish(context.Background(), sample()), ErrClosed)
}

func TestRedisBusDeliversAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)

	newBus := func() *RedisBus {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisBus(client, "test:")
	}

	channel := ChannelName("bot", "")
	pub, _ := openTabs(t, newBus(), channel, 1)
	_, recs := openTabs(t, newBus(), channel, 1)

	require.NoError(t, pub[0].Publish(context.Background(), sample()))

	require.Eventually(t, func() bool {
		_, calls := recs[0].last()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := recs[0].last()
	assert.Equal(t, sample(), got)
}
