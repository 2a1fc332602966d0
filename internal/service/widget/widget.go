// Package widget orchestrates one embedded chat widget: it rehydrates the
// session, turns visitor actions into backend calls, keeps sibling browsing
// contexts in step and routes failures to the notification queue.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	"github.com/zhouzirui/z-tavern/widget/internal/model/chatbot"
	"github.com/zhouzirui/z-tavern/widget/internal/model/topic"
	"github.com/zhouzirui/z-tavern/widget/internal/route"
	"github.com/zhouzirui/z-tavern/widget/internal/service/broadcast"
	"github.com/zhouzirui/z-tavern/widget/internal/service/chatapi"
	"github.com/zhouzirui/z-tavern/widget/internal/service/flow"
	"github.com/zhouzirui/z-tavern/widget/internal/service/gateway"
	"github.com/zhouzirui/z-tavern/widget/internal/service/session"
	"github.com/zhouzirui/z-tavern/widget/internal/service/toast"
	"github.com/zhouzirui/z-tavern/widget/internal/store"
)

// DefaultAuthGrace is how long the auth failure toast stays up before the
// widget is removed.
const DefaultAuthGrace = 3 * time.Second

const contractFailureMessage = "Something went wrong, please try again"

var (
	ErrInert          = errors.New("widget: torn down")
	ErrNotReady       = errors.New("widget: still loading")
	ErrTopicRequired  = errors.New("widget: pick a topic first")
	ErrEmptyMessage   = errors.New("widget: message is empty")
	ErrNoSession      = errors.New("widget: no conversation yet")
	ErrMessagePending = errors.New("widget: message is not confirmed yet")
)

var (
	metricInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "widget",
		Name:      "instances",
		Help:      "Widget instances currently mounted.",
	})
	metricTeardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "widget",
		Name:      "teardowns_total",
		Help:      "Widget teardowns, by reason.",
	}, []string{"reason"})
)

// API is the backend surface the widget calls.
type API interface {
	Topics(ctx context.Context) (topic.Catalog, error)
	ChatbotConfig(ctx context.Context, chatbotID string) (chatapi.BotConfig, error)
	FetchSession(ctx context.Context, chatID string) (chat.SessionRecord, error)
	SendMessage(ctx context.Context, chatID string, req chatapi.SendRequest) (chat.SessionRecord, error)
	Vote(ctx context.Context, chatID, messageID string, like chat.Like) error
	Close()
}

// Deps are the collaborators of a widget.
type Deps struct {
	API     API
	Storage store.Storage
	// Bus carries message snapshots between browsing contexts. Nil disables
	// cross-context sync.
	Bus broadcast.Bus
	// Toasts is created with the default TTL when nil.
	Toasts *toast.Queue
}

// Options configure a widget.
type Options struct {
	ChatbotID string
	// Scope names the browser this widget runs in. Widgets share their
	// message list only with widgets of the same chatbot and scope.
	Scope     string
	AuthGrace time.Duration
	Policy    flow.Policy
	// Rules decide visibility per path. Nil shows the widget everywhere.
	Rules *route.Matcher
	// Path is the location the widget is first mounted on.
	Path string
}

// View is the snapshot a renderer draws.
type View struct {
	Ready      bool            `json:"ready"`
	Mounted    bool            `json:"mounted"`
	Visible    bool            `json:"visible"`
	Standalone bool            `json:"standalone"`
	Active     bool            `json:"active"`
	State      flow.State      `json:"state"`
	Config     *chatbot.Config `json:"config,omitempty"`
	// PrimaryRGB is the chatbot colour as "r, g, b", ready for a CSS
	// rgb()/rgba() custom property. Empty when the colour is unset or invalid.
	PrimaryRGB string        `json:"primaryRgb,omitempty"`
	Convo      chat.Convo    `json:"convo"`
	Entries    []chat.Entry  `json:"entries"`
	Toasts     []toast.Entry `json:"toasts"`
}

// Widget is one widget instance, bound to one browsing context.
type Widget struct {
	api     API
	session *session.Store
	toasts  *toast.Queue
	bus     broadcast.Bus
	opts    Options

	// act serializes visitor actions so two transitions never interleave.
	act sync.Mutex
	// notifyMu keeps delivered views in order.
	notifyMu sync.Mutex

	mu         sync.Mutex
	channel    *broadcast.Channel
	ready      bool
	inert      bool
	closed     bool
	visibility route.Visibility
	graceTimer *time.Timer
	listener   func(View)
	onTeardown []func()
}

// New builds a widget. Call Start to rehydrate it.
func New(deps Deps, opts Options) *Widget {
	if opts.AuthGrace <= 0 {
		opts.AuthGrace = DefaultAuthGrace
	}
	storage := deps.Storage
	if storage == nil {
		storage = store.NewMemoryStorage()
	}
	toasts := deps.Toasts
	if toasts == nil {
		toasts = toast.NewQueue(toast.DefaultTTL)
	}

	w := &Widget{
		api:        deps.API,
		session:    session.New(storage, opts.Policy),
		toasts:     toasts,
		bus:        deps.Bus,
		opts:       opts,
		visibility: visibilityFor(opts.Rules, opts.Path),
	}
	toasts.OnChange(func([]toast.Entry) { w.notify() })
	metricInstances.Inc()
	return w
}

// Session exposes the underlying state, mainly for inspection.
func (w *Widget) Session() *session.Store {
	return w.session
}

// OnChange registers the renderer callback.
func (w *Widget) OnChange(fn func(View)) {
	w.mu.Lock()
	w.listener = fn
	w.mu.Unlock()
}

// OnTeardown registers fn to run once the widget has been removed.
func (w *Widget) OnTeardown(fn func()) {
	w.mu.Lock()
	w.onTeardown = append(w.onTeardown, fn)
	w.mu.Unlock()
}

// Start rehydrates the widget: chatbot config, then the topic catalog, then
// the stored conversation when a chat id was persisted.
func (w *Widget) Start(ctx context.Context) error {
	w.act.Lock()
	defer w.act.Unlock()
	if w.isInert() {
		return ErrInert
	}

	chatID, err := w.session.LoadIdentity(ctx)
	if err != nil {
		log.Printf("[widget] load persisted identity: %v", err)
	}

	cfg, err := w.api.ChatbotConfig(ctx, w.opts.ChatbotID)
	if err != nil {
		w.fail(err)
		return err
	}
	w.session.SetConfig(cfg.Config)

	topics, err := w.api.Topics(ctx)
	switch {
	case err == nil:
	case gateway.IsAborted(err):
		return err
	case gateway.KindOf(err) == gateway.KindAuth:
		w.fail(err)
		return err
	default:
		log.Printf("[widget] topic catalog unavailable, using %d embedded topics: %v", len(cfg.Topics), err)
		topics = cfg.Topics
	}
	w.session.SetTopics(topics)

	w.openChannel(ctx)

	if chatID != "" {
		if err := w.rehydrate(ctx, chatID); err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()
	w.notify()
	return nil
}

func (w *Widget) rehydrate(ctx context.Context, chatID string) error {
	record, err := w.api.FetchSession(ctx, chatID)
	if err != nil {
		switch gateway.KindOf(err) {
		case gateway.KindAborted:
			return err
		case gateway.KindAuth:
			w.fail(err)
			return err
		}
		log.Printf("[widget] stored chat %s unavailable, starting a new draft: %v", chatID, err)
		if err := w.session.Reset(ctx); err != nil {
			log.Printf("[widget] reset draft: %v", err)
		}
		return nil
	}

	if record.ID == "" {
		record.ID = chatID
	}
	if err := w.session.AttachSession(ctx, record); err != nil {
		log.Printf("[widget] attach chat %s: %v", chatID, err)
	}
	return nil
}

func (w *Widget) openChannel(ctx context.Context) {
	if w.bus == nil {
		return
	}
	ch, err := broadcast.Open(ctx, w.bus, broadcast.ChannelName(w.opts.ChatbotID, w.opts.Scope))
	if err != nil {
		log.Printf("[widget] cross-context sync disabled: %v", err)
		return
	}
	ch.OnReceive(w.receive)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = ch.Close()
		return
	}
	w.channel = ch
	w.mu.Unlock()
}

// PickTopic selects a top-level topic.
func (w *Widget) PickTopic(name string) error {
	return w.PickSubTopic(0, name)
}

// PickSubTopic selects the option at a hierarchy level; level 0 is the topic.
func (w *Widget) PickSubTopic(level int, name string) error {
	done, err := w.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := w.session.SetSelection(level, name); err != nil {
		return err
	}
	w.notify()
	return nil
}

// SubmitDetails records the visitor's identity. When a question is already
// waiting, the conversation is created right away.
func (w *Widget) SubmitDetails(ctx context.Context, detail chat.UserDetail) error {
	done, err := w.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := detail.Validate(); err != nil {
		return err
	}
	w.session.SetUserDetail(detail)
	w.notify()

	if w.session.Evaluate().State == flow.StateQueryPending && w.session.Query() != "" {
		return w.create(ctx)
	}
	return nil
}

// Send handles a typed message. It continues the active conversation, creates
// one when everything the backend needs is known, or keeps the question until
// the identity form is filled in.
func (w *Widget) Send(ctx context.Context, text string) error {
	done, err := w.begin()
	if err != nil {
		return err
	}
	defer done()

	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if w.session.Active() {
		return w.continueSession(ctx, text)
	}

	switch w.session.Evaluate().State {
	case flow.StateInit:
		if len(w.session.Topics()) > 0 {
			return ErrTopicRequired
		}
		w.session.SetQuery(text)
		w.notify()
		return nil
	case flow.StateSubTopicPending:
		return ErrTopicRequired
	case flow.StateTopicSelected:
		w.session.SetQuery(text)
		w.notify()
		return nil
	default:
		w.session.SetQuery(text)
		w.notify()
		return w.create(ctx)
	}
}

func (w *Widget) create(ctx context.Context) error {
	convo := w.session.Convo()
	req := chatapi.SendRequest{
		Topic:    convo.Topic,
		SubTopic: convo.SubTopic,
		Message:  w.session.Query(),
	}
	if convo.User != nil {
		req.Name, req.Email = convo.User.Name, convo.User.Email
	}

	record, err := w.api.SendMessage(ctx, "", req)
	if err != nil {
		w.fail(err)
		return err
	}
	if err := w.session.AttachSession(ctx, record); err != nil {
		if errors.Is(err, session.ErrSessionIDMissing) {
			w.toasts.Error(contractFailureMessage)
			return err
		}
		log.Printf("[widget] persist chat %s: %v", record.ID, err)
	}
	log.Printf("[widget] chat %s created for chatbot %s", record.ID, w.opts.ChatbotID)

	w.publish(ctx)
	w.notify()
	return nil
}

func (w *Widget) continueSession(ctx context.Context, text string) error {
	echo := w.session.AppendOptimisticMessage(chat.Message{Role: chat.RoleUser, Content: text})
	w.publish(ctx)
	w.notify()

	convo := w.session.Convo()
	req := chatapi.SendRequest{Topic: convo.Topic, SubTopic: convo.SubTopic, Message: text}
	if convo.User != nil {
		req.Name, req.Email = convo.User.Name, convo.User.Email
	}

	record, err := w.api.SendMessage(ctx, convo.ID, req)
	if err != nil {
		w.session.RemoveMessage(echo.ID)
		w.publish(ctx)
		w.notify()
		w.fail(err)
		return err
	}
	if record.ID == "" {
		record.ID = convo.ID
	}
	if err := w.session.AttachSession(ctx, record); err != nil {
		log.Printf("[widget] refresh chat %s: %v", convo.ID, err)
	}

	w.publish(ctx)
	w.notify()
	return nil
}

// Vote presses the like or dislike button of a message. The new value is
// applied once the backend accepted it and is then shared with siblings.
func (w *Widget) Vote(ctx context.Context, messageID string, action chat.VoteAction) error {
	done, err := w.begin()
	if err != nil {
		return err
	}
	defer done()

	convo := w.session.Convo()
	if convo.ID == "" {
		return ErrNoSession
	}
	if chat.IsLocalID(messageID) {
		return ErrMessagePending
	}
	next, err := w.session.NextVote(messageID, action)
	if err != nil {
		return err
	}

	if err := w.api.Vote(ctx, convo.ID, messageID, next); err != nil {
		w.fail(err)
		return err
	}
	if err := w.session.ApplyVote(messageID, next); err != nil {
		// A sibling snapshot dropped the message while the vote was in flight.
		log.Printf("[widget] vote on %s not applied locally: %v", messageID, err)
		return nil
	}

	w.publish(ctx)
	w.notify()
	return nil
}

// Clear abandons the conversation and returns to a fresh draft. The identity
// is kept.
func (w *Widget) Clear(ctx context.Context) error {
	done, err := w.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := w.session.Reset(ctx); err != nil {
		log.Printf("[widget] clear: %v", err)
	}
	w.publish(ctx)
	w.notify()
	return nil
}

// Navigate re-evaluates visibility for a new location.
func (w *Widget) Navigate(path string) error {
	w.mu.Lock()
	if w.inert {
		w.mu.Unlock()
		return ErrInert
	}
	w.visibility = visibilityFor(w.opts.Rules, path)
	w.mu.Unlock()
	w.notify()
	return nil
}

// DismissToast removes a notification. Unknown ids are ignored.
func (w *Widget) DismissToast(id string) bool {
	return w.toasts.Dismiss(id)
}

// View returns the current snapshot.
func (w *Widget) View() View {
	w.mu.Lock()
	ready, closed, vis := w.ready, w.closed, w.visibility
	w.mu.Unlock()

	state, entries := w.session.Render()
	convo := w.session.Convo()
	cfg := w.session.Config()
	return View{
		Ready:      ready,
		Mounted:    !closed,
		Visible:    vis.Visible && !closed,
		Standalone: vis.Standalone,
		Active:     convo.ID != "",
		State:      state,
		Config:     cfg,
		PrimaryRGB: primaryRGB(cfg),
		Convo:      convo,
		Entries:    entries,
		Toasts:     w.toasts.Entries(),
	}
}

// Inert reports whether the widget stopped accepting actions.
func (w *Widget) Inert() bool {
	return w.isInert()
}

// Close tears the widget down, aborting in-flight calls.
func (w *Widget) Close() {
	w.teardown("closed")
}

func (w *Widget) begin() (func(), error) {
	w.act.Lock()
	w.mu.Lock()
	inert, ready := w.inert, w.ready
	w.mu.Unlock()

	switch {
	case inert:
		w.act.Unlock()
		return nil, ErrInert
	case !ready:
		w.act.Unlock()
		return nil, ErrNotReady
	}
	return w.act.Unlock, nil
}

func (w *Widget) isInert() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inert
}

// fail routes a gateway failure to the visitor.
func (w *Widget) fail(err error) {
	switch gateway.KindOf(err) {
	case gateway.KindAborted:
		return
	case gateway.KindAuth:
		w.toasts.Error(gateway.Message(err))
		w.scheduleTeardown()
	case gateway.KindContract:
		log.Printf("[widget] gateway misuse: %v", err)
		w.toasts.Error(contractFailureMessage)
	default:
		w.toasts.Error(gateway.Message(err))
	}
}

// scheduleTeardown makes the widget inert now and removes it after the grace
// period, leaving the auth toast on screen until then.
func (w *Widget) scheduleTeardown() {
	w.mu.Lock()
	if w.inert {
		w.mu.Unlock()
		return
	}
	w.inert = true
	w.graceTimer = time.AfterFunc(w.opts.AuthGrace, func() { w.teardown("auth") })
	w.mu.Unlock()
	log.Printf("[widget] chatbot %s rejected, removing in %s", w.opts.ChatbotID, w.opts.AuthGrace)
}

func (w *Widget) teardown(reason string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.inert = true
	if w.graceTimer != nil {
		w.graceTimer.Stop()
	}
	ch := w.channel
	w.channel = nil
	hooks := w.onTeardown
	w.onTeardown = nil
	w.mu.Unlock()

	w.api.Close()
	if ch != nil {
		_ = ch.Close()
	}
	w.toasts.Close()
	w.notify()

	metricInstances.Dec()
	metricTeardowns.WithLabelValues(reason).Inc()
	for _, fn := range hooks {
		fn()
	}
}

func (w *Widget) receive(messages []chat.Message) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	w.session.ReplaceMessages(messages)
	w.notify()
}

// publish shares the message list with sibling contexts. It runs even when
// the triggering call was canceled, so siblings see rollbacks too.
func (w *Widget) publish(ctx context.Context) {
	w.mu.Lock()
	ch := w.channel
	w.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Publish(context.WithoutCancel(ctx), w.session.Messages()); err != nil && !errors.Is(err, broadcast.ErrClosed) {
		log.Printf("[widget] publish to %s: %v", ch.Name(), err)
	}
}

func (w *Widget) notify() {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	fn := w.listener
	w.mu.Unlock()
	if fn != nil {
		fn(w.View())
	}
}

func primaryRGB(cfg *chatbot.Config) string {
	if cfg == nil {
		return ""
	}
	rgb, ok := cfg.PrimaryRGB()
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d, %d, %d", rgb[0], rgb[1], rgb[2])
}

func visibilityFor(rules *route.Matcher, path string) route.Visibility {
	if rules == nil {
		return route.Visibility{Visible: true}
	}
	return rules.Evaluate(path)
}
