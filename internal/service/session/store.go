// Package session holds the authoritative state of one widget instance:
// the topic catalog, the active conversation, its messages and the inputs of
// the onboarding flow.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	"github.com/zhouzirui/z-tavern/widget/internal/model/chatbot"
	"github.com/zhouzirui/z-tavern/widget/internal/model/topic"
	"github.com/zhouzirui/z-tavern/widget/internal/service/flow"
	"github.com/zhouzirui/z-tavern/widget/internal/store"
)

var (
	ErrTopicLocked      = errors.New("session: topic cannot change once the conversation exists")
	ErrSessionImmutable = errors.New("session: conversation id is already assigned")
	ErrSessionIDMissing = errors.New("session: record has no id")
	ErrMessageNotFound  = errors.New("session: message not found")
	ErrUnknownTopic     = errors.New("session: topic is not offered")
	ErrLevelSkipped     = errors.New("session: pick the parent topic first")
)

// Store is the state of one widget instance. Methods are safe for concurrent
// use; each call is applied atomically.
type Store struct {
	storage store.Storage
	policy  flow.Policy
	now     func() time.Time

	mu        sync.RWMutex
	config    *chatbot.Config
	topics    topic.Catalog
	convo     chat.Convo
	selection []string
	query     string
	messages  []chat.Message
}

// New returns an empty draft store writing persisted identity to storage.
func New(storage store.Storage, policy flow.Policy) *Store {
	s := &Store{
		storage:  storage,
		policy:   policy,
		now:      time.Now,
		messages: []chat.Message{},
	}
	s.convo.CreatedAt = s.now()
	return s
}

// SetConfig records the chatbot presentation.
func (s *Store) SetConfig(cfg chatbot.Config) {
	s.mu.Lock()
	s.config = &cfg
	s.mu.Unlock()
}

// Config returns the chatbot presentation, or nil before it was loaded.
func (s *Store) Config() *chatbot.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return nil
	}
	cfg := *s.config
	return &cfg
}

// SetTopics replaces the topic catalog.
func (s *Store) SetTopics(topics topic.Catalog) {
	s.mu.Lock()
	s.topics = append(topic.Catalog(nil), topics...)
	s.mu.Unlock()
}

// Topics returns the topic catalog.
func (s *Store) Topics() topic.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(topic.Catalog(nil), s.topics...)
}

// Convo returns a copy of the active conversation.
func (s *Store) Convo() chat.Convo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyConvo(s.convo)
}

// Active reports whether the backend has acknowledged the conversation.
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convo.ID != ""
}

// Selection returns the picked option at every hierarchy level.
func (s *Store) Selection() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.selection...)
}

// Query returns the question typed before the conversation existed.
func (s *Store) Query() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

// SetTopic picks a top-level topic. Unsent draft state (deeper picks and a
// typed question) is discarded.
func (s *Store) SetTopic(name string) error {
	return s.SetSelection(0, name)
}

// SetSubTopic picks the option of the second level.
func (s *Store) SetSubTopic(name string) error {
	return s.SetSelection(1, name)
}

// SetSelection picks name at level and drops every deeper pick.
func (s *Store) SetSelection(level int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.convo.ID != "" {
		return ErrTopicLocked
	}
	if level < 0 || level > len(s.selection) {
		return ErrLevelSkipped
	}

	path := append(append([]string(nil), s.selection[:level]...), name)
	if _, ok := s.topics.Resolve(path); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, name)
	}

	s.selection = path
	s.query = ""
	s.convo.Topic = path[0]
	s.convo.SubTopic = ""
	if len(path) > 1 {
		s.convo.SubTopic = path[1]
	}
	return nil
}

// SetUserDetail records the visitor's identity on the draft.
func (s *Store) SetUserDetail(detail chat.UserDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := chat.UserDetail{Name: strings.TrimSpace(detail.Name), Email: strings.TrimSpace(detail.Email)}
	s.convo.User = &d
}

// UserDetail returns the known identity, or nil.
func (s *Store) UserDetail() *chat.UserDetail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.convo.User == nil {
		return nil
	}
	d := *s.convo.User
	return &d
}

// SetQuery stores the question typed before the conversation existed.
func (s *Store) SetQuery(text string) {
	s.mu.Lock()
	s.query = strings.TrimSpace(text)
	s.mu.Unlock()
}

// LoadIdentity pre-fills the draft with the identity persisted by an earlier
// visit, if any.
func (s *Store) LoadIdentity(ctx context.Context) (chatID string, err error) {
	chatID, _, err = s.storage.Get(ctx, store.KeyChatID)
	if err != nil {
		return "", fmt.Errorf("load chat id: %w", err)
	}
	name, _, err := s.storage.Get(ctx, store.KeyUserName)
	if err != nil {
		return "", fmt.Errorf("load user name: %w", err)
	}
	email, _, err := s.storage.Get(ctx, store.KeyUserEmail)
	if err != nil {
		return "", fmt.Errorf("load user email: %w", err)
	}

	if name != "" || email != "" {
		s.SetUserDetail(chat.UserDetail{Name: name, Email: email})
	}
	return chatID, nil
}

// AttachSession adopts a conversation acknowledged by the backend. It is the
// only way the conversation gets an id, and that id never changes afterwards.
// The chat id and identity are persisted for the next visit.
func (s *Store) AttachSession(ctx context.Context, record chat.SessionRecord) error {
	if record.ID == "" {
		return ErrSessionIDMissing
	}

	s.mu.Lock()
	if s.convo.ID != "" && s.convo.ID != record.ID {
		s.mu.Unlock()
		return ErrSessionImmutable
	}

	convo := record.Convo()
	if convo.User == nil && s.convo.User != nil {
		u := *s.convo.User
		convo.User = &u
	}
	if convo.CreatedAt.IsZero() {
		convo.CreatedAt = s.convo.CreatedAt
	}
	s.convo = convo
	s.query = ""
	s.selection = s.selectionFor(convo)
	s.messages = chat.Reversed(record.Messages)
	user := convo.User
	s.mu.Unlock()

	if err := s.storage.Set(ctx, store.KeyChatID, record.ID); err != nil {
		return fmt.Errorf("persist chat id: %w", err)
	}
	if user != nil {
		if err := s.persistIdentity(ctx, *user); err != nil {
			return err
		}
	}
	return nil
}

// selectionFor maps the stored topic pair onto the current catalog. A pair
// that no longer validates yields no selection.
func (s *Store) selectionFor(convo chat.Convo) []string {
	if convo.Topic == "" {
		return nil
	}
	path := []string{convo.Topic}
	if convo.SubTopic != "" {
		path = append(path, convo.SubTopic)
	}
	if _, ok := s.topics.Resolve(path); !ok {
		return nil
	}
	return path
}

// Reset discards the conversation and returns to a fresh draft. The identity
// is kept and persisted as a convenience; the chat id is forgotten.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	var user *chat.UserDetail
	if s.convo.User != nil {
		u := *s.convo.User
		user = &u
	}
	s.convo = chat.Convo{User: user, CreatedAt: s.now()}
	s.selection = nil
	s.query = ""
	s.messages = []chat.Message{}
	s.mu.Unlock()

	if err := s.storage.Remove(ctx, store.KeyChatID); err != nil {
		return fmt.Errorf("forget chat id: %w", err)
	}
	if user != nil {
		return s.persistIdentity(ctx, *user)
	}
	return nil
}

func (s *Store) persistIdentity(ctx context.Context, user chat.UserDetail) error {
	if err := s.storage.Set(ctx, store.KeyUserName, user.Name); err != nil {
		return fmt.Errorf("persist user name: %w", err)
	}
	if err := s.storage.Set(ctx, store.KeyUserEmail, user.Email); err != nil {
		return fmt.Errorf("persist user email: %w", err)
	}
	return nil
}

// Messages returns the persisted messages, newest first.
func (s *Store) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chat.CloneMessages(s.messages)
}

// ReplaceMessages swaps the whole list, as received from a sibling context
// or the backend. The list must be newest first.
func (s *Store) ReplaceMessages(messages []chat.Message) {
	s.mu.Lock()
	s.messages = chat.CloneMessages(messages)
	s.mu.Unlock()
}

// AppendOptimisticMessage shows a visitor message before the backend has
// confirmed it. The message gets a local id when it has none.
func (s *Store) AppendOptimisticMessage(msg chat.Message) chat.Message {
	if msg.ID == "" {
		msg.ID = chat.NewLocalID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.mu.Lock()
	s.messages = append([]chat.Message{msg}, s.messages...)
	s.mu.Unlock()
	return msg
}

// RemoveMessage drops a message, used to roll back a failed optimistic echo.
func (s *Store) RemoveMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// NextVote returns the vote that pressing action would leave on a message.
func (s *Store) NextVote(messageID string, action chat.VoteAction) (chat.Like, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if msg.ID == messageID {
			return msg.Like.Press(action), nil
		}
	}
	return chat.LikeUnset, ErrMessageNotFound
}

// ApplyVote sets the vote of a message.
func (s *Store) ApplyVote(messageID string, value chat.Like) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Like = value
			return nil
		}
	}
	return ErrMessageNotFound
}

// FlowInput assembles the inputs of the onboarding flow.
func (s *Store) FlowInput() flow.Input {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flowInputLocked()
}

func (s *Store) flowInputLocked() flow.Input {
	var identity *chat.UserDetail
	if s.convo.User != nil {
		u := *s.convo.User
		identity = &u
	}
	return flow.Input{
		Topics:        append(topic.Catalog(nil), s.topics...),
		Selection:     append([]string(nil), s.selection...),
		Identity:      identity,
		Query:         s.query,
		SessionActive: s.convo.ID != "",
		StartedAt:     s.convo.CreatedAt,
		Policy:        s.policy,
	}
}

// Evaluate runs the onboarding flow on the current state.
func (s *Store) Evaluate() flow.Result {
	return flow.Evaluate(s.FlowInput())
}

// Prompts returns the derived prompts in chronological order.
func (s *Store) Prompts() flow.Sequence {
	return s.Evaluate().Sequence
}

// Rendered returns the list the renderer shows, newest first: persisted
// messages followed by the prompts once the conversation exists, the prompts
// alone while it is a draft.
func (s *Store) Rendered() []chat.Entry {
	_, entries := s.Render()
	return entries
}

// Render returns the flow stage together with the rendered list, both taken
// from the same state.
func (s *Store) Render() (flow.State, []chat.Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := flow.Evaluate(s.flowInputLocked())
	prompts := res.Sequence.NewestFirst()
	entries := make([]chat.Entry, 0, len(s.messages)+len(prompts))
	if s.convo.ID != "" {
		for _, msg := range s.messages {
			entries = append(entries, chat.PersistedEntry(msg))
		}
	}
	for _, p := range prompts {
		entries = append(entries, chat.PromptEntry(p))
	}
	return res.State, entries
}

func copyConvo(c chat.Convo) chat.Convo {
	if c.User != nil {
		u := *c.User
		c.User = &u
	}
	return c
}
