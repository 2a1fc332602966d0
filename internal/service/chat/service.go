package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
)

const fallbackReply = "Thanks for reaching out! An agent will get back to you shortly."

var (
	ErrChatbotRequired  = errors.New("chatbot id is required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrMessageRequired  = errors.New("message is required")
	ErrIdentityRequired = errors.New("name and email are required")
)

// Replier drafts the assistant answer to the last message of a transcript.
type Replier interface {
	Reply(ctx context.Context, record chat.SessionRecord) (string, error)
}

// Draft is what a visitor sends to open a conversation.
type Draft struct {
	Topic    string
	SubTopic string
	User     chat.UserDetail
	Message  string
}

type entry struct {
	chatbotID string
	record    chat.SessionRecord
}

// Service encapsulates conversation state management.
type Service struct {
	replier Replier
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewService bootstraps the in-memory chat service. A nil replier answers
// every message with a canned acknowledgement.
func NewService(replier Replier) *Service {
	return &Service{
		replier:  replier,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*entry),
	}
}

// CreateSession opens a conversation for chatbotID and answers its first
// message.
func (s *Service) CreateSession(ctx context.Context, chatbotID string, draft Draft) (chat.SessionRecord, error) {
	if chatbotID == "" {
		return chat.SessionRecord{}, ErrChatbotRequired
	}
	text := strings.TrimSpace(draft.Message)
	if text == "" {
		return chat.SessionRecord{}, ErrMessageRequired
	}
	user := chat.UserDetail{Name: strings.TrimSpace(draft.User.Name), Email: strings.TrimSpace(draft.User.Email)}
	if !user.Complete() {
		return chat.SessionRecord{}, ErrIdentityRequired
	}

	now := s.now()
	record := chat.SessionRecord{
		ID:        newID(),
		Topic:     draft.Topic,
		SubTopic:  draft.SubTopic,
		User:      &user,
		CreatedAt: now,
		Messages:  []chat.Message{{ID: newID(), Role: chat.RoleUser, Content: text, CreatedAt: now}},
	}

	s.mu.Lock()
	s.sessions[record.ID] = &entry{chatbotID: chatbotID, record: record}
	s.mu.Unlock()

	log.Printf("[chat] session %s opened for chatbot=%s topic=%q", record.ID, chatbotID, record.Topic)
	return s.answer(ctx, chatbotID, record.ID)
}

// Continue appends a visitor message to an existing conversation and answers
// it.
func (s *Service) Continue(ctx context.Context, chatbotID, sessionID, message string) (chat.SessionRecord, error) {
	text := strings.TrimSpace(message)
	if text == "" {
		return chat.SessionRecord{}, ErrMessageRequired
	}

	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok || e.chatbotID != chatbotID {
		s.mu.Unlock()
		return chat.SessionRecord{}, ErrSessionNotFound
	}
	e.record.Messages = append(e.record.Messages, chat.Message{
		ID:        newID(),
		Role:      chat.RoleUser,
		Content:   text,
		CreatedAt: s.now(),
	})
	s.mu.Unlock()

	return s.answer(ctx, chatbotID, sessionID)
}

// answer appends the assistant reply. The replier runs without the lock held.
func (s *Service) answer(ctx context.Context, chatbotID, sessionID string) (chat.SessionRecord, error) {
	transcript, err := s.GetSession(ctx, chatbotID, sessionID)
	if err != nil {
		return chat.SessionRecord{}, err
	}

	reply := fallbackReply
	if s.replier != nil {
		if text, err := s.replier.Reply(ctx, transcript); err != nil {
			log.Printf("[chat] reply for session %s failed, using fallback: %v", sessionID, err)
		} else if text != "" {
			reply = text
		}
	}

	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return chat.SessionRecord{}, ErrSessionNotFound
	}
	e.record.Messages = append(e.record.Messages, chat.Message{
		ID:        newID(),
		Role:      chat.RoleAssistant,
		Content:   reply,
		CreatedAt: s.now(),
	})
	out := copyRecord(e.record)
	s.mu.Unlock()
	return out, nil
}

// GetSession retrieves a conversation with its messages in chronological
// order. Sessions of other chatbots are reported as missing.
func (s *Service) GetSession(_ context.Context, chatbotID, sessionID string) (chat.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok || e.chatbotID != chatbotID {
		return chat.SessionRecord{}, ErrSessionNotFound
	}
	return copyRecord(e.record), nil
}

// Vote stores the visitor's vote on a message.
func (s *Service) Vote(_ context.Context, chatbotID, sessionID, messageID string, like chat.Like) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.chatbotID != chatbotID {
		return chat.Message{}, ErrSessionNotFound
	}
	for i := range e.record.Messages {
		if e.record.Messages[i].ID == messageID {
			e.record.Messages[i].Like = like
			return e.record.Messages[i], nil
		}
	}
	return chat.Message{}, ErrMessageNotFound
}

func copyRecord(r chat.SessionRecord) chat.SessionRecord {
	if r.User != nil {
		u := *r.User
		r.User = &u
	}
	r.Messages = chat.CloneMessages(r.Messages)
	return r
}

// newID mimics the 24 hex digit ids of the production backend.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
