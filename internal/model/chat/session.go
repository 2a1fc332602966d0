package chat

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

var (
	ErrNameRequired = errors.New("name is required")
	ErrInvalidEmail = errors.New("a valid email is required")
)

// UserDetail is the identity a visitor supplies through the onboarding form.
type UserDetail struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Complete reports whether both fields carry a value.
func (u *UserDetail) Complete() bool {
	return u != nil && strings.TrimSpace(u.Name) != "" && strings.TrimSpace(u.Email) != ""
}

// Validate checks the form input before it is accepted.
func (u UserDetail) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return ErrNameRequired
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(u.Email))
	if err != nil || addr.Address != strings.TrimSpace(u.Email) {
		return ErrInvalidEmail
	}
	return nil
}

// Convo captures the active conversation of one widget instance. A Convo
// without ID is a draft that only exists on the client.
type Convo struct {
	ID        string      `json:"_id,omitempty"`
	Topic     string      `json:"topic,omitempty"`
	SubTopic  string      `json:"subTopic,omitempty"`
	User      *UserDetail `json:"user,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Draft reports whether the backend has not acknowledged the conversation yet.
func (c Convo) Draft() bool {
	return c.ID == ""
}

// SessionRecord is the session payload returned by the backend.
type SessionRecord struct {
	ID        string      `json:"_id"`
	Topic     string      `json:"topic,omitempty"`
	SubTopic  string      `json:"subTopic,omitempty"`
	User      *UserDetail `json:"user,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	Messages  []Message   `json:"messages"`
}

// Convo strips the message history from the record.
func (r SessionRecord) Convo() Convo {
	var user *UserDetail
	if r.User != nil {
		u := *r.User
		user = &u
	}
	return Convo{
		ID:        r.ID,
		Topic:     r.Topic,
		SubTopic:  r.SubTopic,
		User:      user,
		CreatedAt: r.CreatedAt,
	}
}
