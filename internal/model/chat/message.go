package chat

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// localIDPrefix marks ids minted on the client for optimistic echoes.
const localIDPrefix = "local-"

// NewLocalID returns an id for an optimistic message. Backend ids never carry
// the prefix, so the two id spaces cannot collide.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was minted by NewLocalID.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// Like is the tri-state vote stored on a message.
type Like int8

const (
	LikeUnset Like = iota
	LikeTrue
	LikeFalse
)

func (l Like) String() string {
	switch l {
	case LikeTrue:
		return "true"
	case LikeFalse:
		return "false"
	default:
		return "unset"
	}
}

// MarshalJSON encodes the vote as true, false or null.
func (l Like) MarshalJSON() ([]byte, error) {
	switch l {
	case LikeTrue:
		return []byte("true"), nil
	case LikeFalse:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true, false and null.
func (l *Like) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*l = LikeTrue
	case "false":
		*l = LikeFalse
	case "null", "":
		*l = LikeUnset
	default:
		return fmt.Errorf("invalid like value %s", data)
	}
	return nil
}

// VoteAction is the button the visitor pressed.
type VoteAction string

const (
	VoteLike    VoteAction = "like"
	VoteDislike VoteAction = "dislike"
)

// Press returns the vote that results from pressing action while l is set.
// A set vote always returns to unset first; true and false never swap directly.
func (l Like) Press(action VoteAction) Like {
	if l != LikeUnset {
		return LikeUnset
	}
	switch action {
	case VoteLike:
		return LikeTrue
	case VoteDislike:
		return LikeFalse
	default:
		return LikeUnset
	}
}

// Message is one persisted (or optimistically echoed) turn of a session.
type Message struct {
	ID        string    `json:"_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Like      Like      `json:"like"`
	CreatedAt time.Time `json:"createdAt"`
}

// CloneMessages copies a message slice so snapshots never alias live state.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return []Message{}
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

// Reversed returns a reversed copy. Backend payloads are chronological and the
// widget keeps them newest-first.
func Reversed(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[len(messages)-1-i] = msg
	}
	return out
}
