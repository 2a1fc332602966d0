package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies the outcome of a failed call.
type Kind string

const (
	// KindNetwork covers transport failures and unreadable responses.
	KindNetwork Kind = "network"
	// KindApplication is an envelope that reported success:false.
	KindApplication Kind = "application"
	// KindAuth is an HTTP 401 from the backend.
	KindAuth Kind = "auth"
	// KindAborted is a call canceled by its owner. It is never user facing.
	KindAborted Kind = "aborted"
	// KindContract is a misuse of the gateway, such as an unresolved placeholder.
	KindContract Kind = "contract"
)

var (
	ErrUnresolvedPlaceholder = errors.New("unresolved url placeholder")
	ErrEndpointClosed        = errors.New("endpoint closed")
)

// Error is the classified failure of a gateway call.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or "" when err did not come from
// the gateway.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

// IsAborted reports whether err is a canceled call.
func IsAborted(err error) bool {
	return KindOf(err) == KindAborted
}

// Message returns the text to show a visitor for err.
func Message(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		if gwErr.Message != "" {
			return gwErr.Message
		}
		switch gwErr.Kind {
		case KindNetwork:
			return "Network error, please try again"
		case KindAuth:
			return "This chat is not available"
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
