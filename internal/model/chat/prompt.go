package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates rows of the rendered message list.
type Kind string

const (
	KindPersisted  Kind = "persisted"
	KindText       Kind = "text"
	KindSuggestion Kind = "suggestion"
	KindForm       Kind = "form"
)

// Prompt ids. Prompts are synthetic and regenerated on every derivation, so
// the ids are a fixed vocabulary rather than unique tokens.
const (
	PromptGreeting         = "greeting"
	PromptTopicQuery       = "topicQuery"
	PromptTopicResponse    = "topicResponse"
	PromptSubTopicQuery    = "subTopicQuery"
	PromptSubTopicResponse = "subTopicResponse"
	PromptQueryQuery       = "queryQuery"
	PromptQueryResponse    = "queryResponse"
	PromptAskUserDetail    = "askUserDetail"
)

var promptVocabulary = map[string]struct{}{
	PromptGreeting:         {},
	PromptTopicQuery:       {},
	PromptTopicResponse:    {},
	PromptSubTopicQuery:    {},
	PromptSubTopicResponse: {},
	PromptQueryQuery:       {},
	PromptQueryResponse:    {},
	PromptAskUserDetail:    {},
}

// LevelQueryID names the suggestion prompt of a hierarchy level. Level 0 is
// the topic list, level 1 the sub-topic list; deeper levels get a suffix.
func LevelQueryID(level int) string {
	switch level {
	case 0:
		return PromptTopicQuery
	case 1:
		return PromptSubTopicQuery
	default:
		return fmt.Sprintf("%s.%d", PromptSubTopicQuery, level)
	}
}

// LevelResponseID names the echo of the option picked at a hierarchy level.
func LevelResponseID(level int) string {
	switch level {
	case 0:
		return PromptTopicResponse
	case 1:
		return PromptSubTopicResponse
	default:
		return fmt.Sprintf("%s.%d", PromptSubTopicResponse, level)
	}
}

// IsPromptID reports whether id belongs to the prompt vocabulary.
func IsPromptID(id string) bool {
	if _, ok := promptVocabulary[id]; ok {
		return true
	}
	base, _, found := strings.Cut(id, ".")
	if !found {
		return false
	}
	return base == PromptSubTopicQuery || base == PromptSubTopicResponse
}

// Prompt is a synthetic, never persisted message produced by the flow.
type Prompt interface {
	PromptID() string
	Kind() Kind
}

// TextPrompt is a plain line of dialogue (greeting, echoes, query prompts).
type TextPrompt struct {
	ID        string    `json:"_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (p TextPrompt) PromptID() string { return p.ID }
func (p TextPrompt) Kind() Kind       { return KindText }

// SuggestionPrompt offers the options of one hierarchy level.
type SuggestionPrompt struct {
	ID        string    `json:"_id"`
	Level     int       `json:"level"`
	Options   []string  `json:"options"`
	CreatedAt time.Time `json:"createdAt"`
}

func (p SuggestionPrompt) PromptID() string { return p.ID }
func (p SuggestionPrompt) Kind() Kind       { return KindSuggestion }

// Field is one input of a form prompt.
type Field struct {
	InputType string `json:"inputType"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Required  bool   `json:"required"`
}

// FormPrompt asks the visitor for structured input.
type FormPrompt struct {
	ID        string    `json:"_id"`
	Content   string    `json:"content"`
	Fields    []Field   `json:"fields"`
	CreatedAt time.Time `json:"createdAt"`
}

func (p FormPrompt) PromptID() string { return p.ID }
func (p FormPrompt) Kind() Kind       { return KindForm }

// Entry is one row of the rendered list. Exactly one payload matches Kind.
type Entry struct {
	Kind       Kind
	Message    *Message
	Text       *TextPrompt
	Suggestion *SuggestionPrompt
	Form       *FormPrompt
}

// ID returns the id of whichever payload the entry carries.
func (e Entry) ID() string {
	switch e.Kind {
	case KindPersisted:
		return e.Message.ID
	case KindText:
		return e.Text.ID
	case KindSuggestion:
		return e.Suggestion.ID
	case KindForm:
		return e.Form.ID
	}
	return ""
}

// PersistedEntry wraps a backend message.
func PersistedEntry(msg Message) Entry {
	return Entry{Kind: KindPersisted, Message: &msg}
}

// PromptEntry wraps a prompt variant.
func PromptEntry(p Prompt) Entry {
	switch v := p.(type) {
	case TextPrompt:
		return Entry{Kind: KindText, Text: &v}
	case SuggestionPrompt:
		return Entry{Kind: KindSuggestion, Suggestion: &v}
	case FormPrompt:
		return Entry{Kind: KindForm, Form: &v}
	}
	panic(fmt.Sprintf("chat: unknown prompt type %T", p))
}

// MarshalJSON flattens the payload next to its kind discriminant.
func (e Entry) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Kind {
	case KindPersisted:
		payload = e.Message
	case KindText:
		payload = e.Text
	case KindSuggestion:
		payload = e.Suggestion
	case KindForm:
		payload = e.Form
	default:
		return nil, fmt.Errorf("chat: entry has unknown kind %q", e.Kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(e.Kind)
	fields["kind"] = kind
	return json.Marshal(fields)
}
