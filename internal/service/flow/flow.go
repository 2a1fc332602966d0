// Package flow derives the synthetic onboarding prompts a visitor sees
// before a conversation exists on the backend.
//
// Derive is pure: the output depends only on its Input, and the only clock it
// reads is Input.StartedAt, which stamps every prompt for day grouping.
package flow

import (
	"strings"
	"time"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	"github.com/zhouzirui/z-tavern/widget/internal/model/topic"
)

const (
	greetingWithTopics = "Hello, how may I help you today? Please pick a topic from below with which I can assist you:"
	greetingPlain      = "Hello, how may I help you today?"
	askDetailContent   = "We just need some information from you to proceed:"
	defaultQueryPrompt = "Please ask your question"
)

// State names the stage of the onboarding dialogue.
type State string

const (
	StateInit            State = "INIT"
	StateTopicSelected   State = "TOPIC_SELECTED"
	StateSubTopicPending State = "SUBTOPIC_PENDING"
	StateQueryPending    State = "QUERY_PENDING"
	StateSessionActive   State = "SESSION_ACTIVE"
)

// Policy holds the ordering choices that differ between deployments.
type Policy struct {
	// SubTopicBeforeIdentity lets the visitor walk the whole topic hierarchy
	// before the identity form is shown. By default the form follows the
	// top-level topic pick.
	SubTopicBeforeIdentity bool
}

// Input is everything the flow depends on.
type Input struct {
	Topics topic.Catalog
	// Selection holds the option picked at each hierarchy level: topic,
	// sub-topic, and so on.
	Selection     []string
	Identity      *chat.UserDetail
	Query         string
	SessionActive bool
	StartedAt     time.Time
	Policy        Policy
}

// Sequence is a derived prompt list in chronological order.
type Sequence []chat.Prompt

// NewestFirst returns the sequence in render order, matching the
// newest-first ordering of persisted messages.
func (s Sequence) NewestFirst() Sequence {
	out := make(Sequence, len(s))
	for i, p := range s {
		out[len(s)-1-i] = p
	}
	return out
}

// IDs lists the prompt ids in sequence order.
func (s Sequence) IDs() []string {
	ids := make([]string, 0, len(s))
	for _, p := range s {
		ids = append(ids, p.PromptID())
	}
	return ids
}

// Find returns the prompt with id.
func (s Sequence) Find(id string) (chat.Prompt, bool) {
	for _, p := range s {
		if p.PromptID() == id {
			return p, true
		}
	}
	return nil, false
}

// Result is a derived sequence together with the stage it was derived at.
type Result struct {
	State    State
	Sequence Sequence
	// Resolved is the validated selection path. It is shorter than the
	// input selection when a stored pick no longer exists.
	Resolved []topic.Node
}

// Derive computes the prompt sequence for in.
func Derive(in Input) Sequence {
	return Evaluate(in).Sequence
}

// Stage reports the stage of in without building the prompts.
func Stage(in Input) State {
	return Evaluate(in).State
}

// Evaluate runs the state machine once.
func Evaluate(in Input) Result {
	b := builder{at: in.StartedAt}
	identityKnown := in.Identity.Complete()
	query := strings.TrimSpace(in.Query)

	if len(in.Topics) == 0 {
		return synthetic(b, in, identityKnown, query)
	}

	b.text(chat.PromptGreeting, chat.RoleSystem, greetingWithTopics)

	resolved, ok := in.Topics.Resolve(in.Selection)
	if !ok || len(resolved) == 0 {
		// Nothing picked, or a stored pick that no longer validates.
		if !in.SessionActive {
			b.suggest(0, in.Topics.Names())
		}
		return b.result(in, StateInit, nil)
	}

	if !in.SessionActive {
		b.suggest(0, in.Topics.Names())
	}
	b.text(chat.LevelResponseID(0), chat.RoleUser, resolved[0].Topic)

	gateIdentity := !identityKnown && !in.SessionActive
	if gateIdentity && !in.Policy.SubTopicBeforeIdentity {
		b.askDetail()
		return b.result(in, StateTopicSelected, resolved)
	}

	node := resolved[0]
	for level := 1; node.HasChildren(); level++ {
		if level >= len(resolved) {
			if in.SessionActive {
				// The session was opened at this level; its prompt stands.
				break
			}
			b.suggest(level, node.Options())
			return b.result(in, StateSubTopicPending, resolved)
		}
		if !in.SessionActive {
			b.suggest(level, node.Options())
		}
		node = resolved[level]
		b.text(chat.LevelResponseID(level), chat.RoleUser, node.Topic)
	}

	if gateIdentity {
		b.askDetail()
		return b.result(in, StateTopicSelected, resolved)
	}

	b.text(chat.PromptQueryQuery, chat.RoleSystem, contextFor(node))
	if query != "" {
		b.text(chat.PromptQueryResponse, chat.RoleUser, query)
	}
	return b.result(in, StateQueryPending, resolved)
}

// synthetic handles a catalog without topics: one implicit topic whose
// question is asked before the identity form.
func synthetic(b builder, in Input, identityKnown bool, query string) Result {
	b.text(chat.PromptGreeting, chat.RoleSystem, greetingPlain)
	if in.SessionActive {
		return b.result(in, StateSessionActive, nil)
	}
	if query == "" {
		if identityKnown {
			return b.result(in, StateQueryPending, nil)
		}
		return b.result(in, StateInit, nil)
	}
	b.text(chat.PromptQueryResponse, chat.RoleUser, query)
	if !identityKnown {
		b.askDetail()
		return b.result(in, StateTopicSelected, nil)
	}
	return b.result(in, StateQueryPending, nil)
}

func contextFor(node topic.Node) string {
	if text := strings.TrimSpace(node.ContextForUsers); text != "" {
		return text
	}
	return defaultQueryPrompt
}

type builder struct {
	at  time.Time
	seq Sequence
}

func (b *builder) text(id string, role chat.Role, content string) {
	b.seq = append(b.seq, chat.TextPrompt{ID: id, Role: role, Content: content, CreatedAt: b.at})
}

func (b *builder) suggest(level int, options []string) {
	if len(options) == 0 {
		return
	}
	b.seq = append(b.seq, chat.SuggestionPrompt{
		ID:        chat.LevelQueryID(level),
		Level:     level,
		Options:   options,
		CreatedAt: b.at,
	})
}

func (b *builder) askDetail() {
	b.seq = append(b.seq, chat.FormPrompt{
		ID:        chat.PromptAskUserDetail,
		Content:   askDetailContent,
		Fields:    DetailFields(),
		CreatedAt: b.at,
	})
}

func (b *builder) result(in Input, state State, resolved []topic.Node) Result {
	if in.SessionActive {
		state = StateSessionActive
	}
	return Result{State: state, Sequence: b.seq, Resolved: resolved}
}

// DetailFields are the inputs of the identity form.
func DetailFields() []chat.Field {
	return []chat.Field{
		{InputType: "input", Label: "Name", Type: "text", Name: "name", Required: true},
		{InputType: "input", Label: "Email", Type: "email", Name: "email", Required: true},
	}
}
