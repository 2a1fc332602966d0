package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	"github.com/zhouzirui/z-tavern/widget/internal/model/topic"
)

var startedAt = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func catalog() topic.Catalog {
	return topic.Catalog{
		{Topic: "Billing", ContextForUsers: "Which invoice is this about?"},
		{Topic: "Support", SubTopics: []topic.Node{
			{Topic: "Refunds", ContextForUsers: "Share your order number."},
			{Topic: "Returns"},
		}},
		{Topic: "Hardware", SubTopics: []topic.Node{
			{Topic: "Laptops", SubTopics: []topic.Node{
				{Topic: "Batteries", ContextForUsers: "Which model?"},
			}},
		}},
	}
}

var ann = &chat.UserDetail{Name: "Ann", Email: "ann@x.com"}

func text(t *testing.T, seq Sequence, id string) chat.TextPrompt {
	t.Helper()
	p, ok := seq.Find(id)
	require.True(t, ok, "prompt %s missing from %v", id, seq.IDs())
	tp, ok := p.(chat.TextPrompt)
	require.True(t, ok, "prompt %s is %T", id, p)
	return tp
}

func TestDeriveNoTopicsNoIdentity(t *testing.T) {
	res := Evaluate(Input{StartedAt: startedAt})
	assert.Equal(t, StateInit, res.State)
	assert.Equal(t, []string{chat.PromptGreeting}, res.Sequence.IDs())
	assert.Equal(t, greetingPlain, text(t, res.Sequence, chat.PromptGreeting).Content)
}

func TestDeriveDirectQueryAsksForIdentity(t *testing.T) {
	res := Evaluate(Input{StartedAt: startedAt, Query: "What are your hours?"})
	assert.Equal(t, StateTopicSelected, res.State)
	assert.Equal(t, []string{chat.PromptGreeting, chat.PromptQueryResponse, chat.PromptAskUserDetail}, res.Sequence.IDs())
	assert.Equal(t, "What are your hours?", text(t, res.Sequence, chat.PromptQueryResponse).Content)

	form, ok := res.Sequence[2].(chat.FormPrompt)
	require.True(t, ok)
	require.Len(t, form.Fields, 2)
	assert.Equal(t, "email", form.Fields[1].Name)
}

func TestDeriveDirectQueryWithIdentityIsReady(t *testing.T) {
	res := Evaluate(Input{StartedAt: startedAt, Query: "hours?", Identity: ann})
	assert.Equal(t, StateQueryPending, res.State)
	assert.Equal(t, []string{chat.PromptGreeting, chat.PromptQueryResponse}, res.Sequence.IDs())
}

func TestDeriveInitOffersTopics(t *testing.T) {
	res := Evaluate(Input{Topics: catalog(), StartedAt: startedAt})
	assert.Equal(t, StateInit, res.State)
	require.Equal(t, []string{chat.PromptGreeting, chat.PromptTopicQuery}, res.Sequence.IDs())

	suggestion := res.Sequence[1].(chat.SuggestionPrompt)
	assert.Equal(t, []string{"Billing", "Support", "Hardware"}, suggestion.Options)
	assert.Equal(t, greetingWithTopics, text(t, res.Sequence, chat.PromptGreeting).Content)
}

func TestDeriveTopicWithoutIdentityAsksForDetails(t *testing.T) {
	res := Evaluate(Input{Topics: catalog(), Selection: []string{"Support"}, StartedAt: startedAt})
	assert.Equal(t, StateTopicSelected, res.State)
	assert.Equal(t, []string{
		chat.PromptGreeting, chat.PromptTopicQuery, chat.PromptTopicResponse, chat.PromptAskUserDetail,
	}, res.Sequence.IDs())
	assert.Equal(t, "Support", text(t, res.Sequence, chat.PromptTopicResponse).Content)
}

func TestDeriveLeafTopicWithIdentityAsksQuestion(t *testing.T) {
	res := Evaluate(Input{Topics: catalog(), Selection: []string{"Billing"}, Identity: ann, StartedAt: startedAt})
	assert.Equal(t, StateQueryPending, res.State)
	assert.Equal(t, "Which invoice is this about?", text(t, res.Sequence, chat.PromptQueryQuery).Content)
}

func TestDeriveSubTopicScenario(t *testing.T) {
	pending := Evaluate(Input{Topics: catalog(), Selection: []string{"Support"}, Identity: ann, StartedAt: startedAt})
	assert.Equal(t, StateSubTopicPending, pending.State)
	assert.Equal(t, []string{
		chat.PromptGreeting, chat.PromptTopicQuery, chat.PromptTopicResponse, chat.PromptSubTopicQuery,
	}, pending.Sequence.IDs())

	done := Evaluate(Input{Topics: catalog(), Selection: []string{"Support", "Refunds"}, Identity: ann, StartedAt: startedAt})
	assert.Equal(t, StateQueryPending, done.State)
	ids := done.Sequence.IDs()
	require.Equal(t, []string{
		chat.PromptGreeting, chat.PromptTopicQuery,
		chat.PromptTopicResponse, chat.PromptSubTopicQuery, chat.PromptSubTopicResponse, chat.PromptQueryQuery,
	}, ids)

	sub := done.Sequence[3].(chat.SuggestionPrompt)
	assert.Equal(t, []string{"Refunds", "Returns"}, sub.Options)
	assert.Equal(t, 1, sub.Level)
	assert.Equal(t, "Refunds", text(t, done.Sequence, chat.PromptSubTopicResponse).Content)
	assert.Equal(t, "Share your order number.", text(t, done.Sequence, chat.PromptQueryQuery).Content)
}

func TestDeriveDefaultQueryPrompt(t *testing.T) {
	seq := Derive(Input{Topics: catalog(), Selection: []string{"Support", "Returns"}, Identity: ann, StartedAt: startedAt})
	assert.Equal(t, defaultQueryPrompt, text(t, seq, chat.PromptQueryQuery).Content)
}

func TestDeriveDeepHierarchy(t *testing.T) {
	res := Evaluate(Input{Topics: catalog(), Selection: []string{"Hardware", "Laptops"}, Identity: ann, StartedAt: startedAt})
	assert.Equal(t, StateSubTopicPending, res.State)
	assert.Equal(t, chat.LevelQueryID(2), res.Sequence[len(res.Sequence)-1].PromptID())

	res = Evaluate(Input{Topics: catalog(), Selection: []string{"Hardware", "Laptops", "Batteries"}, Identity: ann, StartedAt: startedAt})
	assert.Equal(t, StateQueryPending, res.State)
	assert.Equal(t, "Batteries", text(t, res.Sequence, chat.LevelResponseID(2)).Content)
	assert.Equal(t, "Which model?", text(t, res.Sequence, chat.PromptQueryQuery).Content)
	assert.Len(t, res.Resolved, 3)
}

func TestDeriveSubTopicBeforeIdentityPolicy(t *testing.T) {
	policy := Policy{SubTopicBeforeIdentity: true}

	pending := Evaluate(Input{Topics: catalog(), Selection: []string{"Support"}, Policy: policy, StartedAt: startedAt})
	assert.Equal(t, StateSubTopicPending, pending.State)
	_, hasForm := pending.Sequence.Find(chat.PromptAskUserDetail)
	assert.False(t, hasForm)

	leaf := Evaluate(Input{Topics: catalog(), Selection: []string{"Support", "Refunds"}, Policy: policy, StartedAt: startedAt})
	assert.Equal(t, StateTopicSelected, leaf.State)
	assert.Equal(t, chat.PromptAskUserDetail, leaf.Sequence[len(leaf.Sequence)-1].PromptID())
}

func TestDeriveQueryEchoAfterPrompt(t *testing.T) {
	seq := Derive(Input{Topics: catalog(), Selection: []string{"Billing"}, Identity: ann, Query: "double charge", StartedAt: startedAt})
	ids := seq.IDs()
	assert.Equal(t, chat.PromptQueryQuery, ids[len(ids)-2])
	assert.Equal(t, chat.PromptQueryResponse, ids[len(ids)-1])
}

func TestDeriveSessionActiveSuppressesInteractivePrompts(t *testing.T) {
	res := Evaluate(Input{Topics: catalog(), Selection: []string{"Billing"}, SessionActive: true, StartedAt: startedAt})
	assert.Equal(t, StateSessionActive, res.State)
	assert.Equal(t, []string{chat.PromptGreeting, chat.PromptTopicResponse, chat.PromptQueryQuery}, res.Sequence.IDs())
	assert.Equal(t, "Which invoice is this about?", text(t, res.Sequence, chat.PromptQueryQuery).Content)

	for _, p := range res.Sequence {
		assert.Equal(t, chat.KindText, p.Kind())
	}
}

func TestDeriveSessionActiveWithoutStoredSubTopic(t *testing.T) {
	res := Evaluate(Input{Topics: catalog(), Selection: []string{"Support"}, SessionActive: true, StartedAt: startedAt})
	assert.Equal(t, StateSessionActive, res.State)
	assert.Equal(t, []string{chat.PromptGreeting, chat.PromptTopicResponse, chat.PromptQueryQuery}, res.Sequence.IDs())
}

func TestDeriveStaleSelectionFallsBackToInit(t *testing.T) {
	res := Evaluate(Input{Topics: catalog(), Selection: []string{"Support", "Warranty"}, Identity: ann, StartedAt: startedAt})
	assert.Equal(t, StateInit, res.State)
	assert.Equal(t, []string{chat.PromptGreeting, chat.PromptTopicQuery}, res.Sequence.IDs())
	assert.Nil(t, res.Resolved)

	active := Evaluate(Input{Topics: catalog(), Selection: []string{"Gone"}, SessionActive: true, StartedAt: startedAt})
	assert.Equal(t, StateSessionActive, active.State)
	assert.Equal(t, []string{chat.PromptGreeting}, active.Sequence.IDs())
}

func TestDeriveIsDeterministic(t *testing.T) {
	inputs := []Input{
		{StartedAt: startedAt},
		{StartedAt: startedAt, Query: "hi"},
		{Topics: catalog(), StartedAt: startedAt},
		{Topics: catalog(), Selection: []string{"Support"}, StartedAt: startedAt},
		{Topics: catalog(), Selection: []string{"Support", "Refunds"}, Identity: ann, StartedAt: startedAt},
		{Topics: catalog(), Selection: []string{"Billing"}, Identity: ann, SessionActive: true, StartedAt: startedAt},
	}
	for _, in := range inputs {
		assert.Equal(t, Evaluate(in), Evaluate(in))
	}
}

func TestDeriveStampsStartedAt(t *testing.T) {
	seq := Derive(Input{Topics: catalog(), Selection: []string{"Billing"}, Identity: ann, StartedAt: startedAt})
	for _, entry := range seq {
		switch p := entry.(type) {
		case chat.TextPrompt:
			assert.Equal(t, startedAt, p.CreatedAt)
		case chat.SuggestionPrompt:
			assert.Equal(t, startedAt, p.CreatedAt)
		case chat.FormPrompt:
			assert.Equal(t, startedAt, p.CreatedAt)
		}
	}
}

func TestPromptIDsNeverCollideWithMessageIDs(t *testing.T) {
	seq := Derive(Input{Topics: catalog(), Selection: []string{"Hardware", "Laptops", "Batteries"}, Identity: ann, Query: "q", StartedAt: startedAt})
	for _, id := range seq.IDs() {
		assert.True(t, chat.IsPromptID(id), id)
		assert.False(t, chat.IsLocalID(id), id)
	}
}

func TestNewestFirstReverses(t *testing.T) {
	seq := Derive(Input{Topics: catalog(), StartedAt: startedAt})
	assert.Equal(t, []string{chat.PromptTopicQuery, chat.PromptGreeting}, seq.NewestFirst().IDs())
}
