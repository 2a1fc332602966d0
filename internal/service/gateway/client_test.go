package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandReplacesEveryPlaceholderOnce(t *testing.T) {
	got, err := Expand("/api/chat/:chat_id/:message_id", map[string]string{
		":chat_id":    "abc:message_id",
		":message_id": "m1",
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/chat/abc:message_id/m1", got)
}

func TestExpandAllowsEmptyValue(t *testing.T) {
	got, err := Expand("/api/chat/:chat_id", map[string]string{":chat_id": ""})
	require.NoError(t, err)
	assert.Equal(t, "/api/chat/", got)
}

func TestExpandRejectsUnresolvedPlaceholder(t *testing.T) {
	_, err := Expand("/api/chat/:chat_id/:message_id", map[string]string{":chat_id": "abc"})
	require.Error(t, err)
	assert.Equal(t, KindContract, KindOf(err))
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
}

func TestExpandEscapesValues(t *testing.T) {
	got, err := Expand("/api/get-chatbot/:chatbot_id", map[string]string{":chatbot_id": "a b/c"})
	require.NoError(t, err)
	assert.Equal(t, "/api/get-chatbot/a%20b%2Fc", got)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{":chat_id", ":message_id"}, Placeholders("/api/chat/:chat_id/:message_id"))
}

func respond(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestCallReturnsEnvelopeData(t *testing.T) {
	var gotPath, gotHeader, gotQuery string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("x-chatbot-id")
		gotQuery = r.URL.Query().Get("page")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		respond(w, http.StatusOK, `{"success":true,"data":{"ok":1}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetHeader("x-chatbot-id", "bot-1")
	ep := client.Endpoint("/api/chat/:chat_id")
	defer ep.Close()

	data, err := ep.Call(context.Background(), http.MethodPost, Options{
		Params: map[string]string{":chat_id": "c1"},
		Query:  map[string]string{"page": "2"},
		Body:   map[string]string{"message": "hi"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":1}`, string(data))
	assert.Equal(t, "/api/chat/c1", gotPath)
	assert.Equal(t, "bot-1", gotHeader)
	assert.Equal(t, "2", gotQuery)
	assert.Equal(t, "hi", gotBody["message"])
}

func TestCallClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{name: "application", status: http.StatusOK, body: `{"success":false,"message":"topic required"}`, kind: KindApplication, message: "topic required"},
		{name: "not found envelope", status: http.StatusNotFound, body: `{"success":false,"message":"chat not found"}`, kind: KindApplication, message: "chat not found"},
		{name: "auth", status: http.StatusUnauthorized, body: `{"success":false,"message":"unknown chatbot"}`, kind: KindAuth, message: "unknown chatbot"},
		{name: "auth without body", status: http.StatusUnauthorized, body: ``, kind: KindAuth},
		{name: "garbage", status: http.StatusBadGateway, body: `<html>`, kind: KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				respond(w, tt.status, tt.body)
			}))
			defer srv.Close()

			ep := NewClient(srv.URL, srv.Client()).Endpoint("/api/chat/topics")
			_, err := ep.Call(context.Background(), http.MethodGet, Options{})
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))

			var gwErr *Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.message, gwErr.Message)
		})
	}
}

func TestCallTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).Endpoint("/api/chat/topics").Call(context.Background(), http.MethodGet, Options{})
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestCallUnresolvedPlaceholderNeverDispatches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		respond(w, http.StatusOK, `{"success":true}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).Endpoint("/api/chat/:chat_id").Call(context.Background(), http.MethodGet, Options{})
	assert.Equal(t, KindContract, KindOf(err))
	assert.Zero(t, hits)
}

func blockingServer(t *testing.T) (*httptest.Server, chan struct{}) {
	t.Helper()
	entered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		respond(w, http.StatusOK, `{"success":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, entered
}

func TestCloseAbortsInFlightCall(t *testing.T) {
	srv, entered := blockingServer(t)
	ep := NewClient(srv.URL, srv.Client()).Endpoint("/slow")

	errCh := make(chan error, 1)
	go func() {
		_, err := ep.Call(context.Background(), http.MethodGet, Options{})
		errCh <- err
	}()

	<-entered
	ep.Close()

	select {
	case err := <-errCh:
		assert.True(t, IsAborted(err), "expected aborted, got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("call was not aborted")
	}

	_, err := ep.Call(context.Background(), http.MethodGet, Options{})
	assert.True(t, IsAborted(err))
}

func TestRetargetAbortsInFlightCall(t *testing.T) {
	srv, entered := blockingServer(t)
	ep := NewClient(srv.URL, srv.Client()).Endpoint("/slow")
	defer ep.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := ep.Call(context.Background(), http.MethodGet, Options{})
		errCh <- err
	}()

	<-entered
	ep.Retarget("/other")

	select {
	case err := <-errCh:
		assert.True(t, IsAborted(err))
	case <-time.After(3 * time.Second):
		t.Fatal("call was not aborted")
	}
	assert.Equal(t, "/other", ep.Template())
}

func TestCallerContextCancelIsAborted(t *testing.T) {
	srv, entered := blockingServer(t)
	ep := NewClient(srv.URL, srv.Client()).Endpoint("/slow")
	defer ep.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ep.Call(ctx, http.MethodGet, Options{})
		errCh <- err
	}()

	<-entered
	cancel()
	err := <-errCh
	assert.True(t, IsAborted(err))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "boom", Message(&Error{Kind: KindApplication, Message: "boom"}))
	assert.Equal(t, "Network error, please try again", Message(&Error{Kind: KindNetwork}))
	assert.Equal(t, "", Message(nil))
}
