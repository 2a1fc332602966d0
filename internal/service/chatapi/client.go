// Package chatapi is the typed client of the chat backend REST surface.
package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	"github.com/zhouzirui/z-tavern/widget/internal/model/chatbot"
	"github.com/zhouzirui/z-tavern/widget/internal/model/topic"
	"github.com/zhouzirui/z-tavern/widget/internal/service/gateway"
)

// HeaderChatbotID carries the tenant on every call.
const HeaderChatbotID = "x-chatbot-id"

// Url templates of the backend.
const (
	PathTopics        = "/api/chat/topics"
	PathChatbotConfig = "/api/get-chatbot/:chatbot_id"
	PathChat          = "/api/chat/:chat_id"
	PathMessage       = "/api/chat/:chat_id/:message_id"
)

// BotConfig is the chatbot payload: presentation plus its topic catalog.
type BotConfig struct {
	chatbot.Config
	Topics topic.Catalog `json:"topics"`
}

// SendRequest starts or continues a conversation.
type SendRequest struct {
	Topic    string `json:"topic,omitempty"`
	SubTopic string `json:"subTopic,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Message  string `json:"message"`
}

type voteRequest struct {
	Like chat.Like `json:"like"`
}

// Client owns one abortable endpoint per backend operation.
type Client struct {
	gw *gateway.Client

	topics  *gateway.Endpoint
	config  *gateway.Endpoint
	chat    *gateway.Endpoint
	send    *gateway.Endpoint
	message *gateway.Endpoint
}

// New opens the endpoints of a widget instance. Calls carry chatbotID in the
// tenant header.
func New(gw *gateway.Client, chatbotID string) *Client {
	if chatbotID != "" {
		gw.SetHeader(HeaderChatbotID, chatbotID)
	}
	return &Client{
		gw:      gw,
		topics:  gw.Endpoint(PathTopics),
		config:  gw.Endpoint(PathChatbotConfig),
		chat:    gw.Endpoint(PathChat),
		send:    gw.Endpoint(PathChat),
		message: gw.Endpoint(PathMessage),
	}
}

// Topics lists the topic catalog.
func (c *Client) Topics(ctx context.Context) (topic.Catalog, error) {
	var out topic.Catalog
	if err := c.do(ctx, c.topics, http.MethodGet, gateway.Options{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChatbotConfig fetches the presentation and topics of a chatbot.
func (c *Client) ChatbotConfig(ctx context.Context, chatbotID string) (BotConfig, error) {
	var out BotConfig
	err := c.do(ctx, c.config, http.MethodGet, gateway.Options{
		Params: map[string]string{":chatbot_id": chatbotID},
	}, &out)
	return out, err
}

// FetchSession loads a conversation with its messages.
func (c *Client) FetchSession(ctx context.Context, chatID string) (chat.SessionRecord, error) {
	var out chat.SessionRecord
	err := c.do(ctx, c.chat, http.MethodGet, gateway.Options{
		Params: map[string]string{":chat_id": chatID},
	}, &out)
	return out, err
}

// SendMessage posts a message. An empty chatID creates the conversation.
func (c *Client) SendMessage(ctx context.Context, chatID string, req SendRequest) (chat.SessionRecord, error) {
	var out chat.SessionRecord
	err := c.do(ctx, c.send, http.MethodPost, gateway.Options{
		Params: map[string]string{":chat_id": chatID},
		Body:   req,
	}, &out)
	return out, err
}

// Vote records the visitor's vote on a message.
func (c *Client) Vote(ctx context.Context, chatID, messageID string, like chat.Like) error {
	return c.do(ctx, c.message, http.MethodPost, gateway.Options{
		Params: map[string]string{":chat_id": chatID, ":message_id": messageID},
		Body:   voteRequest{Like: like},
	}, nil)
}

// Close aborts every in-flight call.
func (c *Client) Close() {
	for _, ep := range []*gateway.Endpoint{c.topics, c.config, c.chat, c.send, c.message} {
		ep.Close()
	}
}

func (c *Client) do(ctx context.Context, ep *gateway.Endpoint, method string, opts gateway.Options, out any) error {
	data, err := ep.Call(ctx, method, opts)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &gateway.Error{Kind: gateway.KindNetwork, Err: fmt.Errorf("decode %s: %w", ep.Template(), err)}
	}
	return nil
}
