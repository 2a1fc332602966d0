package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
)

const historyLimit = 10

// Service drafts assistant replies for support conversations.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the reply chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}
	return &Service{chain: runnable}, nil
}

// Reply answers the latest visitor message of record. The message being
// answered is the last one in the chronological transcript.
func (s *Service) Reply(ctx context.Context, record chat.SessionRecord) (string, error) {
	if len(record.Messages) == 0 {
		return "", fmt.Errorf("conversation %s has no messages", record.ID)
	}

	last := record.Messages[len(record.Messages)-1]
	input := map[string]any{
		"system":  buildSystemPrompt(record),
		"history": buildHistoryMessages(record.Messages[:len(record.Messages)-1]),
		"query":   last.Content,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}

	log.Printf("[ai] generated reply for chat=%s, topic=%s, length=%d", record.ID, record.Topic, len(response.Content))
	return strings.TrimSpace(response.Content), nil
}

func buildSystemPrompt(record chat.SessionRecord) string {
	var builder strings.Builder
	builder.WriteString("You are a support assistant answering visitors through a website chat widget. Keep replies short, friendly and concrete.")
	if record.Topic != "" {
		builder.WriteString("\nThe visitor picked the topic: ")
		builder.WriteString(record.Topic)
		if record.SubTopic != "" {
			builder.WriteString(" / ")
			builder.WriteString(record.SubTopic)
		}
		builder.WriteString(".")
	}
	if record.User != nil && record.User.Name != "" {
		builder.WriteString("\nThe visitor's name is ")
		builder.WriteString(record.User.Name)
		builder.WriteString(".")
	}
	return builder.String()
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
