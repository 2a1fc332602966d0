package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/z-tavern/widget/pkg/utils"
)

// HeaderChatbotID carries the tenant of a widget request.
const HeaderChatbotID = "x-chatbot-id"

type chatbotKey struct{}

// RequireChatbot rejects requests whose tenant header is not in allowed with
// 401, the status widgets treat as a revoked chatbot.
func RequireChatbot(allowed []string) func(http.Handler) http.Handler {
	known := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		known[id] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderChatbotID))
			if _, ok := known[id]; !ok {
				utils.RespondFail(w, http.StatusUnauthorized, "This chat is not available")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), chatbotKey{}, id)))
		})
	}
}

// ChatbotID returns the tenant accepted by RequireChatbot.
func ChatbotID(ctx context.Context) string {
	id, _ := ctx.Value(chatbotKey{}).(string)
	return id
}
