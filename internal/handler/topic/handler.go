package topic

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/widget/internal/middleware"
	"github.com/zhouzirui/z-tavern/widget/internal/model/chatbot"
	"github.com/zhouzirui/z-tavern/widget/internal/model/topic"
	"github.com/zhouzirui/z-tavern/widget/pkg/utils"
)

// Handler 话题与机器人配置的HTTP处理器
type Handler struct {
	topics topic.Store
	config chatbot.Config
}

// New 创建话题处理器
func New(topics topic.Store, config chatbot.Config) *Handler {
	return &Handler{topics: topics, config: config}
}

// RegisterRoutes 注册话题相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/topics", h.handleListTopics)
	r.Get("/get-chatbot/{chatbotID}", h.handleGetChatbot)
}

// handleListTopics 列出当前机器人的话题目录
func (h *Handler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	catalog := h.topics.Catalog(middleware.ChatbotID(r.Context()))
	if catalog == nil {
		catalog = topic.Catalog{}
	}
	utils.RespondData(w, http.StatusOK, catalog)
}

// handleGetChatbot 返回机器人外观配置及内嵌话题
func (h *Handler) handleGetChatbot(w http.ResponseWriter, r *http.Request) {
	chatbotID := chi.URLParam(r, "chatbotID")
	if chatbotID != middleware.ChatbotID(r.Context()) {
		utils.RespondFail(w, http.StatusUnauthorized, "This chat is not available")
		return
	}

	catalog := h.topics.Catalog(chatbotID)
	if catalog == nil {
		catalog = topic.Catalog{}
	}
	utils.RespondData(w, http.StatusOK, struct {
		chatbot.Config
		Topics topic.Catalog `json:"topics"`
	}{Config: h.config, Topics: catalog})
}
