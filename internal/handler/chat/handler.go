package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/widget/internal/middleware"
	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	chatService "github.com/zhouzirui/z-tavern/widget/internal/service/chat"
	"github.com/zhouzirui/z-tavern/widget/pkg/utils"
)

// Handler 会话接口的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建会话处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/", h.handleCreateSession)
	r.Get("/chat/{chatID}", h.handleGetSession)
	r.Post("/chat/{chatID}", h.handleContinueSession)
	r.Post("/chat/{chatID}/{messageID}", h.handleVote)
}

type sendPayload struct {
	Topic    string `json:"topic"`
	SubTopic string `json:"subTopic"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Message  string `json:"message"`
}

// handleCreateSession 创建会话并回复第一条消息
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload sendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondFail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.chatSvc.CreateSession(r.Context(), middleware.ChatbotID(r.Context()), chatService.Draft{
		Topic:    payload.Topic,
		SubTopic: payload.SubTopic,
		User:     chat.UserDetail{Name: payload.Name, Email: payload.Email},
		Message:  payload.Message,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondData(w, http.StatusCreated, record)
}

// handleGetSession 获取会话及其消息
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	record, err := h.chatSvc.GetSession(r.Context(), middleware.ChatbotID(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondData(w, http.StatusOK, record)
}

// handleContinueSession 在已有会话中追加消息
func (h *Handler) handleContinueSession(w http.ResponseWriter, r *http.Request) {
	var payload sendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondFail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.chatSvc.Continue(r.Context(), middleware.ChatbotID(r.Context()), chi.URLParam(r, "chatID"), payload.Message)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondData(w, http.StatusOK, record)
}

// handleVote 记录访客对消息的评价
func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Like chat.Like `json:"like"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondFail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.chatSvc.Vote(r.Context(), middleware.ChatbotID(r.Context()), chi.URLParam(r, "chatID"), chi.URLParam(r, "messageID"), payload.Like)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondData(w, http.StatusOK, msg)
}

// respondServiceError 把服务层错误映射为信封响应
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondFail(w, http.StatusNotFound, "Chat not found")
	case errors.Is(err, chatService.ErrMessageNotFound):
		utils.RespondFail(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, chatService.ErrMessageRequired),
		errors.Is(err, chatService.ErrIdentityRequired),
		errors.Is(err, chatService.ErrChatbotRequired):
		utils.RespondFail(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondFail(w, http.StatusInternalServerError, "Something went wrong")
	}
}
