package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-tavern/widget/internal/config"
	"github.com/zhouzirui/z-tavern/widget/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/widget/internal/handler/topic"
	"github.com/zhouzirui/z-tavern/widget/internal/handler/widget"
	middlewarePkg "github.com/zhouzirui/z-tavern/widget/internal/middleware"
	"github.com/zhouzirui/z-tavern/widget/internal/model/chatbot"
	topicModel "github.com/zhouzirui/z-tavern/widget/internal/model/topic"
	chatService "github.com/zhouzirui/z-tavern/widget/internal/service/chat"
	"github.com/zhouzirui/z-tavern/widget/pkg/utils"
)

// NewRouter wires the development backend REST surface.
func NewRouter(backend config.BackendConfig, topics topicModel.Store, chatSvc *chatService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", handleHealth)

	topicHandler := topic.New(topics, chatbot.Config{
		DisplayName:  backend.DisplayName,
		Avatar:       backend.Avatar,
		PrimaryColor: backend.PrimaryColor,
	})
	chatHandler := chat.New(chatSvc)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.RequireChatbot(backend.Chatbots))

		topicHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
	})

	return r
}

// NewWidgetRouter wires the widget host: renderer websocket, health and
// metrics.
func NewWidgetRouter(ws *widget.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		ws.RegisterRoutes(api)
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondData(w, http.StatusOK, map[string]string{"status": "ok"})
}
