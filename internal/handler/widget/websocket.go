package widget

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	"github.com/zhouzirui/z-tavern/widget/internal/route"
	"github.com/zhouzirui/z-tavern/widget/internal/service/broadcast"
	"github.com/zhouzirui/z-tavern/widget/internal/service/chatapi"
	"github.com/zhouzirui/z-tavern/widget/internal/service/flow"
	"github.com/zhouzirui/z-tavern/widget/internal/service/gateway"
	"github.com/zhouzirui/z-tavern/widget/internal/service/toast"
	widgetService "github.com/zhouzirui/z-tavern/widget/internal/service/widget"
	"github.com/zhouzirui/z-tavern/widget/internal/store"
	"github.com/zhouzirui/z-tavern/widget/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
	maxVisitorID = 128
)

var metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "widget",
	Name:      "websocket_connections",
	Help:      "Renderer connections currently open.",
})

// Config 描述每个连接创建挂件实例所需的参数。
type Config struct {
	BackendURL string
	ChatbotID  string
	HTTPClient *http.Client
	AuthGrace  time.Duration
	ToastTTL   time.Duration
	Policy     flow.Policy
	Rules      *route.Matcher
}

// Handler 挂件渲染端的WebSocket处理器，每个连接对应一个浏览上下文。
type Handler struct {
	cfg      Config
	visitors store.Visitors
	bus      broadcast.Bus
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(cfg Config, visitors store.Visitors, bus broadcast.Bus) *Handler {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Handler{
		cfg:      cfg,
		visitors: visitors,
		bus:      bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/widget/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// TopicMessage 选择话题
type TopicMessage struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// DetailsMessage 提交访客身份
type DetailsMessage struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TextMessage 访客输入的消息
type TextMessage struct {
	Text string `json:"text"`
}

// VoteMessage 对消息点赞或点踩
type VoteMessage struct {
	MessageID string          `json:"messageId"`
	Action    chat.VoteAction `json:"action"`
}

// NavigateMessage 宿主页面发生跳转
type NavigateMessage struct {
	Path string `json:"path"`
}

// DismissMessage 关闭提示
type DismissMessage struct {
	ID string `json:"id"`
}

// connection 串行化对同一个连接的写操作。
type connection struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *connection) send(msgType string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := outgoingMessage{Type: msgType, Data: data, Timestamp: time.Now().Unix()}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", msgType, err)
	}
}

func (c *connection) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

func (c *connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// close 以正常关闭码结束连接，可重复调用。
func (c *connection) close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(writeTimeout))
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}

// newWidget 为一个浏览上下文装配挂件实例。
func (h *Handler) newWidget(visitorID, path string) *widgetService.Widget {
	gw := gateway.NewClient(h.cfg.BackendURL, h.cfg.HTTPClient)
	return widgetService.New(widgetService.Deps{
		API:     chatapi.New(gw, h.cfg.ChatbotID),
		Storage: h.visitors.ForVisitor(visitorID),
		Bus:     h.bus,
		Toasts:  toast.NewQueue(h.cfg.ToastTTL),
	}, widgetService.Options{
		ChatbotID: h.cfg.ChatbotID,
		Scope:     visitorID,
		AuthGrace: h.cfg.AuthGrace,
		Policy:    h.cfg.Policy,
		Rules:     h.cfg.Rules,
		Path:      path,
	})
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	visitorID := strings.TrimSpace(r.URL.Query().Get("visitor"))
	if visitorID == "" || len(visitorID) > maxVisitorID {
		utils.RespondError(w, http.StatusBadRequest, "visitor is required")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	c := &connection{conn: conn}
	defer c.close("bye")

	metricConnections.Inc()
	defer metricConnections.Dec()
	log.Printf("[websocket] new connection for visitor: %s", visitorID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wdg := h.newWidget(visitorID, path)
	defer wdg.Close()
	wdg.OnChange(func(view widgetService.View) {
		c.send("view", view)
	})
	wdg.OnTeardown(func() {
		log.Printf("[websocket] widget removed for visitor: %s", visitorID)
		cancel()
		c.close("widget removed")
	})

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, c)

	if err := wdg.Start(ctx); err != nil && !wdg.Inert() {
		if gateway.KindOf(err) == "" {
			c.sendError(err.Error())
		}
		log.Printf("[websocket] widget start failed for visitor %s: %v", visitorID, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[websocket] read error: %v", err)
				}
				return
			}

			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			h.handleMessage(ctx, c, wdg, &msg)
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, wdg *widgetService.Widget, msg *inboundMessage) {
	var err error
	switch msg.Type {
	case "topic":
		var payload TopicMessage
		if err = decode(msg.Data, &payload); err == nil {
			err = wdg.PickTopic(payload.Name)
		}
	case "subTopic":
		var payload TopicMessage
		if err = decode(msg.Data, &payload); err == nil {
			if payload.Level < 1 {
				payload.Level = 1
			}
			err = wdg.PickSubTopic(payload.Level, payload.Name)
		}
	case "details":
		var payload DetailsMessage
		if err = decode(msg.Data, &payload); err == nil {
			err = wdg.SubmitDetails(ctx, chat.UserDetail{Name: payload.Name, Email: payload.Email})
		}
	case "message":
		var payload TextMessage
		if err = decode(msg.Data, &payload); err == nil {
			err = wdg.Send(ctx, payload.Text)
		}
	case "vote":
		var payload VoteMessage
		if err = decode(msg.Data, &payload); err == nil {
			err = wdg.Vote(ctx, payload.MessageID, payload.Action)
		}
	case "clear":
		err = wdg.Clear(ctx)
	case "navigate":
		var payload NavigateMessage
		if err = decode(msg.Data, &payload); err == nil {
			err = wdg.Navigate(payload.Path)
		}
	case "dismissToast":
		var payload DismissMessage
		if err = decode(msg.Data, &payload); err == nil {
			wdg.DismissToast(payload.ID)
		}
	default:
		c.sendError("unknown message type: " + msg.Type)
		return
	}

	switch {
	case err == nil, errors.Is(err, widgetService.ErrInert):
	case gateway.KindOf(err) != "":
		// Already surfaced as a toast.
	default:
		c.sendError(err.Error())
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New("invalid data")
	}
	return nil
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
