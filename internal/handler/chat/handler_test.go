package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/widget/internal/middleware"
	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	chatservice "github.com/zhouzirui/z-tavern/widget/internal/service/chat"
)

type envelope struct {
	Success bool               `json:"success"`
	Data    chat.SessionRecord `json:"data"`
	Message string             `json:"message"`
}

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(nil)
	handler := New(chatSvc)

	r := chi.NewRouter()
	r.Use(middleware.RequireChatbot([]string{"demo"}))
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func do(t *testing.T, r http.Handler, method, path, chatbotID string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if chatbotID != "" {
		req.Header.Set(middleware.HeaderChatbotID, chatbotID)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var env envelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, resp.Body.String())
	}
	return resp, env
}

func createBody() map[string]string {
	return map[string]string{"topic": "Billing", "name": "Ann", "email": "ann@x.com", "message": "What are your hours?"}
}

func TestCreateSession(t *testing.T) {
	r, _ := setupRouter()

	resp, env := do(t, r, http.MethodPost, "/chat/", "demo", createBody())
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if !env.Success || env.Data.ID == "" || len(env.Data.Messages) != 2 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Data.User == nil || env.Data.User.Email != "ann@x.com" {
		t.Fatalf("identity not stored: %+v", env.Data.User)
	}
}

func TestCreateSessionMissingIdentity(t *testing.T) {
	r, _ := setupRouter()
	body := createBody()
	delete(body, "email")

	resp, env := do(t, r, http.MethodPost, "/chat/", "demo", body)
	if resp.Code != http.StatusBadRequest || env.Success {
		t.Fatalf("expected 400 failure envelope, got %d %+v", resp.Code, env)
	}
}

func TestUnknownChatbotIsUnauthorized(t *testing.T) {
	r, _ := setupRouter()

	resp, env := do(t, r, http.MethodPost, "/chat/", "other", createBody())
	if resp.Code != http.StatusUnauthorized || env.Success {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	resp, _ = do(t, r, http.MethodGet, "/chat/abc", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", resp.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter()

	resp, env := do(t, r, http.MethodGet, "/chat/missing", "demo", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if env.Success || env.Message == "" {
		t.Fatalf("expected failure envelope with message, got %+v", env)
	}
}

func TestContinueAndVote(t *testing.T) {
	r, _ := setupRouter()
	_, created := do(t, r, http.MethodPost, "/chat/", "demo", createBody())
	chatID := created.Data.ID

	resp, env := do(t, r, http.MethodPost, "/chat/"+chatID, "demo", map[string]string{"message": "And weekends?"})
	if resp.Code != http.StatusOK || len(env.Data.Messages) != 4 {
		t.Fatalf("unexpected continue response %d %+v", resp.Code, env)
	}

	reply := env.Data.Messages[3]
	resp, _ = do(t, r, http.MethodPost, "/chat/"+chatID+"/"+reply.ID, "demo", map[string]any{"like": false})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected vote 200, got %d", resp.Code)
	}

	_, fetched := do(t, r, http.MethodGet, "/chat/"+chatID, "demo", nil)
	if fetched.Data.Messages[3].Like != chat.LikeFalse {
		t.Fatalf("vote not persisted: %+v", fetched.Data.Messages[3])
	}

	resp, _ = do(t, r, http.MethodPost, "/chat/"+chatID+"/"+reply.ID, "demo", map[string]any{"like": nil})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected vote reset 200, got %d", resp.Code)
	}
}
