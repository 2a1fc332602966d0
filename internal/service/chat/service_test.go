package chat_test

import (
	"context"
	"errors"
	"testing"

	model "github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	chat "github.com/zhouzirui/z-tavern/widget/internal/service/chat"
)

type stubReplier struct {
	reply string
	err   error
}

func (s stubReplier) Reply(context.Context, model.SessionRecord) (string, error) {
	return s.reply, s.err
}

func draft() chat.Draft {
	return chat.Draft{
		Topic:   "Billing",
		User:    model.UserDetail{Name: "Ann", Email: "ann@x.com"},
		Message: "What are your hours?",
	}
}

func TestServiceCreateSession(t *testing.T) {
	svc := chat.NewService(stubReplier{reply: "9 to 5"})
	ctx := context.Background()

	record, err := svc.CreateSession(ctx, "demo", draft())
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if record.ID == "" || record.Topic != "Billing" {
		t.Fatalf("unexpected record %+v", record)
	}
	if len(record.Messages) != 2 {
		t.Fatalf("expected visitor message and reply, got %d", len(record.Messages))
	}
	if record.Messages[0].Role != model.RoleUser || record.Messages[1].Content != "9 to 5" {
		t.Fatalf("unexpected transcript %+v", record.Messages)
	}

	got, err := svc.GetSession(ctx, "demo", record.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.ID != record.ID || len(got.Messages) != 2 {
		t.Fatalf("unexpected stored record %+v", got)
	}
}

func TestServiceCreateSessionValidation(t *testing.T) {
	svc := chat.NewService(nil)
	ctx := context.Background()

	if _, err := svc.CreateSession(ctx, "", draft()); !errors.Is(err, chat.ErrChatbotRequired) {
		t.Fatalf("expected ErrChatbotRequired, got %v", err)
	}
	d := draft()
	d.Message = "  "
	if _, err := svc.CreateSession(ctx, "demo", d); !errors.Is(err, chat.ErrMessageRequired) {
		t.Fatalf("expected ErrMessageRequired, got %v", err)
	}
	d = draft()
	d.User.Email = ""
	if _, err := svc.CreateSession(ctx, "demo", d); !errors.Is(err, chat.ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
}

func TestServiceFallbackReply(t *testing.T) {
	svc := chat.NewService(stubReplier{err: errors.New("model down")})
	record, err := svc.CreateSession(context.Background(), "demo", draft())
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if record.Messages[1].Content == "" {
		t.Fatal("expected canned reply")
	}
}

func TestServiceContinue(t *testing.T) {
	svc := chat.NewService(nil)
	ctx := context.Background()
	record, _ := svc.CreateSession(ctx, "demo", draft())

	record, err := svc.Continue(ctx, "demo", record.ID, "And on weekends?")
	if err != nil {
		t.Fatalf("Continue err: %v", err)
	}
	if len(record.Messages) != 4 || record.Messages[2].Content != "And on weekends?" {
		t.Fatalf("unexpected transcript %+v", record.Messages)
	}

	if _, err := svc.Continue(ctx, "other", record.ID, "hi"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected tenant isolation, got %v", err)
	}
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := chat.NewService(nil)
	if _, err := svc.GetSession(context.Background(), "demo", "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceVote(t *testing.T) {
	svc := chat.NewService(nil)
	ctx := context.Background()
	record, _ := svc.CreateSession(ctx, "demo", draft())
	reply := record.Messages[1]

	msg, err := svc.Vote(ctx, "demo", record.ID, reply.ID, model.LikeFalse)
	if err != nil {
		t.Fatalf("Vote err: %v", err)
	}
	if msg.Like != model.LikeFalse {
		t.Fatalf("unexpected like %s", msg.Like)
	}
	got, _ := svc.GetSession(ctx, "demo", record.ID)
	if got.Messages[1].Like != model.LikeFalse {
		t.Fatal("vote not stored")
	}

	if _, err := svc.Vote(ctx, "demo", record.ID, "missing", model.LikeTrue); !errors.Is(err, chat.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}
