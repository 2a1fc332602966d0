package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"
	"github.com/zhouzirui/z-tavern/widget/internal/model/chat"
	"github.com/zhouzirui/z-tavern/widget/internal/service/chatapi"
	"github.com/zhouzirui/z-tavern/widget/internal/service/flow"
	"github.com/zhouzirui/z-tavern/widget/internal/service/gateway"
	"github.com/zhouzirui/z-tavern/widget/internal/service/widget"
	"github.com/zhouzirui/z-tavern/widget/internal/store"
)

const help = `commands:
  /topic <name>          pick a top-level topic
  /sub <name>            pick an option at the next level
  /details <name> <email>
  /like <n>, /dislike <n> vote on message n of the list
  /clear                 start over
  /view                  print the conversation
  /quit
anything else is sent as a message`

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	backendURL := flag.String("backend", "http://localhost:8080", "聊天后端地址")
	chatbotID := flag.String("chatbot", "demo", "x-chatbot-id")
	dbPath := flag.String("db", "", "SQLite 文件，保存会话以便下次恢复 (默认仅内存)")
	visitor := flag.String("visitor", "cli", "访客标识，配合 -db 使用")
	subTopicFirst := flag.Bool("subtopic-first", false, "先选完子话题再填写身份")
	timeout := flag.Duration("timeout", 30*time.Second, "请求超时时间")
	flag.Parse()

	var storage store.Storage = store.NewMemoryStorage()
	if *dbPath != "" {
		db, err := store.NewSQLite(*dbPath)
		if err != nil {
			log.Fatalf("打开 SQLite 失败: %v", err)
		}
		defer db.Close()
		storage = db.ForVisitor(*visitor)
	}

	gw := gateway.NewClient(strings.TrimRight(*backendURL, "/"), &http.Client{Timeout: *timeout})
	w := widget.New(widget.Deps{
		API:     chatapi.New(gw, *chatbotID),
		Storage: storage,
	}, widget.Options{
		ChatbotID: *chatbotID,
		Policy:    flow.Policy{SubTopicBeforeIdentity: *subTopicFirst},
	})
	defer w.Close()

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		printView(w.View())
		log.Fatalf("挂件启动失败: %v", err)
	}
	printView(w.View())

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return
			}
			log.Printf("[ERROR] 读取输入失败: %v", err)
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == "/quit" {
			return
		}
		if err := run(ctx, w, input); err != nil {
			fmt.Printf("! %v\n", err)
		}
		view := w.View()
		printView(view)
		if !view.Mounted {
			fmt.Println("widget removed")
			return
		}
	}
}

func run(ctx context.Context, w *widget.Widget, input string) error {
	if !strings.HasPrefix(input, "/") {
		return w.Send(ctx, input)
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/topic":
		return w.PickTopic(arg)
	case "/sub":
		return w.PickSubTopic(len(w.Session().Selection()), arg)
	case "/details":
		idx := strings.LastIndex(arg, " ")
		if idx < 0 {
			return errors.New("usage: /details <name> <email>")
		}
		return w.SubmitDetails(ctx, chat.UserDetail{Name: arg[:idx], Email: arg[idx+1:]})
	case "/like", "/dislike":
		msg, err := pickMessage(w, arg)
		if err != nil {
			return err
		}
		action := chat.VoteLike
		if cmd == "/dislike" {
			action = chat.VoteDislike
		}
		return w.Vote(ctx, msg.ID, action)
	case "/clear":
		return w.Clear(ctx)
	case "/view":
		return nil
	default:
		fmt.Println(help)
		return nil
	}
}

// pickMessage resolves the 1-based position shown by printView.
func pickMessage(w *widget.Widget, arg string) (chat.Message, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("message number expected, got %q", arg)
	}
	msgs := chat.Reversed(w.Session().Messages())
	if n < 1 || n > len(msgs) {
		return chat.Message{}, fmt.Errorf("no message %d", n)
	}
	return msgs[n-1], nil
}

// printView prints the conversation oldest first, the way it reads.
func printView(view widget.View) {
	fmt.Printf("---- %s", view.State)
	if view.Convo.ID != "" {
		fmt.Printf(" chat=%s topic=%q", view.Convo.ID, view.Convo.Topic)
	}
	fmt.Println()

	var prompts, persisted []chat.Entry
	for _, e := range view.Entries {
		if e.Kind == chat.KindPersisted {
			persisted = append(persisted, e)
		} else {
			prompts = append(prompts, e)
		}
	}
	for i := len(prompts) - 1; i >= 0; i-- {
		printEntry(prompts[i], 0)
	}
	for i := len(persisted) - 1; i >= 0; i-- {
		printEntry(persisted[i], len(persisted)-i)
	}

	for _, t := range view.Toasts {
		fmt.Printf("[%s] %s\n", t.Type, t.Message)
	}
}

func printEntry(e chat.Entry, n int) {
	switch e.Kind {
	case chat.KindPersisted:
		fmt.Printf("%2d %-9s %s", n, e.Message.Role, e.Message.Content)
		if e.Message.Like != chat.LikeUnset {
			fmt.Printf("  (%s)", e.Message.Like)
		}
		fmt.Println()
	case chat.KindText:
		fmt.Printf("   %-9s %s\n", e.Text.Role, e.Text.Content)
	case chat.KindSuggestion:
		fmt.Printf("   options   %s\n", strings.Join(e.Suggestion.Options, " | "))
	case chat.KindForm:
		fmt.Printf("   form      %s (/details <name> <email>)\n", e.Form.Content)
	}
}
