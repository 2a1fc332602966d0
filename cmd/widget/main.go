package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/zhouzirui/z-tavern/widget/internal/config"
	"github.com/zhouzirui/z-tavern/widget/internal/handler"
	"github.com/zhouzirui/z-tavern/widget/internal/handler/widget"
	"github.com/zhouzirui/z-tavern/widget/internal/route"
	"github.com/zhouzirui/z-tavern/widget/internal/service/broadcast"
	"github.com/zhouzirui/z-tavern/widget/internal/service/flow"
	"github.com/zhouzirui/z-tavern/widget/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.LoadWidget()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	rules, err := route.Compile(route.Rules{
		Paths:      cfg.Paths,
		Blacklist:  cfg.Blacklist,
		Standalone: cfg.Standalone,
	})
	if err != nil {
		log.Fatalf("invalid route rules: %v", err)
	}

	visitors, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open visitor store: %v", err)
	}
	defer visitors.Close()
	log.Printf("visitor state stored in %s", cfg.DBPath)

	bus, closeBus := openBus(ctx, cfg)
	defer closeBus()

	ws := widget.New(widget.Config{
		BackendURL: cfg.BackendURL,
		ChatbotID:  cfg.ChatbotID,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		AuthGrace:  cfg.AuthGrace,
		ToastTTL:   cfg.ToastTTL,
		Policy:     flow.Policy{SubTopicBeforeIdentity: cfg.SubTopicFirst},
		Rules:      rules,
	}, visitors, bus)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewWidgetRouter(ws),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("widget host for chatbot %s listening on %s (backend %s)", cfg.ChatbotID, cfg.Server.Addr, cfg.BackendURL)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// openBus connects to Redis when configured and falls back to the in-process hub.
func openBus(ctx context.Context, cfg *config.WidgetConfig) (broadcast.Bus, func()) {
	if cfg.RedisAddr == "" {
		log.Println("WIDGET_REDIS_ADDR 未配置，使用进程内广播")
		return broadcast.NewHub(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("warning: redis unavailable at %s, using in-process broadcast: %v", cfg.RedisAddr, err)
		_ = client.Close()
		return broadcast.NewHub(), func() {}
	}

	log.Printf("cross-context sync via redis at %s", cfg.RedisAddr)
	return broadcast.NewRedisBus(client, "widget:"), func() { _ = client.Close() }
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
