// Chat coordination service: WebSocket fan-out, room membership, presence
// and direct-room resolution over Postgres, with a Redis-backed recent
// window.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chathub/internal/auth"
	"github.com/chathub/internal/chat"
	"github.com/chathub/internal/config"
	"github.com/chathub/internal/handler"
	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/middleware"
	"github.com/chathub/internal/push"
	"github.com/chathub/internal/registry"
	"github.com/chathub/internal/repository"
	"github.com/chathub/internal/startup"
	"github.com/chathub/internal/storage"
	"github.com/chathub/internal/storage/memory"
	"github.com/chathub/internal/ws"
	"github.com/chathub/migrations"
)

func main() {
	logger.SetPrefix("chat")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting chat service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var store storage.Store
	if cfg.Redis.URL == "" {
		logger.Info("REDIS_URL not set, using in-process cache")
		store = memory.New(cfg.Cache.RecentMessages, time.Duration(cfg.Cache.TTLMinutes)*time.Minute)
	} else {
		store = startup.ConnectRedisWithRetry(cfg.Redis.URL, cfg.Cache.RecentMessages,
			time.Duration(cfg.Cache.TTLMinutes)*time.Minute, 60*time.Second)
		logger.Info("redis connected")
	}
	defer store.Close()

	authSecret := cfg.AuthSecret
	if authSecret == "" {
		// config.Load refuses an empty secret in production.
		authSecret = "chathub-dev-secret"
		logger.Info("AUTH_SECRET not set, using development secret")
	}
	verifier, err := auth.NewVerifier(authSecret)
	if err != nil {
		logger.Errorf("auth verifier: %v", err)
		os.Exit(1)
	}

	if cfg.Push.VAPIDPublicKey == "" || cfg.Push.VAPIDPrivateKey == "" {
		if keys, err := push.EnsureVAPIDKeys(""); err == nil {
			cfg.Push.VAPIDPublicKey = keys.PublicKey
			cfg.Push.VAPIDPrivateKey = keys.PrivateKey
		} else {
			logger.Infof("VAPID keys unavailable (%v), push notifications disabled", err)
		}
	}

	userRepo := repository.NewUserRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	directRepo := repository.NewDirectRoomRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	var notifier chat.Notifier
	if n := push.NewNotifier(pushRepo, "chathub", cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey); n != nil {
		notifier = n
	}

	// The registry needs the transition callback before the presence service
	// exists; the indirection breaks the construction cycle.
	var presenceSvc *chat.Presence
	reg := registry.New(cfg.MaxWSConnections, func(identity int64, online bool) {
		if presenceSvc != nil {
			presenceSvc.HandleTransition(identity, online)
		}
	})
	presenceSvc = chat.NewPresence(reg, roomRepo)

	roomsSvc := chat.NewRooms(reg, roomRepo, userRepo)
	messagesSvc := chat.NewMessages(reg, msgRepo, roomRepo, reactRepo, userRepo, store, notifier)
	directSvc := chat.NewDirectResolver(directRepo)

	wsRouter := ws.NewRouter(reg, roomsSvc, messagesSvc, roomRepo)
	wsOpts := ws.Options{
		WriteWait:      time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongWait:       time.Duration(cfg.WSPongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
		SendBufSize:    cfg.WSSendBufferSize,
	}

	roomH := handler.NewRoomHandler(roomsSvc, presenceSvc, directSvc)
	msgH := handler.NewMessageHandler(messagesSvc)
	pushH := handler.NewPushHandler(pushRepo, cfg.Push.VAPIDPublicKey)
	wsH := handler.NewWSHandler(reg, wsRouter, wsOpts, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket traffic, the wrapped ResponseWriter would not
	// implement http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/push/vapid-public", pushH.VAPIDPublic)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(verifier))
		r.Use(middleware.RateLimitAPI(store))

		r.Get("/api/rooms", roomH.List)
		r.Post("/api/rooms", roomH.Create)
		r.Post("/api/rooms/direct", roomH.Direct)
		r.Get("/api/rooms/{roomID}", roomH.Get)
		r.Patch("/api/rooms/{roomID}", roomH.Update)
		r.Delete("/api/rooms/{roomID}", roomH.Deactivate)
		r.Post("/api/rooms/{roomID}/join", roomH.Join)
		r.Post("/api/rooms/{roomID}/leave", roomH.Leave)
		r.Get("/api/rooms/{roomID}/members", roomH.Members)
		r.Get("/api/rooms/{roomID}/online", roomH.Online)
		r.Post("/api/rooms/{roomID}/invite", roomH.Invite)

		r.Get("/api/rooms/{roomID}/messages", msgH.List)
		r.Post("/api/rooms/{roomID}/messages", msgH.Send)
		r.Patch("/api/messages/{messageID}", msgH.Edit)
		r.Delete("/api/messages/{messageID}", msgH.Delete)
		r.Get("/api/messages/{messageID}/reactions", msgH.Reactions)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)

		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	reg.Shutdown()
	logger.Info("connection registry drained")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chathub"
		password = "chathub_secret"
		database = "chathub"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
