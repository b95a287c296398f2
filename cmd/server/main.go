package main

// @title           pulsehub engine API
// @version         1.0
// @description     Pusher-compatible real-time channel engine: WebSocket subscriptions plus an HTTP broadcast trigger.
// @BasePath        /
// @schemes         http https

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"pulsehub/internal/admin"
	"pulsehub/internal/bus"
	"pulsehub/internal/config"
	"pulsehub/internal/httpapi"
	"pulsehub/internal/monitoring"
	"pulsehub/internal/presence"
	"pulsehub/internal/realtime"
)

func main() {
	cfg := config.Load()
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Info("starting pulsehub engine", "addr", cfg.ServerAddr)

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	redisBus := bus.NewRedisBus(rdb)
	presenceStore := presence.New(rdb)
	registry := realtime.NewRegistry()

	var monitor monitoring.Emitter = monitoring.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := monitoring.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			slog.Warn("kafka producer unavailable, monitoring disabled", "error", err)
		} else {
			defer producer.Close()
			monitor = producer
		}
	}

	var guard realtime.Guard
	var domainHealth *httpapi.DomainHealthHandler
	if cfg.DatabaseURL != "" {
		db, err := admin.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to admin store: %v", err)
		}
		repo := admin.NewRepository(db)
		guard = admin.NewGuard(repo, cfg.DevMode)
		domainHealth = httpapi.NewDomainHealthHandler(repo)
	} else {
		if !cfg.DevMode {
			log.Fatal("DATABASE_URL is required unless DEV_MODE is set")
		}
		slog.Warn("no DATABASE_URL configured, running with an open guard (dev mode only)")
		guard = openGuard{}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	dispatcher := realtime.NewDispatcher(redisBus, registry)
	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("dispatcher stopped unexpectedly", "error", err)
		}
	}()

	wsServer := realtime.NewServer(guard, realtime.Deps{
		Registry:        registry,
		Presence:        presenceStore,
		Bus:             redisBus,
		Monitor:         monitor,
		AppSecret:       cfg.AppSecret,
		ActivityTimeout: cfg.ActivityTimeout,
		QueueSize:       cfg.QueueSize,
	})

	if cfg.DevMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	broadcastHandler := httpapi.NewBroadcastHandler(cfg.AppKey, redisBus, registry)
	httpapi.SetupRoutes(router, broadcastHandler, domainHealth, wsServer.ServeWS)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("stopped")
}

// openGuard accepts every connection unconditionally. It exists only so a
// developer can run the engine against Redis alone, with no admin store
// configured; cfg.DevMode must be set for main to select it.
type openGuard struct{}

func (openGuard) Check(ctx context.Context, r *http.Request) (admin.Decision, error) {
	return admin.Decision{DomainName: "*"}, nil
}
