package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/akhan-msft/mediabotv2/internal/auth"
	"github.com/akhan-msft/mediabotv2/internal/config"
	"github.com/akhan-msft/mediabotv2/internal/eventfeed"
	"github.com/akhan-msft/mediabotv2/internal/events"
	"github.com/akhan-msft/mediabotv2/internal/graph"
	"github.com/akhan-msft/mediabotv2/internal/httpapi"
	"github.com/akhan-msft/mediabotv2/internal/session"
	"github.com/akhan-msft/mediabotv2/internal/signaling"
	"github.com/akhan-msft/mediabotv2/pkg/logger"
	"github.com/akhan-msft/mediabotv2/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is a local convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.Log.File)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Event pipeline: the log sink and websocket feed are always on, the
	// postgres archive and redis publisher attach only when configured.
	feed := eventfeed.NewHub(log)
	sinks := events.MultiSink{events.NewLogSink(log), feed}

	if cfg.Events.DatabaseURL != "" {
		db, err := utils.OpenPostgres(rootCtx, cfg.Events.DatabaseURL, utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		sinks = append(sinks, events.NewArchiveSink(db, log))
	}

	if cfg.Events.RedisAddr != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.Events.RedisAddr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		sinks = append(sinks, events.NewRedisSink(rdb, cfg.Events.RedisChannel, log))
	}

	dispatcher := events.NewDispatcher(sinks)
	registry := session.NewRegistry(dispatcher)

	var client graph.Client = graph.Disabled{}
	if cfg.PlatformConfigured() {
		client = graph.NewHTTPClient(cfg)
	}
	log.Info("platform client selected", "client", client.Name(), "ready", client.Ready())

	svc := signaling.NewService(registry, client, dispatcher, cfg.NotificationCallbackURI(), cfg.Graph.JoinTimeout, log)
	ingestor := signaling.NewIngestor(registry, log)

	var authManager *auth.Manager
	if cfg.AuthConfigured() {
		authManager, err = auth.NewManager(cfg.Auth)
		if err != nil {
			log.Error("auth init failed", "err", err)
			os.Exit(1)
		}
	} else {
		log.Warn("operator auth disabled: JWT_SECRET not set")
	}

	h := httpapi.Handlers{
		Signaling:   svc,
		Ingestor:    ingestor,
		Registry:    registry,
		Feed:        feed,
		Auth:        authManager,
		OperatorKey: cfg.Auth.OperatorKey,
		StartedAt:   time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(corsMiddleware())

	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
