package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/disaster-live-feed/internal/api"
	"github.com/mr1hm/disaster-live-feed/internal/broadcast"
	"github.com/mr1hm/disaster-live-feed/internal/changefeed"
	"github.com/mr1hm/disaster-live-feed/internal/config"
	internalgrpc "github.com/mr1hm/disaster-live-feed/internal/grpc"
	"github.com/mr1hm/disaster-live-feed/internal/ingestion"
	"github.com/mr1hm/disaster-live-feed/internal/logging"
	"github.com/mr1hm/disaster-live-feed/internal/metrics"
	"github.com/mr1hm/disaster-live-feed/internal/notify"
	"github.com/mr1hm/disaster-live-feed/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpc_port", cfg.GRPC.Port,
		"store", cfg.Store.Driver,
		"feed", cfg.Feed.Source,
		"sink", cfg.Notify.Sink,
	)

	m := metrics.New()

	store, err := repository.Open(cfg.Store)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	sink, err := newSink(cfg.Notify)
	if err != nil {
		logging.Fatalf("Failed to initialize notification sink: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := broadcast.NewRegistry(nil)
	registry.OnChange(func(n int) { m.ActiveSessions.Set(float64(n)) })
	hub := broadcast.NewHub(registry, cfg.Stream.DeliveryTimeout, m)

	engine := notify.NewEngine(sink, notify.Options{
		Recipient:   cfg.Notify.Recipient,
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		SendTimeout: cfg.Notify.SendTimeout,
	}, m)
	engine.Start(ctx)

	var source changefeed.Source = store
	if cfg.Feed.Source == "kafka" {
		source = changefeed.NewKafkaSource(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic, cfg.Feed.KafkaGroupID)
	}
	watcher := changefeed.NewWatcher(source, changefeed.Options{
		MinBackoff: cfg.Feed.MinBackoff,
		MaxBackoff: cfg.Feed.MaxBackoff,
	}, m)

	mgr := ingestion.NewManager(watcher.Records(), engine, hub, cfg.Feed.DedupeWindow, m)
	mgr.Start(ctx)

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		if err := watcher.Run(ctx); err != nil {
			slog.Error("change feed watcher exited", "error", err)
		}
	}()

	grpcServer := internalgrpc.NewServer(registry, cfg.Stream.SessionBuffer)
	go func() {
		grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	handler := api.NewHandler(store, registry, hub, api.NewStaticTokenAuth(cfg.Server.AdminToken), api.Options{
		SessionBuffer: cfg.Stream.SessionBuffer,
		DebugRoutes:   cfg.Server.DebugRoutes,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	<-watcherDone
	mgr.Stop()
	registry.Close() // ends open WebSocket, SSE and gRPC sessions
	grpcServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	engine.Stop() // in-flight notifications finish first

	slog.Info("shutdown complete")
}

func newSink(cfg config.NotifyConfig) (notify.Sink, error) {
	switch cfg.Sink {
	case "webhook":
		return notify.NewWebhookSink(cfg.WebhookURL), nil
	case "sns":
		sink, err := notify.NewSNSSink(cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return notify.LogSink{}, nil
	}
}
