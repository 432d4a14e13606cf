// Package main runs the gateway alone: WebSocket fan-out fed by the
// shared bus, with the orchestration core running in separate worker
// processes. Requires a cross-process bus (Redis or NATS).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codi-dev/codi/internal/broadcast"
	"github.com/codi-dev/codi/internal/common/config"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/events"
	gatewayws "github.com/codi-dev/codi/internal/gateway/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Redis.Addr == "" && cfg.NATS.URL == "" {
		fmt.Fprintln(os.Stderr, "the standalone gateway needs a cross-process bus: set CODI_REDIS_ADDR or CODI_NATS_URL")
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting codi gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, closeBus, err := events.Provide(ctx, cfg, log)
	if err != nil {
		log.Fatal("event bus init failed", zap.Error(err))
	}
	defer closeBus()

	connRegistry := broadcast.NewRegistry(log)
	bridge := broadcast.NewGateway(eventBus, connRegistry, log)
	if err := bridge.Start(); err != nil {
		log.Fatal("broadcast bridge start failed", zap.Error(err))
	}
	defer bridge.Stop()

	publisher := broadcast.NewPublisher(eventBus, "codi-gateway", log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"bus":    eventBus.IsConnected(),
		})
	})
	wsHandler := gatewayws.NewHandler(connRegistry, publisher, eventBus, log)
	wsHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		quit := make(chan os.Signal, 1)
		ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("shutdown signal received")
		case <-groupCtx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("codi gateway stopped")
}
