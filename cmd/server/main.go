package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pulse/notification-service/internal/api"
	"github.com/pulse/notification-service/internal/auth"
	"github.com/pulse/notification-service/internal/config"
	"github.com/pulse/notification-service/internal/consumer"
	"github.com/pulse/notification-service/internal/dedup"
	"github.com/pulse/notification-service/internal/dispatcher"
	"github.com/pulse/notification-service/internal/infrastructure"
	"github.com/pulse/notification-service/internal/infrastructure/kafka"
	"github.com/pulse/notification-service/internal/infrastructure/postgres"
	"github.com/pulse/notification-service/internal/presence"
	"github.com/pulse/notification-service/internal/ws"
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	instanceID := cfg.App.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	store := postgres.NewNotificationRepository(pgPool)
	registry := presence.NewRegistry(redisClient, cfg.Presence.TTL, cfg.Presence.RelayChannel)
	dedupWindow := dedup.NewWindow(redisClient, cfg.Consumer.DedupWindow)
	validator := auth.NewValidator(cfg.Auth.Secret, cfg.Auth.ClockSkew)

	manager := ws.NewManager(validator, store, registry, ws.Options{
		InstanceID:         instanceID,
		IdleTimeout:        cfg.WS.IdleTimeout,
		WriteTimeout:       cfg.WS.WriteTimeout,
		HeartbeatInterval:  cfg.Presence.HeartbeatInterval(),
		RevalidateInterval: cfg.Auth.RevalidateInterval,
		OpTimeout:          cfg.Consumer.OpTimeout,
		SendBuffer:         cfg.WS.SendBuffer,
	})

	disp := dispatcher.New(registry, manager, instanceID)

	// Relay subscriber: pushes from other instances for recipients connected here.
	go disp.Run(ctx, registry.Subscribe(ctx))

	// Queue consumers
	dlqProducer := kafka.NewProducer(kafka.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.DLQTopic,
	})
	defer dlqProducer.Close()

	for i := 0; i < cfg.Consumer.Workers; i++ {
		queue := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		defer queue.Close()

		worker := consumer.New(queue, store, dedupWindow, disp, dlqProducer,
			cfg.Consumer.MaxRetries, cfg.Consumer.OpTimeout)
		go worker.Run(ctx)
	}

	handlers := api.NewHandlers(store)
	router := api.NewRouter(handlers, manager, validator)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTP.Port, "instance_id", instanceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	manager.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exiting")
}
