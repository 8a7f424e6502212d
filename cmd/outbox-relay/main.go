package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/citycare/scheduling-core/internal/config"
	"github.com/citycare/scheduling-core/internal/db"
	"github.com/citycare/scheduling-core/internal/events"
	"github.com/citycare/scheduling-core/internal/logger"
	"github.com/citycare/scheduling-core/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL is required for the outbox relay")
	}

	zlog, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("outbox-relay starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.RelayInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		zlog.Fatal("rabbitmq connection error", zap.Error(err))
	}
	defer conn.Close()
	zlog.Info("connected to RabbitMQ")

	publisher, err := events.NewAMQPPublisher(conn, zlog)
	if err != nil {
		zlog.Fatal("amqp publisher error", zap.Error(err))
	}
	defer publisher.Close()

	repo := scheduling.NewPgRepository(pgPool)
	relay := scheduling.NewOutboxRelay(repo, publisher, zlog, cfg.RelayBatchSize)

	// Run once at startup
	runOnce(rootCtx, relay, zlog)

	ticker := time.NewTicker(cfg.RelayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutting down outbox-relay")
			return
		case <-ticker.C:
			runOnce(rootCtx, relay, zlog)
		}
	}
}

func runOnce(ctx context.Context, relay *scheduling.OutboxRelay, zlog *zap.Logger) {
	if err := relay.RunOnce(ctx); err != nil {
		zlog.Error("relay pass failed", zap.Error(err))
	}
}
