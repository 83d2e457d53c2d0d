// Package main runs the background analytics worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classcast/backend/config"
	"github.com/classcast/backend/internal/analytics"
	"github.com/classcast/backend/internal/sessionlog"
	"github.com/classcast/backend/internal/sessions"
	"github.com/classcast/backend/internal/worker"
	"github.com/classcast/backend/pkg/database"
	"github.com/classcast/backend/pkg/queue"
	"github.com/classcast/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	sessionRepo := sessions.NewRepository(pool)
	logRepo := sessionlog.NewRepository(pool)
	metricsRepo := analytics.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	processor := worker.NewAnalyticsProcessor(sessionRepo, logRepo, metricsRepo, jobQueue, logger)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("analytics worker started")
	processor.Run(ctx)
	logger.Info("analytics worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
