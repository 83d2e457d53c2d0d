// Package main runs the live session engine HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classcast/backend/config"
	"github.com/classcast/backend/internal/analytics"
	"github.com/classcast/backend/internal/auth"
	"github.com/classcast/backend/internal/gateway"
	"github.com/classcast/backend/internal/live"
	"github.com/classcast/backend/internal/metrics"
	"github.com/classcast/backend/internal/middleware"
	"github.com/classcast/backend/internal/models"
	"github.com/classcast/backend/internal/policy"
	"github.com/classcast/backend/internal/sessionlog"
	"github.com/classcast/backend/internal/sessions"
	"github.com/classcast/backend/pkg/database"
	"github.com/classcast/backend/pkg/queue"
	"github.com/classcast/backend/pkg/redis"
	"github.com/classcast/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	engineMetrics := metrics.New()
	policyStore := policy.NewStore(rdb.Client, cfg.Policy, logger)
	manager := live.NewManager(cfg.Session, policyStore, engineMetrics, logger)

	sessionRepo := sessions.NewRepository(pool)
	sessionLogRepo := sessionlog.NewRepository(pool)
	metricsRepo := analytics.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Presence hooks: per-viewer session logs and peak viewer tracking.
	manager.SetSessionLogger(
		func(sessionID, viewerID uuid.UUID) {
			_ = sessionLogRepo.LogJoin(context.Background(), sessionID, viewerID)
		},
		func(sessionID, viewerID uuid.UUID, joinedAt time.Time) {
			_ = sessionLogRepo.LogLeave(context.Background(), sessionID, viewerID, joinedAt)
		},
	)
	manager.SetAudienceChangeHandler(func(sessionID uuid.UUID, count int) {
		_ = sessionRepo.UpdatePeakViewers(context.Background(), sessionID, count)
	})
	manager.SetEndHandler(func(sessionID uuid.UUID, stats live.Stats) {
		logger.Info("session ended",
			zap.String("session_id", sessionID.String()),
			zap.Int("peak_viewers", stats.PeakViewers),
			zap.Int("total_joined", stats.TotalJoined),
			zap.Int64("total_watch_seconds", stats.TotalWatchSeconds),
		)
	})

	sessionHandler := sessions.NewHandler(sessionRepo, manager, policyStore, sessionLogRepo, metricsRepo, jobQueue, logger)

	wsValidate := func(token string) (uuid.UUID, models.Role, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		role := models.Role(claims.Role)
		if !role.Valid() {
			role = models.RoleViewer
		}
		return claims.UserID, role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(engineMetrics.Handler()))

	// Control surface (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/sessions", middleware.RequireRole(models.RoleHost), sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.POST("/sessions/:id/start", middleware.RequireRole(models.RoleHost), sessionHandler.Start)
		api.POST("/sessions/:id/end", middleware.RequireRole(models.RoleHost), sessionHandler.End)
		api.POST("/sessions/:id/held/:messageId/release", middleware.RequireRole(models.RoleHost), sessionHandler.ReleaseHeld)
		api.GET("/sessions/:id/stats", sessionHandler.Stats)
		api.GET("/sessions/:id/live_count", sessionHandler.LiveCount)
		api.GET("/sessions/:id/attendees", middleware.RequireRole(models.RoleHost, models.RoleCoHost), sessionHandler.Attendees)
		api.GET("/sessions/:id/engagement", middleware.RequireRole(models.RoleHost, models.RoleCoHost), sessionHandler.Engagement)
		api.PUT("/sessions/:id/policy", middleware.RequireRole(models.RoleHost), sessionHandler.UpdatePolicy)
		api.POST("/sessions/:id/policy/refresh", middleware.RequireRole(models.RoleHost), sessionHandler.RefreshPolicy)
	}

	// WebSocket gateway (token in query; no Authorization header required)
	router.GET("/ws", gateway.ServeWs(manager, logger, wsValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
