package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskpulse/internal/bootstrap"
	"taskpulse/internal/calendar"
	"taskpulse/internal/config"
	"taskpulse/internal/deadline"
	"taskpulse/internal/handler"
	"taskpulse/internal/httpserver"
	"taskpulse/internal/repository"
	"taskpulse/internal/service"
	"taskpulse/pkg/db"
	"taskpulse/pkg/logger"
	"taskpulse/pkg/mq"
	"taskpulse/pkg/otel"
	"taskpulse/pkg/outbox"
	redisclient "taskpulse/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLoggerWithLevel(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting taskpulse api...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("port", cfg.Server.Port),
	)

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    "taskpulse-api",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownOtel()

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		log.Fatal("Invalid scheduler config", zap.Error(err))
	}
	normalizer, err := deadline.NewNormalizer(cfg.Scheduler.DefaultTime, loc)
	if err != nil {
		log.Fatal("Invalid scheduler config", zap.Error(err))
	}

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// MQ Publisher (outbox relay + admin replay)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	taskRepo := repository.NewTaskRepository(dbConn)
	bindingRepo := repository.NewBindingRepository(dbConn)
	credRepo := repository.NewCredentialRepository(dbConn)
	outboxRepo := outbox.NewRepository(dbConn)

	// Services
	taskService := service.NewTaskService(taskRepo, service.NewPgTaskWriter(dbConn, taskRepo, outboxRepo), normalizer, log)
	replayService := outbox.NewReplayService(outboxRepo, publisher)

	// Handlers
	codes, codeTTL := bootstrap.NewLinkCodes(cfg.Telegram, rdb)
	handlers := httpserver.Handlers{
		Tasks:    handler.NewTaskHandler(taskService, log).WithHistory(repository.NewNotificationLogRepository(dbConn)),
		Channels: handler.NewChannelHandler(bindingRepo, bindingRepo, log).WithLinkCodes(codes, codeTTL),
		Admin:    handler.NewAdminHandler(replayService, log),
	}
	if cfg.Calendar.Enabled {
		oauthCfg := calendar.NewOAuth2Config(calendar.OAuthConfig{
			ClientID:     cfg.Calendar.ClientID,
			ClientSecret: cfg.Calendar.ClientSecret,
			RedirectURL:  cfg.Calendar.RedirectURL,
		})
		handlers.Calendar = handler.NewCalendarHandler(oauthCfg, credRepo, cfg.JWT.Secret, log)
	}

	router := httpserver.NewRouter(handlers, cfg.JWT.Secret, map[string]httpserver.Checker{
		"db": dbConn.Ping,
		"redis": func(ctx context.Context) error {
			return redisclient.Ping(ctx, rdb)
		},
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Engine,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down api gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("api shutdown complete")
}
