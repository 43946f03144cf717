package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "taskpulse/contracts/mq"
	"taskpulse/internal/bootstrap"
	"taskpulse/internal/calendar"
	"taskpulse/internal/command"
	"taskpulse/internal/config"
	"taskpulse/internal/mqhandler"
	"taskpulse/internal/notify"
	"taskpulse/internal/repository"
	"taskpulse/internal/scanner"
	"taskpulse/pkg/clock"
	pkgconfig "taskpulse/pkg/config"
	"taskpulse/pkg/db"
	"taskpulse/pkg/logger"
	"taskpulse/pkg/mq"
	"taskpulse/pkg/otel"
	"taskpulse/pkg/outbox"
	redisclient "taskpulse/pkg/redis"
	"taskpulse/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLoggerWithLevel(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting taskpulse worker...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("ledger", cfg.Ledger.Backend),
	)

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    "taskpulse-worker",
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := redisclient.Ping(ctx, rdb); err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}

	// MQ Publisher (outbox relay + DLQ)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()
	if err := mq.EnsureDeadLetterQueue(cfg.MQ.URL, mqcontracts.RoutingTaskMutated); err != nil {
		log.Fatal("Failed to declare calendar DLQ", zap.Error(err))
	}

	// Repositories
	taskRepo := repository.NewTaskRepository(dbConn)
	bindingRepo := repository.NewBindingRepository(dbConn)
	credRepo := repository.NewCredentialRepository(dbConn)
	notiLogRepo := repository.NewNotificationLogRepository(dbConn)
	outboxRepo := outbox.NewRepository(dbConn)

	// Messaging channel
	bot, err := bootstrap.NewBot(cfg.Telegram)
	if err != nil {
		log.Fatal("Failed to init messaging channel", zap.Error(err))
	}
	messenger := bootstrap.NewMessenger(bot, log)
	log.Info("Messaging channel connected", zap.String("bot", bot.Self.UserName))

	// Scanner
	clk := clock.Real()
	dedup, err := bootstrap.NewLedger(cfg.Ledger, rdb, clk, log)
	if err != nil {
		log.Fatal("Failed to init dedup ledger", zap.Error(err))
	}
	dispatcher := notify.NewDispatcher(bindingRepo, messenger, notiLogRepo, loc, log)
	scan := scanner.New(taskRepo, dedup, dispatcher, clk, bootstrap.ScannerConfig(cfg.Scheduler), log)

	// Command listener
	codes, _ := bootstrap.NewLinkCodes(cfg.Telegram, rdb)
	listener := command.NewListener(bot, bootstrap.NewCommandHandler(cfg.Telegram, bindingRepo, codes, log), messenger, cfg.Telegram.PollTimeout, log)

	// Outbox relay
	relay := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(pkgconfig.ParseDuration(cfg.Outbox.Interval, time.Second))
	if cfg.Outbox.BatchSize > 0 {
		relay = relay.WithBatchSize(cfg.Outbox.BatchSize)
	}
	if cfg.Outbox.MaxRetries > 0 {
		relay = relay.WithMaxRetries(cfg.Outbox.MaxRetries)
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("Starting component", zap.String("component", name))
			fn(ctx)
			log.Info("Component stopped", zap.String("component", name))
		}()
	}

	run("scanner", scan.Run)
	run("command-listener", listener.Run)
	run("outbox-relay", relay.Start)

	// Calendar sync consumer
	var consumer *mq.Consumer
	if cfg.Calendar.Enabled {
		oauthCfg := calendar.NewOAuth2Config(calendar.OAuthConfig{
			ClientID:     cfg.Calendar.ClientID,
			ClientSecret: cfg.Calendar.ClientSecret,
			RedirectURL:  cfg.Calendar.RedirectURL,
		})
		provider := calendar.NewGoogleProvider(oauthCfg, credRepo, cfg.Calendar.CalendarID, log)
		mirror := calendar.NewMirror(provider, taskRepo, pkgconfig.ParseDuration(cfg.Calendar.Timeout, calendar.DefaultTimeout), loc, log)
		syncHandler := mqhandler.NewCalendarSyncHandler(
			taskRepo,
			mirror,
			util.NewRetryCounter(rdb, 24*time.Hour),
			publisher,
			cfg.Calendar.MaxRetries,
			log,
		)

		log.Info("Initializing MQ consumer for task.mutated...",
			zap.String("queue", mqcontracts.QueueCalendarSync),
			zap.String("routing_key", mqcontracts.RoutingTaskMutated),
		)
		consumer, err = mq.NewConsumer(cfg.MQ.URL, mqcontracts.QueueCalendarSync, mqcontracts.RoutingTaskMutated, log)
		if err != nil {
			log.Fatal("Failed to init calendar consumer", zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetHandler(syncHandler.Handle)

		go func() {
			if err := consumer.StartConsuming(); err != nil {
				log.Error("Calendar consumer failed", zap.Error(err))
				stop()
			}
		}()
	} else {
		log.Info("Calendar mirror disabled")
	}

	log.Info("taskpulse worker is fully initialized and running")
	<-ctx.Done()

	log.Info("Shutting down worker gracefully...")
	if consumer != nil {
		consumer.Stop()
	}
	wg.Wait()
	log.Info("worker shutdown complete")
}
