package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskpulse/internal/bootstrap"
	"taskpulse/internal/config"
	"taskpulse/internal/ledger"
	"taskpulse/internal/model"
	"taskpulse/internal/notify"
	"taskpulse/internal/registry"
	"taskpulse/internal/repository"
	"taskpulse/internal/scanner"
	"taskpulse/pkg/clock"
	"taskpulse/pkg/db"
	"taskpulse/pkg/logger"
	redisclient "taskpulse/pkg/redis"
)

// bindingStore is the registry plus the listing the channels command needs.
type bindingStore interface {
	registry.Registry
	ListByOwner(ctx context.Context, ownerID string) ([]model.Binding, error)
}

// runtime opens backends lazily so a bad redis does not block `bind`.
type runtime struct {
	bindings func() (bindingStore, error)
	ledger   func() (ledger.Ledger, error)
	scanner  func() (*scanner.Scanner, error)
	clock    clock.Clock
	close    func()
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewLoggerWithLevel(cfg.Log.Level)
	clk := clock.Real()

	var (
		pool *pgxpool.Pool
		rdb  *goredis.Client
	)
	openDB := sync.OnceValues(func() (*pgxpool.Pool, error) {
		p, err := db.NewConnection(cfg.DB, log)
		pool = p
		return p, err
	})
	openRedis := sync.OnceValues(func() (*goredis.Client, error) {
		if cfg.Ledger.Backend == "memory" {
			return nil, nil
		}
		c := redisclient.NewRedisClient(cfg.Redis)
		rdb = c
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c, redisclient.Ping(ctx, c)
	})
	openLedger := func() (ledger.Ledger, error) {
		c, err := openRedis()
		if err != nil {
			return nil, err
		}
		return bootstrap.NewLedger(cfg.Ledger, c, clk, log)
	}

	rt := &runtime{
		clock:  clk,
		ledger: openLedger,
		bindings: func() (bindingStore, error) {
			p, err := openDB()
			if err != nil {
				return nil, err
			}
			return repository.NewBindingRepository(p), nil
		},
		scanner: func() (*scanner.Scanner, error) {
			return buildScanner(cfg, openDB, openLedger, clk, log)
		},
		close: func() {
			if pool != nil {
				pool.Close()
			}
			if rdb != nil {
				_ = rdb.Close()
			}
			_ = log.Sync()
		},
	}
	return rt, nil
}

func buildScanner(
	cfg *config.Config,
	openDB func() (*pgxpool.Pool, error),
	openLedger func() (ledger.Ledger, error),
	clk clock.Clock,
	log *zap.Logger,
) (*scanner.Scanner, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	p, err := openDB()
	if err != nil {
		return nil, err
	}
	l, err := openLedger()
	if err != nil {
		return nil, err
	}
	bot, err := bootstrap.NewBot(cfg.Telegram)
	if err != nil {
		return nil, fmt.Errorf("scan needs the messaging channel: %w", err)
	}

	bindings := repository.NewBindingRepository(p)
	dispatcher := notify.NewDispatcher(bindings, bootstrap.NewMessenger(bot, log), repository.NewNotificationLogRepository(p), loc, log)
	return scanner.New(repository.NewTaskRepository(p), l, dispatcher, clk, bootstrap.ScannerConfig(cfg.Scheduler), log), nil
}
