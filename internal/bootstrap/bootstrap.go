// Package bootstrap holds the wiring shared by the worker and the admin CLI.
package bootstrap

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskpulse/internal/command"
	"taskpulse/internal/config"
	"taskpulse/internal/ledger"
	"taskpulse/internal/linkcode"
	"taskpulse/internal/notify"
	"taskpulse/internal/registry"
	"taskpulse/internal/scanner"
	"taskpulse/pkg/circuitbreaker"
	"taskpulse/pkg/clock"
	pkgconfig "taskpulse/pkg/config"
)

// ScannerConfig maps the scheduler section onto scanner timings.
func ScannerConfig(cfg config.SchedulerConfig) scanner.Config {
	sc := scanner.DefaultConfig()
	sc.Interval = pkgconfig.ParseDuration(cfg.Interval, sc.Interval)
	sc.Window = pkgconfig.ParseDuration(cfg.Window, sc.Window)
	if cfg.MaxInFlight > 0 {
		sc.MaxInFlight = cfg.MaxInFlight
	}
	if cfg.PurgeEvery > 0 {
		sc.PurgeEvery = cfg.PurgeEvery
	}
	return sc
}

// NewLedger picks the dedup backend. rdb may be nil for the memory backend.
func NewLedger(cfg config.LedgerConfig, rdb *redis.Client, clk clock.Clock, logger *zap.Logger) (ledger.Ledger, error) {
	retention := pkgconfig.ParseDuration(cfg.Retention, ledger.DefaultRetention)
	switch cfg.Backend {
	case "memory":
		logger.Warn("Using in-memory dedup ledger, reminders may repeat after restart")
		return ledger.NewMemory(retention, clk), nil
	case "redis", "":
		if rdb == nil {
			return nil, fmt.Errorf("redis ledger requires a redis client")
		}
		return ledger.NewRedis(rdb, retention, clk, logger), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// NewBot connects to the Telegram bot API.
func NewBot(cfg pkgconfig.TelegramConfig) (*tgbotapi.BotAPI, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram.token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// NewMessenger wraps the bot in a per-process circuit breaker that trips
// only on transport failures.
func NewMessenger(bot notify.BotSender, logger *zap.Logger) *notify.TelegramMessenger {
	cfg := circuitbreaker.DefaultConfig()
	cfg.Name = "telegram"
	return notify.NewTelegramMessenger(bot, cfg, logger)
}

// NewLinkCodes returns the shared link code store and its TTL.
func NewLinkCodes(cfg pkgconfig.TelegramConfig, rdb redis.Cmdable) (*linkcode.Redis, time.Duration) {
	ttl := pkgconfig.ParseDuration(cfg.LinkCodeTTL, linkcode.DefaultTTL)
	return linkcode.NewRedis(rdb, ttl), ttl
}

// NewCommandHandler requires link codes for /link unless raw owner ids are
// explicitly allowed.
func NewCommandHandler(cfg pkgconfig.TelegramConfig, reg registry.Registry, codes command.CodeRedeemer, logger *zap.Logger) *command.Handler {
	h := command.NewHandler(reg, logger)
	if cfg.RawOwnerLinks {
		logger.Warn("Chats may link to any owner id without a link code")
		return h
	}
	return h.WithLinkCodes(codes)
}
