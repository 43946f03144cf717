package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"taskpulse/pkg/circuitbreaker"
)

// Messenger delivers a plain-text message to one chat.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// BotSender 是 tgbotapi.BotAPI 的发送子集
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramMessenger sends through the Bot API behind a circuit breaker, so a
// Telegram outage fails fast instead of stalling every tick. Only transport
// failures count against the breaker; a chat rejecting the bot is that
// chat's failure alone.
type TelegramMessenger struct {
	bot    BotSender
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

// NewTelegramMessenger builds the breaker from cfg; zero fields take the
// breaker defaults. Chat rejections never count against it.
func NewTelegramMessenger(bot BotSender, cfg circuitbreaker.Config, logger *zap.Logger) *TelegramMessenger {
	if cfg.Name == "" {
		cfg.Name = "telegram"
	}
	cfg.Counts = func(err error) bool {
		return err != nil && !IsChatRejection(err)
	}
	return &TelegramMessenger{bot: bot, cb: circuitbreaker.NewCircuitBreaker(cfg), logger: logger}
}

func (m *TelegramMessenger) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.cb.Execute(func() error {
		_, err := m.bot.Send(tgbotapi.NewMessage(chatID, text))
		return err
	})
	if err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

// IsChatRejection 判断是否为单个 chat 的拒绝（被拉黑、chat 不存在等 4xx），
// 429 限流属于整体问题，不算在内
func IsChatRejection(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
}
