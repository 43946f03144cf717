package command

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"taskpulse/pkg/trace"
)

// UpdateSource is the long-polling half of tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Replier sends command replies.
type Replier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type Listener struct {
	source      UpdateSource
	handler     *Handler
	replier     Replier
	pollTimeout int
	logger      *zap.Logger
}

func NewListener(source UpdateSource, handler *Handler, replier Replier, pollTimeoutSec int, logger *zap.Logger) *Listener {
	if pollTimeoutSec <= 0 {
		pollTimeoutSec = 30
	}
	return &Listener{
		source:      source,
		handler:     handler,
		replier:     replier,
		pollTimeout: pollTimeoutSec,
		logger:      logger,
	}
}

// Run consumes updates until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = l.pollTimeout
	updates := l.source.GetUpdatesChan(u)

	l.logger.Info("Command listener started")
	for {
		select {
		case <-ctx.Done():
			l.source.StopReceivingUpdates()
			l.logger.Info("Command listener stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			l.handleUpdate(ctx, update)
		}
	}
}

func (l *Listener) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	chatID := msg.Chat.ID

	reply, err := l.handler.HandleCommand(ctx, chatID, msg.Text)
	if err != nil {
		l.logger.Error("Command failed", zap.Int64("chat_id", chatID), zap.Error(err))
		reply = "Something went wrong, please try again."
	}
	if reply == "" {
		return
	}
	if err := l.replier.Send(ctx, chatID, reply); err != nil {
		l.logger.Warn("Failed to send command reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
