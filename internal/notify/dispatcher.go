// Package notify delivers deadline reminders to every chat bound to a task's
// owner.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskpulse/internal/model"
	"taskpulse/pkg/logger"
	"taskpulse/pkg/metrics"
)

// Resolver returns the chats bound to an owner.
type Resolver interface {
	Resolve(ctx context.Context, ownerID string) ([]int64, error)
}

// LogWriter persists delivery attempts. Optional.
type LogWriter interface {
	Insert(ctx context.Context, log *model.NotificationLog) error
}

// ChannelResult is the outcome of one send.
type ChannelResult struct {
	ChatID int64
	Err    error
}

// DispatchReport summarises one Dispatch call. A dispatch with zero channels
// or a resolve failure still counts as attempted.
type DispatchReport struct {
	TaskID     string
	OwnerID    string
	Results    []ChannelResult
	ResolveErr error
}

func (r DispatchReport) Delivered() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

func (r DispatchReport) Failed() int {
	return len(r.Results) - r.Delivered()
}

type Dispatcher struct {
	resolver  Resolver
	messenger Messenger
	logs      LogWriter
	loc       *time.Location
	logger    *zap.Logger
}

func NewDispatcher(resolver Resolver, messenger Messenger, logs LogWriter, loc *time.Location, logger *zap.Logger) *Dispatcher {
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{
		resolver:  resolver,
		messenger: messenger,
		logs:      logs,
		loc:       loc,
		logger:    logger,
	}
}

// Dispatch sends the reminder to each bound chat independently. Failures are
// logged and reported, never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID string, task *model.Task) DispatchReport {
	log := logger.WithTrace(ctx, d.logger).With(
		zap.String("task_id", task.ID),
		zap.String("owner_id", ownerID),
	)
	report := DispatchReport{TaskID: task.ID, OwnerID: ownerID}

	chats, err := d.resolver.Resolve(ctx, ownerID)
	if err != nil {
		log.Error("Failed to resolve channels", zap.Error(err))
		report.ResolveErr = err
		return report
	}
	if len(chats) == 0 {
		log.Info("Owner has no linked channel, skipping reminder")
		return report
	}

	text := FormatReminder(task, d.loc)
	report.Results = make([]ChannelResult, len(chats))

	var wg sync.WaitGroup
	for i, chatID := range chats {
		wg.Add(1)
		go func(i int, chatID int64) {
			defer wg.Done()
			err := d.messenger.Send(ctx, chatID, text)
			report.Results[i] = ChannelResult{ChatID: chatID, Err: err}
		}(i, chatID)
	}
	wg.Wait()

	for _, res := range report.Results {
		if res.Err != nil {
			metrics.IncrementNotificationSend("failed")
			log.Warn("Reminder delivery failed", zap.Int64("chat_id", res.ChatID), zap.Error(res.Err))
		} else {
			metrics.IncrementNotificationSend("delivered")
			log.Info("Reminder delivered", zap.Int64("chat_id", res.ChatID))
		}
		d.writeLog(ctx, ownerID, task, res, log)
	}
	return report
}

func (d *Dispatcher) writeLog(ctx context.Context, ownerID string, task *model.Task, res ChannelResult, log *zap.Logger) {
	if d.logs == nil {
		return
	}
	entry := &model.NotificationLog{
		TaskID:    task.ID,
		OwnerID:   ownerID,
		ChatID:    res.ChatID,
		Deadline:  task.Deadline,
		Delivered: res.Err == nil,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := d.logs.Insert(ctx, entry); err != nil {
		log.Warn("Failed to write notification log", zap.Int64("chat_id", res.ChatID), zap.Error(err))
	}
}
