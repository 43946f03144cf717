package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "taskpulse/contracts/mq"
	"taskpulse/internal/model"
	"taskpulse/internal/repository"
	"taskpulse/pkg/logger"
	"taskpulse/pkg/util"
)

const (
	handlerName       = "calendar"
	defaultMaxRetries = 5
)

// TaskLoader re-reads the task at consume time.
type TaskLoader interface {
	GetByID(ctx context.Context, id string) (*model.Task, error)
}

// CalendarMirror is the error-returning side of calendar.Mirror.
type CalendarMirror interface {
	Create(ctx context.Context, task *model.Task) (string, error)
	Update(ctx context.Context, task *model.Task) error
	Delete(ctx context.Context, ownerID, taskID, eventID string) error
	RemoveOrphan(ctx context.Context, ownerID, taskID string) error
}

type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, failedAt string) error
}

// CalendarSyncHandler applies queued task mutations to the owner's calendar.
// Transient failures are requeued up to maxRetries, then parked in the DLQ.
type CalendarSyncHandler struct {
	tasks      TaskLoader
	mirror     CalendarMirror
	retries    RetryTracker
	dlq        DLQPublisher
	maxRetries int64
	logger     *zap.Logger
}

func NewCalendarSyncHandler(
	tasks TaskLoader,
	mirror CalendarMirror,
	retries RetryTracker,
	dlq DLQPublisher,
	maxRetries int,
	logger *zap.Logger,
) *CalendarSyncHandler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &CalendarSyncHandler{
		tasks:      tasks,
		mirror:     mirror,
		retries:    retries,
		dlq:        dlq,
		maxRetries: int64(maxRetries),
		logger:     logger,
	}
}

// Handle returns an error only when the message should be requeued.
func (h *CalendarSyncHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.TaskMutatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal task mutation (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		h.sendToDLQ(ctx, raw, fmt.Errorf("json_unmarshal_error: %w", err))
		return nil
	}
	log = log.With(zap.String("task_id", p.TaskID), zap.String("op", p.Op))

	err := h.apply(ctx, &p)
	retryKey := util.FormatRetryKey(handlerName, p.TaskID, p.Op)
	if err == nil {
		if rerr := h.retries.Reset(ctx, retryKey); rerr != nil {
			log.Debug("Failed to reset retry count", zap.Error(rerr))
		}
		return nil
	}

	isRetryable, errType := util.IsRetryableError(err)
	retryCount, cerr := h.retries.IncrementAndGet(ctx, retryKey)
	if cerr != nil {
		// Redis 不可用时按第一次处理
		log.Warn("Failed to get retry count, continuing anyway", zap.Error(cerr))
		retryCount = 1
	}

	log.Warn("Calendar sync failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry_count", retryCount),
		zap.Error(err),
	)

	if !util.ShouldRetry(retryCount, h.maxRetries, isRetryable) {
		log.Error("Giving up on calendar sync, sending to DLQ",
			zap.String("error_type", errType),
			zap.Int64("retry_count", retryCount),
		)
		h.sendToDLQ(ctx, raw, err)
		if rerr := h.retries.Reset(ctx, retryKey); rerr != nil {
			log.Debug("Failed to reset retry count", zap.Error(rerr))
		}
		return nil
	}
	return err
}

func (h *CalendarSyncHandler) apply(ctx context.Context, p *mqcontracts.TaskMutatedPayload) error {
	switch p.Op {
	case mqcontracts.OpCreate, mqcontracts.OpUpdate:
		task, err := h.tasks.GetByID(ctx, p.TaskID)
		if errors.Is(err, repository.ErrTaskNotFound) {
			// 任务已被删除，对应的 delete 消息会处理事件
			h.logger.Info("Task gone before calendar sync, skipping",
				zap.String("task_id", p.TaskID), zap.String("op", p.Op))
			if p.Op == mqcontracts.OpCreate {
				// 上一次 create 可能已插入事件但未能回写 id
				return h.mirror.RemoveOrphan(ctx, p.OwnerID, p.TaskID)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		if p.Op == mqcontracts.OpCreate {
			_, err = h.mirror.Create(ctx, task)
			return err
		}
		if p.PreviousFilePath != "" {
			h.logger.Debug("Attachment replaced, event description refreshed",
				zap.String("task_id", p.TaskID),
				zap.String("previous_file", p.PreviousFilePath),
				zap.String("attachment", task.AttachmentName()))
		}
		return h.mirror.Update(ctx, task)

	case mqcontracts.OpDelete:
		return h.mirror.Delete(ctx, p.OwnerID, p.TaskID, p.EventID)

	default:
		return fmt.Errorf("unknown task mutation op %q", p.Op)
	}
}

func (h *CalendarSyncHandler) sendToDLQ(ctx context.Context, raw []byte, cause error) {
	if h.dlq == nil {
		return
	}
	failedAt := time.Now().UTC().Format(time.RFC3339)
	if err := h.dlq.PublishToDLQ(ctx, mqcontracts.RoutingTaskMutated, raw, cause.Error(), failedAt); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
}
