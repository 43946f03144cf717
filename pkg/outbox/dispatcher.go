package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskpulse/pkg/metrics"
	"taskpulse/pkg/mq"
	"taskpulse/pkg/trace"
)

// PendingStore hands out locked batches of pending events.
type PendingStore interface {
	ClaimPending(ctx context.Context, limit int) (Batch, error)
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	store      PendingStore
	publisher  mq.EventPublisher
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

// NewDispatcher 创建新的 Dispatcher
func NewDispatcher(
	store PendingStore,
	publisher mq.EventPublisher,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,               // 默认最大重试5次
		interval:   1 * time.Second, // 默认每秒扫描一次
		batchSize:  100,             // 默认每次处理100个事件
	}
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

// WithInterval 设置扫描间隔
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// WithBatchSize 设置批次大小
func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	d.batchSize = batchSize
	return d
}

// Start 按 interval 轮询，直到 ctx 取消
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.RelayOnce(ctx); err != nil {
				d.logger.Error("Outbox relay failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many events were sent.
// A publish failure only pushes that event's next retry back; the rest of
// the batch still goes out.
func (d *Dispatcher) RelayOnce(ctx context.Context) (int, error) {
	batch, err := d.store.ClaimPending(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			if err := batch.Rollback(context.WithoutCancel(ctx)); err != nil {
				d.logger.Warn("Failed to roll back outbox batch", zap.Error(err))
			}
		}
	}()

	events := batch.Events()
	if len(events) == 0 {
		return 0, nil
	}
	d.logger.Debug("Processing pending events", zap.Int("count", len(events)))

	sent := 0
	for _, event := range events {
		if err := d.publishEvent(ctx, event); err != nil {
			d.logger.Error("Failed to publish event",
				zap.Int64("event_id", event.ID),
				zap.String("aggregate_id", event.AggregateID),
				zap.String("routing_key", event.RoutingKey),
				zap.Error(err),
			)
			metrics.IncrementOutboxRelay("failed")
			if err := batch.MarkAsFailed(ctx, event.ID, d.maxRetries); err != nil {
				return sent, fmt.Errorf("mark event %d failed: %w", event.ID, err)
			}
			continue
		}

		if err := batch.MarkAsSent(ctx, event.ID); err != nil {
			return sent, fmt.Errorf("mark event %d sent: %w", event.ID, err)
		}
		metrics.IncrementOutboxRelay("sent")
		sent++
	}

	if err := batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	committed = true
	return sent, nil
}

// publishEvent 发布单个事件到 MQ
func (d *Dispatcher) publishEvent(ctx context.Context, event *Event) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("invalid payload for event %d", event.ID)
	}

	ctx = extractTraceIDFromPayload(ctx, event.Payload)
	if err := d.publisher.PublishWithContext(ctx, event.RoutingKey, event.Payload); err != nil {
		return fmt.Errorf("failed to publish to MQ: %w", err)
	}

	return nil
}

// extractTraceIDFromPayload 从 payload 中提取 trace_id（如果存在）
func extractTraceIDFromPayload(ctx context.Context, payload json.RawMessage) context.Context {
	var meta struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &meta); err != nil || meta.TraceID == "" {
		return ctx
	}
	return trace.WithContext(ctx, meta.TraceID)
}
