// Package calendar keeps one external calendar event per task in step with
// the task's lifecycle. The task's stored event id is the idempotency key.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"

	"taskpulse/internal/model"
	"taskpulse/internal/repository"
	"taskpulse/pkg/logger"
	"taskpulse/pkg/metrics"
	"taskpulse/pkg/otel"
)

const DefaultTimeout = 10 * time.Second

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Service is one owner's default calendar.
type Service interface {
	Insert(ctx context.Context, ev *gcal.Event) (string, error)
	Patch(ctx context.Context, eventID string, ev *gcal.Event) error
	Delete(ctx context.Context, eventID string) error
	// FindByTaskID looks the event up by its private task id property.
	FindByTaskID(ctx context.Context, taskID string) (string, bool, error)
}

// Provider opens an owner's calendar. ok=false means the owner has no
// calendar credentials.
type Provider interface {
	ForOwner(ctx context.Context, ownerID string) (svc Service, ok bool, err error)
}

// EventStore persists the external event id on the task.
type EventStore interface {
	SetExternalEventID(ctx context.Context, taskID, eventID string) error
	ClearExternalEventID(ctx context.Context, taskID string) error
}

type Mirror struct {
	provider Provider
	store    EventStore
	timeout  time.Duration
	loc      *time.Location
	logger   *zap.Logger
}

func NewMirror(provider Provider, store EventStore, timeout time.Duration, loc *time.Location, logger *zap.Logger) *Mirror {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if loc == nil {
		loc = time.Local
	}
	return &Mirror{
		provider: provider,
		store:    store,
		timeout:  timeout,
		loc:      loc,
		logger:   logger,
	}
}

// OnCreate mirrors a new task. Failures are logged; the task stays without
// an event id.
func (m *Mirror) OnCreate(ctx context.Context, task *model.Task) {
	if _, err := m.Create(ctx, task); err != nil {
		logger.WithTrace(ctx, m.logger).Warn("Calendar create failed, task left unmirrored",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

// OnUpdate patches the task's event in place. No event id, no call.
func (m *Mirror) OnUpdate(ctx context.Context, task *model.Task) {
	if err := m.Update(ctx, task); err != nil {
		logger.WithTrace(ctx, m.logger).Warn("Calendar update failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

// OnDelete removes the task's event. Local deletion never waits on this.
func (m *Mirror) OnDelete(ctx context.Context, ownerID, taskID, eventID string) {
	if err := m.Delete(ctx, ownerID, taskID, eventID); err != nil {
		logger.WithTrace(ctx, m.logger).Warn("Calendar delete failed",
			zap.String("task_id", taskID), zap.String("event_id", eventID), zap.Error(err))
	}
}

// Create inserts the event and stores its id. It returns the stored id, or ""
// when the owner has no credentials. An event already recorded on the task
// or tagged with its id is reused, so redelivery never duplicates events.
func (m *Mirror) Create(ctx context.Context, task *model.Task) (eventID string, err error) {
	ctx, span := otel.StartSpan(ctx, "calendar.create")
	defer func() { otel.EndSpan(span, err) }()

	if task.HasEvent() {
		metrics.IncrementCalendarMirror(OpCreate, "skipped")
		return task.ExternalEventID, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	svc, ok, err := m.provider.ForOwner(ctx, task.OwnerID)
	if err != nil {
		m.record(OpCreate, err)
		return "", fmt.Errorf("open calendar for %s: %w", task.OwnerID, err)
	}
	if !ok {
		metrics.IncrementCalendarMirror(OpCreate, "skipped")
		return "", nil
	}

	ev, err := BuildEvent(task, m.loc)
	if err != nil {
		metrics.IncrementCalendarMirror(OpCreate, "skipped")
		m.logger.Warn("Task deadline unusable for calendar", zap.String("task_id", task.ID), zap.Error(err))
		return "", nil
	}

	existing, found, err := m.timed(ctx, "find", func(ctx context.Context) (string, bool, error) {
		return svc.FindByTaskID(ctx, task.ID)
	})
	if err != nil {
		m.record(OpCreate, err)
		return "", fmt.Errorf("lookup event: %w", err)
	}

	eventID = existing
	if !found {
		eventID, _, err = m.timed(ctx, "insert", func(ctx context.Context) (string, bool, error) {
			id, err := svc.Insert(ctx, ev)
			return id, true, err
		})
		if err != nil {
			m.record(OpCreate, err)
			return "", fmt.Errorf("insert event: %w", err)
		}
	}

	if err := m.store.SetExternalEventID(ctx, task.ID, eventID); err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			// 插入期间任务被删除，delete 消息拿不到 event id，这里负责撤销
			return "", m.compensate(ctx, svc, task.ID, eventID)
		}
		m.record(OpCreate, err)
		return "", fmt.Errorf("store event id: %w", err)
	}
	task.ExternalEventID = eventID
	m.record(OpCreate, nil)

	m.logger.Info("Calendar event created",
		zap.String("task_id", task.ID),
		zap.String("event_id", eventID),
		zap.Bool("reused", found),
	)
	return eventID, nil
}

// Update patches the existing event. Tasks without an event id are skipped;
// update never creates.
func (m *Mirror) Update(ctx context.Context, task *model.Task) (err error) {
	if !task.HasEvent() {
		metrics.IncrementCalendarMirror(OpUpdate, "skipped")
		return nil
	}

	ctx, span := otel.StartSpan(ctx, "calendar.update")
	defer func() { otel.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	svc, ok, err := m.provider.ForOwner(ctx, task.OwnerID)
	if err != nil {
		m.record(OpUpdate, err)
		return fmt.Errorf("open calendar for %s: %w", task.OwnerID, err)
	}
	if !ok {
		metrics.IncrementCalendarMirror(OpUpdate, "skipped")
		return nil
	}

	ev, err := BuildEvent(task, m.loc)
	if err != nil {
		metrics.IncrementCalendarMirror(OpUpdate, "skipped")
		m.logger.Warn("Task deadline unusable for calendar", zap.String("task_id", task.ID), zap.Error(err))
		return nil
	}

	_, _, err = m.timed(ctx, "patch", func(ctx context.Context) (string, bool, error) {
		return "", true, svc.Patch(ctx, task.ExternalEventID, ev)
	})
	m.record(OpUpdate, err)
	if err != nil {
		return fmt.Errorf("patch event %s: %w", task.ExternalEventID, err)
	}
	return nil
}

// Delete removes the event. An empty eventID makes no call.
func (m *Mirror) Delete(ctx context.Context, ownerID, taskID, eventID string) (err error) {
	if eventID == "" {
		metrics.IncrementCalendarMirror(OpDelete, "skipped")
		return nil
	}

	ctx, span := otel.StartSpan(ctx, "calendar.delete")
	defer func() { otel.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	svc, ok, err := m.provider.ForOwner(ctx, ownerID)
	if err != nil {
		m.record(OpDelete, err)
		return fmt.Errorf("open calendar for %s: %w", ownerID, err)
	}
	if !ok {
		metrics.IncrementCalendarMirror(OpDelete, "skipped")
		return nil
	}

	_, _, err = m.timed(ctx, "delete", func(ctx context.Context) (string, bool, error) {
		return "", true, svc.Delete(ctx, eventID)
	})
	if err != nil && !IsGone(err) {
		m.record(OpDelete, err)
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}

	if err := m.store.ClearExternalEventID(ctx, taskID); err != nil {
		m.logger.Warn("Failed to clear event id", zap.String("task_id", taskID), zap.Error(err))
	}
	m.record(OpDelete, nil)
	return nil
}

func (m *Mirror) compensate(ctx context.Context, svc Service, taskID, eventID string) error {
	_, _, err := m.timed(ctx, "delete", func(ctx context.Context) (string, bool, error) {
		return "", true, svc.Delete(ctx, eventID)
	})
	if err != nil && !IsGone(err) {
		m.record(OpCreate, err)
		return fmt.Errorf("remove event %s of deleted task: %w", eventID, err)
	}
	metrics.IncrementCalendarMirror(OpCreate, "compensated")
	m.logger.Info("Task deleted during create, event removed",
		zap.String("task_id", taskID), zap.String("event_id", eventID))
	return nil
}

// RemoveOrphan deletes the event tagged with a task id that no longer
// exists locally. It finishes a create that raced with the task's deletion.
func (m *Mirror) RemoveOrphan(ctx context.Context, ownerID, taskID string) (err error) {
	ctx, span := otel.StartSpan(ctx, "calendar.remove_orphan")
	defer func() { otel.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	svc, ok, err := m.provider.ForOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("open calendar for %s: %w", ownerID, err)
	}
	if !ok {
		return nil
	}
	eventID, found, err := m.timed(ctx, "find", func(ctx context.Context) (string, bool, error) {
		return svc.FindByTaskID(ctx, taskID)
	})
	if err != nil {
		return fmt.Errorf("lookup event: %w", err)
	}
	if !found {
		return nil
	}
	return m.compensate(ctx, svc, taskID, eventID)
}

// timed 记录单次日历 API 调用的延迟
func (m *Mirror) timed(ctx context.Context, op string, fn func(ctx context.Context) (string, bool, error)) (string, bool, error) {
	start := time.Now()
	id, ok, err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordCalendarCallLatency(op, status, time.Since(start))
	return id, ok, err
}

func (m *Mirror) record(op string, err error) {
	if err != nil {
		metrics.IncrementCalendarMirror(op, "failed")
		return
	}
	metrics.IncrementCalendarMirror(op, "ok")
}
