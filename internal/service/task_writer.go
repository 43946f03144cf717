package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mqcontracts "taskpulse/contracts/mq"
	"taskpulse/internal/model"
	"taskpulse/internal/repository"
	"taskpulse/pkg/outbox"
)

const aggregateTask = "task"

// PgTaskWriter writes the task row and its outbox event in one transaction.
type PgTaskWriter struct {
	db     *pgxpool.Pool
	tasks  *repository.TaskRepository
	outbox *outbox.Repository
}

func NewPgTaskWriter(db *pgxpool.Pool, tasks *repository.TaskRepository, outboxRepo *outbox.Repository) *PgTaskWriter {
	return &PgTaskWriter{db: db, tasks: tasks, outbox: outboxRepo}
}

func (w *PgTaskWriter) inTx(ctx context.Context, evt mqcontracts.TaskMutatedPayload, fn func(repo *repository.TaskRepository) error) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(w.tasks.WithTx(tx)); err != nil {
		return err
	}
	if err := w.insertEvent(ctx, tx, evt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (w *PgTaskWriter) insertEvent(ctx context.Context, tx pgx.Tx, evt mqcontracts.TaskMutatedPayload) error {
	return outbox.InsertEventInTx(ctx, tx, w.outbox, aggregateTask, evt.TaskID, mqcontracts.RoutingTaskMutated, evt)
}

func (w *PgTaskWriter) Create(ctx context.Context, t *model.Task, evt mqcontracts.TaskMutatedPayload) error {
	return w.inTx(ctx, evt, func(repo *repository.TaskRepository) error {
		return repo.Create(ctx, t)
	})
}

func (w *PgTaskWriter) Update(ctx context.Context, t *model.Task, evt mqcontracts.TaskMutatedPayload) error {
	return w.inTx(ctx, evt, func(repo *repository.TaskRepository) error {
		return repo.Update(ctx, t)
	})
}

func (w *PgTaskWriter) Delete(ctx context.Context, ownerID, id string, evt mqcontracts.TaskMutatedPayload) error {
	return w.inTx(ctx, evt, func(repo *repository.TaskRepository) error {
		return repo.Delete(ctx, ownerID, id)
	})
}
