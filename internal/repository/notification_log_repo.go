package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"taskpulse/internal/model"
)

type NotificationLogRepository struct {
	db DBTX
}

func NewNotificationLogRepository(db *pgxpool.Pool) *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

func (r *NotificationLogRepository) Insert(ctx context.Context, log *model.NotificationLog) error {
	query := `
		INSERT INTO notification_log (task_id, owner_id, chat_id, deadline, delivered, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		log.TaskID, log.OwnerID, log.ChatID, log.Deadline, log.Delivered, nullable(log.Error),
	).Scan(&log.ID, &log.CreatedAt)
}

func (r *NotificationLogRepository) ListByTask(ctx context.Context, taskID string) ([]model.NotificationLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, task_id, owner_id, chat_id, deadline, delivered, error, created_at
		FROM notification_log
		WHERE task_id = $1
		ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []model.NotificationLog{}
	for rows.Next() {
		var l model.NotificationLog
		var errText *string
		if err := rows.Scan(&l.ID, &l.TaskID, &l.OwnerID, &l.ChatID, &l.Deadline, &l.Delivered, &errText, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Error = deref(errText)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
