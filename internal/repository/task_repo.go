package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskpulse/internal/model"
)

var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `
	id, owner_id, title, category, deadline, completed,
	file_path, external_event_id, created_at, updated_at
`

type TaskRepository struct {
	db DBTX
}

func NewTaskRepository(db *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *TaskRepository) WithTx(tx pgx.Tx) *TaskRepository {
	return &TaskRepository{db: tx}
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	var filePath, eventID *string
	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Title,
		&t.Category,
		&t.Deadline,
		&t.Completed,
		&filePath,
		&eventID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.FilePath = deref(filePath)
	t.ExternalEventID = deref(eventID)
	return &t, nil
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Create inserts a task. ID must already be set.
func (r *TaskRepository) Create(ctx context.Context, t *model.Task) error {
	query := `
		INSERT INTO tasks (id, owner_id, title, category, deadline, completed, file_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		t.ID, t.OwnerID, t.Title, t.Category, t.Deadline, t.Completed, nullable(t.FilePath),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Get returns the task, scoped to its owner.
func (r *TaskRepository) Get(ctx context.Context, ownerID, id string) (*model.Task, error) {
	query := `SELECT` + taskColumns + `FROM tasks WHERE id = $1 AND owner_id = $2`
	t, err := scanTask(r.db.QueryRow(ctx, query, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// GetByID 不校验 owner，供后台 worker 使用
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*model.Task, error) {
	query := `SELECT` + taskColumns + `FROM tasks WHERE id = $1`
	t, err := scanTask(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// Update writes the mutable fields. The external event id is left alone.
func (r *TaskRepository) Update(ctx context.Context, t *model.Task) error {
	query := `
		UPDATE tasks
		SET title = $1, category = $2, deadline = $3, completed = $4, file_path = $5, updated_at = NOW()
		WHERE id = $6 AND owner_id = $7
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		t.Title, t.Category, t.Deadline, t.Completed, nullable(t.FilePath), t.ID, t.OwnerID,
	).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTaskNotFound
	}
	return err
}

func (r *TaskRepository) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.Task, error) {
	query := `SELECT` + taskColumns + `FROM tasks WHERE owner_id = $1 ORDER BY deadline ASC`
	return r.queryTasks(ctx, query, ownerID)
}

// ListOwners returns owners that still have incomplete tasks.
func (r *TaskRepository) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT owner_id FROM tasks WHERE completed = FALSE ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func (r *TaskRepository) ListPendingByOwner(ctx context.Context, ownerID string) ([]*model.Task, error) {
	query := `SELECT` + taskColumns + `FROM tasks WHERE owner_id = $1 AND completed = FALSE`
	return r.queryTasks(ctx, query, ownerID)
}

// SetExternalEventID returns ErrTaskNotFound when the task was deleted
// meanwhile, so the caller can remove the event it just created.
func (r *TaskRepository) SetExternalEventID(ctx context.Context, id, eventID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE tasks SET external_event_id = $1 WHERE id = $2`, eventID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) ClearExternalEventID(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE tasks SET external_event_id = NULL WHERE id = $1`, id)
	return err
}
