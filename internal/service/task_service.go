package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "taskpulse/contracts/mq"
	"taskpulse/internal/deadline"
	"taskpulse/internal/model"
	"taskpulse/pkg/logger"
	"taskpulse/pkg/trace"
)

var ErrInvalidInput = errors.New("invalid input")

// TaskReader is the query side of the task store.
type TaskReader interface {
	Get(ctx context.Context, ownerID, id string) (*model.Task, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Task, error)
}

// TaskWriter persists a task mutation together with its calendar sync event.
type TaskWriter interface {
	Create(ctx context.Context, t *model.Task, evt mqcontracts.TaskMutatedPayload) error
	Update(ctx context.Context, t *model.Task, evt mqcontracts.TaskMutatedPayload) error
	Delete(ctx context.Context, ownerID, id string, evt mqcontracts.TaskMutatedPayload) error
}

type CreateTaskInput struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Deadline string `json:"deadline"`
	FilePath string `json:"file_path"`
}

// UpdateTaskInput carries only the fields being changed.
type UpdateTaskInput struct {
	Title     *string `json:"title"`
	Category  *string `json:"category"`
	Deadline  *string `json:"deadline"`
	Completed *bool   `json:"completed"`
	FilePath  *string `json:"file_path"`
}

// TaskService is the task mutation collaborator: it writes tasks and queues
// the matching calendar mirror operation in the same transaction.
type TaskService struct {
	reader     TaskReader
	writer     TaskWriter
	normalizer *deadline.Normalizer
	logger     *zap.Logger
}

func NewTaskService(reader TaskReader, writer TaskWriter, normalizer *deadline.Normalizer, logger *zap.Logger) *TaskService {
	return &TaskService{
		reader:     reader,
		writer:     writer,
		normalizer: normalizer,
		logger:     logger,
	}
}

func (s *TaskService) Create(ctx context.Context, ownerID string, in CreateTaskInput) (*model.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	normalized, err := s.normalizer.Normalize(in.Deadline)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	task := &model.Task{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Title:    title,
		Category: strings.TrimSpace(in.Category),
		Deadline: normalized,
		FilePath: in.FilePath,
	}
	evt := mqcontracts.TaskMutatedPayload{
		Op:      mqcontracts.OpCreate,
		TaskID:  task.ID,
		OwnerID: ownerID,
		TraceID: trace.FromContext(ctx),
	}
	if err := s.writer.Create(ctx, task, evt); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	logger.WithTrace(ctx, s.logger).Info("Task created",
		zap.String("task_id", task.ID),
		zap.String("owner_id", ownerID),
		zap.String("deadline", task.Deadline),
	)
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, ownerID, id string) (*model.Task, error) {
	return s.reader.Get(ctx, ownerID, id)
}

func (s *TaskService) List(ctx context.Context, ownerID string) ([]*model.Task, error) {
	return s.reader.ListByOwner(ctx, ownerID)
}

func (s *TaskService) Update(ctx context.Context, ownerID, id string, in UpdateTaskInput) (*model.Task, error) {
	task, err := s.reader.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	previousFile := task.FilePath

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		task.Title = title
	}
	if in.Category != nil {
		task.Category = strings.TrimSpace(*in.Category)
	}
	if in.Deadline != nil {
		normalized, err := s.normalizer.Normalize(*in.Deadline)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		task.Deadline = normalized
	}
	if in.Completed != nil {
		task.Completed = *in.Completed
	}
	if in.FilePath != nil {
		task.FilePath = *in.FilePath
	}

	evt := mqcontracts.TaskMutatedPayload{
		Op:      mqcontracts.OpUpdate,
		TaskID:  task.ID,
		OwnerID: ownerID,
		TraceID: trace.FromContext(ctx),
	}
	if previousFile != "" && previousFile != task.FilePath {
		evt.PreviousFilePath = previousFile
	}
	if err := s.writer.Update(ctx, task, evt); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	logger.WithTrace(ctx, s.logger).Info("Task updated",
		zap.String("task_id", task.ID),
		zap.String("deadline", task.Deadline),
	)
	return task, nil
}

// Delete removes the task locally. The calendar event is removed
// asynchronously and never blocks the deletion.
func (s *TaskService) Delete(ctx context.Context, ownerID, id string) error {
	task, err := s.reader.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	evt := mqcontracts.TaskMutatedPayload{
		Op:      mqcontracts.OpDelete,
		TaskID:  task.ID,
		OwnerID: ownerID,
		EventID: task.ExternalEventID,
		TraceID: trace.FromContext(ctx),
	}
	if err := s.writer.Delete(ctx, ownerID, id, evt); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	logger.WithTrace(ctx, s.logger).Info("Task deleted",
		zap.String("task_id", id),
		zap.Bool("had_event", task.HasEvent()),
	)
	return nil
}
