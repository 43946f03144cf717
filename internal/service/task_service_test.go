package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	mqcontracts "taskpulse/contracts/mq"
	"taskpulse/internal/deadline"
	"taskpulse/internal/model"
	"taskpulse/internal/repository"
)

// memStore implements TaskReader and TaskWriter and records queued events.
type memStore struct {
	mu     sync.Mutex
	tasks  map[string]model.Task
	events []mqcontracts.TaskMutatedPayload
	fail   error
}

func newMemStore() *memStore { return &memStore{tasks: map[string]model.Task{}} }

func (m *memStore) Get(_ context.Context, ownerID, id string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, repository.ErrTaskNotFound
	}
	return &t, nil
}

func (m *memStore) ListByOwner(_ context.Context, ownerID string) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Task
	for _, t := range m.tasks {
		if t.OwnerID == ownerID {
			cp := t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) write(t *model.Task, evt mqcontracts.TaskMutatedPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.tasks[t.ID] = *t
	m.events = append(m.events, evt)
	return nil
}

func (m *memStore) Create(_ context.Context, t *model.Task, evt mqcontracts.TaskMutatedPayload) error {
	return m.write(t, evt)
}

func (m *memStore) Update(_ context.Context, t *model.Task, evt mqcontracts.TaskMutatedPayload) error {
	return m.write(t, evt)
}

func (m *memStore) Delete(_ context.Context, _, id string, evt mqcontracts.TaskMutatedPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.tasks, id)
	m.events = append(m.events, evt)
	return nil
}

func newService(t *testing.T, store *memStore) *TaskService {
	t.Helper()
	n, err := deadline.NewNormalizer("09:00", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	return NewTaskService(store, store, n, zap.NewNop())
}

func TestCreateNormalizesAndQueues(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store)

	task, err := svc.Create(context.Background(), "u1", CreateTaskInput{Title: " Pay rent ", Deadline: "2026-09-01"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if task.ID == "" || task.Title != "Pay rent" || task.Deadline != "2026-09-01T09:00:00Z" {
		t.Errorf("unexpected task %+v", task)
	}
	if len(store.events) != 1 || store.events[0].Op != mqcontracts.OpCreate || store.events[0].TaskID != task.ID {
		t.Errorf("expected create event, got %+v", store.events)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc := newService(t, newMemStore())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "u1", CreateTaskInput{Title: "", Deadline: "2026-09-01"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid input for empty title, got %v", err)
	}
	if _, err := svc.Create(ctx, "u1", CreateTaskInput{Title: "x", Deadline: "tomorrow-ish"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid input for bad deadline, got %v", err)
	}
}

func TestUpdateRecordsReplacedFile(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store)
	ctx := context.Background()

	task, _ := svc.Create(ctx, "u1", CreateTaskInput{Title: "Essay", Deadline: "2026-09-01 17:00", FilePath: "f/old.docx"})
	newPath := "f/new.docx"
	newDeadline := "2026-09-02T10:00:00Z"
	updated, err := svc.Update(ctx, "u1", task.ID, UpdateTaskInput{FilePath: &newPath, Deadline: &newDeadline})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Deadline != newDeadline || updated.FilePath != newPath {
		t.Errorf("unexpected update %+v", updated)
	}
	evt := store.events[len(store.events)-1]
	if evt.Op != mqcontracts.OpUpdate || evt.PreviousFilePath != "f/old.docx" {
		t.Errorf("unexpected update event %+v", evt)
	}
}

func TestUpdateOtherOwnersTask(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store)
	ctx := context.Background()

	task, _ := svc.Create(ctx, "u1", CreateTaskInput{Title: "Private", Deadline: "2026-09-01"})
	title := "hijacked"
	if _, err := svc.Update(ctx, "u2", task.ID, UpdateTaskInput{Title: &title}); !errors.Is(err, repository.ErrTaskNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteCarriesEventID(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store)
	ctx := context.Background()

	task, _ := svc.Create(ctx, "u1", CreateTaskInput{Title: "Trip", Deadline: "2026-09-01"})
	stored := store.tasks[task.ID]
	stored.ExternalEventID = "evt-42"
	store.tasks[task.ID] = stored

	if err := svc.Delete(ctx, "u1", task.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	evt := store.events[len(store.events)-1]
	if evt.Op != mqcontracts.OpDelete || evt.EventID != "evt-42" || evt.OwnerID != "u1" {
		t.Errorf("unexpected delete event %+v", evt)
	}
	if _, ok := store.tasks[task.ID]; ok {
		t.Error("task should be gone locally")
	}
}

func TestWriterFailureSurfaces(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")
	svc := newService(t, store)

	if _, err := svc.Create(context.Background(), "u1", CreateTaskInput{Title: "x", Deadline: "2026-09-01"}); err == nil {
		t.Error("expected write error")
	}
}
