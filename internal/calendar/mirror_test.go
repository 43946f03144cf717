package calendar

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"taskpulse/internal/model"
	"taskpulse/internal/repository"
)

type call struct {
	op      string
	eventID string
}

// mockService records calendar calls.
type mockService struct {
	mu        sync.Mutex
	calls     []call
	insertErr error
	patchErr  error
	deleteErr error
	existing  string
	block     bool
	nextID    string
	lastEvent *gcal.Event
}

func (s *mockService) record(op, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: op, eventID: id})
}

func (s *mockService) Insert(ctx context.Context, ev *gcal.Event) (string, error) {
	s.record("insert", "")
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s.lastEvent = ev
	if s.insertErr != nil {
		return "", s.insertErr
	}
	return s.nextID, nil
}

func (s *mockService) Patch(_ context.Context, id string, ev *gcal.Event) error {
	s.record("patch", id)
	s.lastEvent = ev
	return s.patchErr
}

func (s *mockService) Delete(_ context.Context, id string) error {
	s.record("delete", id)
	return s.deleteErr
}

func (s *mockService) FindByTaskID(_ context.Context, _ string) (string, bool, error) {
	s.record("find", "")
	return s.existing, s.existing != "", nil
}

func (s *mockService) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type mockProvider struct {
	svc    *mockService
	owners map[string]bool
}

func (p *mockProvider) ForOwner(_ context.Context, ownerID string) (Service, bool, error) {
	if !p.owners[ownerID] {
		return nil, false, nil
	}
	return p.svc, true, nil
}

type mockStore struct {
	mu      sync.Mutex
	ids     map[string]string
	cleared []string
	setErr  error
}

func newMockStore() *mockStore { return &mockStore{ids: map[string]string{}} }

func (s *mockStore) SetExternalEventID(_ context.Context, taskID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.ids[taskID] = eventID
	return nil
}

func (s *mockStore) ClearExternalEventID(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, taskID)
	s.cleared = append(s.cleared, taskID)
	return nil
}

func newTask() *model.Task {
	return &model.Task{
		ID:       "task-9",
		OwnerID:  "u1",
		Title:    "Dentist",
		Category: "health",
		Deadline: "2026-07-01T09:00:00Z",
		FilePath: "files/u1/referral.pdf",
	}
}

func setup(svc *mockService) (*Mirror, *mockStore) {
	store := newMockStore()
	p := &mockProvider{svc: svc, owners: map[string]bool{"u1": true}}
	return NewMirror(p, store, time.Second, time.UTC, zap.NewNop()), store
}

func TestBuildEvent(t *testing.T) {
	ev, err := BuildEvent(newTask(), time.UTC)
	if err != nil {
		t.Fatalf("BuildEvent failed: %v", err)
	}
	if ev.Start.DateTime != "2026-07-01T09:00:00Z" || ev.End.DateTime != "2026-07-01T10:00:00Z" {
		t.Errorf("unexpected window %s - %s", ev.Start.DateTime, ev.End.DateTime)
	}
	if !strings.Contains(ev.Description, "task-9") || !strings.Contains(ev.Description, "referral.pdf") {
		t.Errorf("description missing task id or attachment: %q", ev.Description)
	}
	if ev.ExtendedProperties.Private[TaskIDProperty] != "task-9" {
		t.Error("missing task id property")
	}

	task := newTask()
	task.FilePath = ""
	ev, _ = BuildEvent(task, time.UTC)
	if !strings.Contains(ev.Description, "Attachment: none") {
		t.Errorf("expected none attachment, got %q", ev.Description)
	}
}

func TestCreateStoresEventID(t *testing.T) {
	svc := &mockService{nextID: "evt-1"}
	m, store := setup(svc)
	task := newTask()

	m.OnCreate(context.Background(), task)
	if store.ids["task-9"] != "evt-1" || task.ExternalEventID != "evt-1" {
		t.Errorf("expected event id stored, got %v", store.ids)
	}
}

func TestCreateFailureLeavesTaskUnmirrored(t *testing.T) {
	svc := &mockService{insertErr: errors.New("connection reset")}
	m, store := setup(svc)
	task := newTask()

	m.OnCreate(context.Background(), task)
	if len(store.ids) != 0 || task.HasEvent() {
		t.Fatalf("failed create must not store an event id")
	}

	// 后续编辑不会补建事件
	task.Title = "Dentist (moved)"
	m.OnUpdate(context.Background(), task)
	if svc.count("insert") != 1 || svc.count("patch") != 0 {
		t.Errorf("update must be a no-op without event id, calls=%v", svc.calls)
	}
}

func TestCreateTimeoutIsFailure(t *testing.T) {
	svc := &mockService{block: true}
	store := newMockStore()
	p := &mockProvider{svc: svc, owners: map[string]bool{"u1": true}}
	m := NewMirror(p, store, 20*time.Millisecond, time.UTC, zap.NewNop())

	_, err := m.Create(context.Background(), newTask())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if len(store.ids) != 0 {
		t.Error("timeout must not store an event id")
	}
}

func TestCreateReusesTaggedEvent(t *testing.T) {
	svc := &mockService{existing: "evt-old"}
	m, store := setup(svc)

	id, err := m.Create(context.Background(), newTask())
	if err != nil || id != "evt-old" {
		t.Fatalf("expected reuse of evt-old, got %q %v", id, err)
	}
	if svc.count("insert") != 0 || store.ids["task-9"] != "evt-old" {
		t.Errorf("expected no insert, calls=%v", svc.calls)
	}
}

func TestCreateSkipsTaskWithEvent(t *testing.T) {
	svc := &mockService{}
	m, _ := setup(svc)
	task := newTask()
	task.ExternalEventID = "evt-5"

	if id, _ := m.Create(context.Background(), task); id != "evt-5" {
		t.Errorf("expected existing id, got %q", id)
	}
	if len(svc.calls) != 0 {
		t.Errorf("expected no calendar call, got %v", svc.calls)
	}
}

func TestNoCredentialsIsSilentNoop(t *testing.T) {
	svc := &mockService{nextID: "evt-1"}
	m, store := setup(svc)
	task := newTask()
	task.OwnerID = "stranger"

	if id, err := m.Create(context.Background(), task); id != "" || err != nil {
		t.Errorf("expected silent no-op, got %q %v", id, err)
	}
	task.ExternalEventID = "evt-x"
	if err := m.Update(context.Background(), task); err != nil {
		t.Errorf("update: %v", err)
	}
	if err := m.Delete(context.Background(), "stranger", task.ID, "evt-x"); err != nil {
		t.Errorf("delete: %v", err)
	}
	if len(svc.calls) != 0 || len(store.ids) != 0 {
		t.Errorf("expected no calls, got %v", svc.calls)
	}
}

func TestUpdatePatchesInPlace(t *testing.T) {
	svc := &mockService{}
	m, _ := setup(svc)
	task := newTask()
	task.ExternalEventID = "evt-7"
	task.Deadline = "2026-07-02T15:30:00Z"

	m.OnUpdate(context.Background(), task)
	if svc.count("patch") != 1 || svc.calls[0].eventID != "evt-7" {
		t.Fatalf("expected one patch of evt-7, got %v", svc.calls)
	}
	if svc.lastEvent.Start.DateTime != "2026-07-02T15:30:00Z" {
		t.Errorf("patch carried stale start %s", svc.lastEvent.Start.DateTime)
	}
}

func TestDeleteCallsOnceWithStoredID(t *testing.T) {
	svc := &mockService{}
	m, store := setup(svc)

	m.OnDelete(context.Background(), "u1", "task-9", "evt-3")
	if svc.count("delete") != 1 || svc.calls[0].eventID != "evt-3" {
		t.Errorf("expected exactly one delete of evt-3, got %v", svc.calls)
	}
	if len(store.cleared) != 1 {
		t.Error("event id should be cleared after delete")
	}
}

func TestDeleteWithoutEventIDMakesNoCall(t *testing.T) {
	svc := &mockService{}
	m, _ := setup(svc)

	m.OnDelete(context.Background(), "u1", "task-9", "")
	if len(svc.calls) != 0 {
		t.Errorf("expected no calls, got %v", svc.calls)
	}
}

func TestDeleteTreatsGoneAsSuccess(t *testing.T) {
	svc := &mockService{deleteErr: &googleapi.Error{Code: http.StatusGone}}
	m, _ := setup(svc)

	if err := m.Delete(context.Background(), "u1", "task-9", "evt-3"); err != nil {
		t.Errorf("expected gone to count as deleted, got %v", err)
	}

	svc.deleteErr = &googleapi.Error{Code: http.StatusServiceUnavailable}
	if err := m.Delete(context.Background(), "u1", "task-9", "evt-3"); err == nil {
		t.Error("expected 503 to surface")
	}
}

func TestCreateRemovesEventWhenTaskDeletedMeanwhile(t *testing.T) {
	svc := &mockService{nextID: "evt-7"}
	m, store := setup(svc)
	store.setErr = repository.ErrTaskNotFound

	id, err := m.Create(context.Background(), newTask())
	if err != nil || id != "" {
		t.Fatalf("expected silent cleanup, got %q %v", id, err)
	}
	if svc.count("insert") != 1 || svc.count("delete") != 1 {
		t.Fatalf("expected one insert and one delete, got %v", svc.calls)
	}
	if last := svc.calls[len(svc.calls)-1]; last.eventID != "evt-7" {
		t.Errorf("expected delete of evt-7, got %+v", last)
	}
}

func TestCreateCleanupFailureIsReported(t *testing.T) {
	svc := &mockService{nextID: "evt-7", deleteErr: errors.New("backend unavailable")}
	m, store := setup(svc)
	store.setErr = repository.ErrTaskNotFound

	if _, err := m.Create(context.Background(), newTask()); err == nil {
		t.Fatal("expected error when the stray event cannot be removed")
	}
}

func TestRemoveOrphanDeletesTaggedEvent(t *testing.T) {
	svc := &mockService{existing: "evt-stray"}
	m, _ := setup(svc)

	if err := m.RemoveOrphan(context.Background(), "u1", "task-9"); err != nil {
		t.Fatalf("RemoveOrphan failed: %v", err)
	}
	if svc.count("delete") != 1 {
		t.Errorf("expected one delete, got %v", svc.calls)
	}

	svc = &mockService{}
	m, _ = setup(svc)
	if err := m.RemoveOrphan(context.Background(), "u1", "task-9"); err != nil || svc.count("delete") != 0 {
		t.Errorf("expected no delete without a tagged event, err=%v calls=%v", err, svc.calls)
	}
}
