package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"taskpulse/internal/deadline"
	"taskpulse/internal/ledger"
	"taskpulse/internal/model"
	"taskpulse/internal/notify"
	"taskpulse/internal/registry"
	"taskpulse/pkg/clock"
)

var T = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// mockStore is an in-memory TaskSource.
type mockStore struct {
	mu        sync.Mutex
	tasks     map[string]*model.Task
	failOwner string
}

func newMockStore(tasks ...*model.Task) *mockStore {
	s := &mockStore{tasks: make(map[string]*model.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *mockStore) ListOwners(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var owners []string
	for _, t := range s.tasks {
		if !t.Completed && !seen[t.OwnerID] {
			seen[t.OwnerID] = true
			owners = append(owners, t.OwnerID)
		}
	}
	return owners, nil
}

func (s *mockStore) ListPendingByOwner(_ context.Context, owner string) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner == s.failOwner {
		return nil, errors.New("store timeout")
	}
	var out []*model.Task
	for _, t := range s.tasks {
		if t.OwnerID == owner && !t.Completed {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *mockStore) setDeadline(id string, d time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].Deadline = deadline.Format(d)
}

// mockDispatcher records calls and can block until released.
type mockDispatcher struct {
	mu      sync.Mutex
	calls   []string
	block   chan struct{}
	entered chan struct{}
}

func (d *mockDispatcher) Dispatch(_ context.Context, owner string, task *model.Task) notify.DispatchReport {
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	d.calls = append(d.calls, task.ID)
	d.mu.Unlock()
	return notify.DispatchReport{TaskID: task.ID, OwnerID: owner}
}

func (d *mockDispatcher) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type brokenLedger struct{ ledger.Ledger }

func (brokenLedger) TryClaim(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("redis down")
}

func task(id, owner string, due time.Time) *model.Task {
	return &model.Task{ID: id, OwnerID: owner, Title: id, Deadline: deadline.Format(due)}
}

func newScanner(store TaskSource, l ledger.Ledger, d Dispatcher, clk clock.Clock) *Scanner {
	cfg := DefaultConfig()
	cfg.PurgeEvery = 0
	return New(store, l, d, clk, cfg, zap.NewNop())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestInWindowBoundaries(t *testing.T) {
	tests := []struct {
		name string
		due  time.Time
		want bool
	}{
		{"exactly now", T, false},
		{"just after now", T.Add(time.Second), true},
		{"exactly now+window", T.Add(DefaultWindow), true},
		{"past window", T.Add(DefaultWindow + time.Second), false},
		{"already passed", T.Add(-time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InWindow(tt.due, T, DefaultWindow); got != tt.want {
				t.Errorf("InWindow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTickSelectsOnlyWindowedTasks(t *testing.T) {
	store := newMockStore(
		task("at-now", "u1", T),
		task("at-edge", "u1", T.Add(DefaultWindow)),
		task("too-late", "u1", T.Add(DefaultWindow+time.Second)),
	)
	d := &mockDispatcher{}
	s := newScanner(store, ledger.NewMemory(0, clock.NewFake(T)), d, clock.NewFake(T))

	report := s.Tick(context.Background(), T)
	if report.Dispatched != 1 || d.CallCount() != 1 || d.calls[0] != "at-edge" {
		t.Errorf("expected only at-edge dispatched, got %v (%+v)", d.calls, report)
	}
	if report.OutOfWindow != 2 {
		t.Errorf("expected 2 out of window, got %d", report.OutOfWindow)
	}
}

func TestTaskNotifiedOnceAcrossTicks(t *testing.T) {
	// 任务截止于 T+90s，T+30s 命中，T+90s 不再重复
	store := newMockStore(task("t1", "u1", T.Add(90*time.Second)))
	d := &mockDispatcher{}
	clk := clock.NewFake(T)
	l := ledger.NewMemory(0, clk)
	s := newScanner(store, l, d, clk)

	first := s.Tick(context.Background(), T.Add(30*time.Second))
	if first.Dispatched != 1 {
		t.Fatalf("expected dispatch on first tick, got %+v", first)
	}
	if ok, _ := l.HasNotified(context.Background(), "t1", T.Add(90*time.Second)); !ok {
		t.Error("ledger should be marked after dispatch")
	}

	second := s.Tick(context.Background(), T.Add(90*time.Second))
	if second.Dispatched != 0 || d.CallCount() != 1 {
		t.Errorf("expected no second dispatch, got %d calls", d.CallCount())
	}

	third := s.Tick(context.Background(), T.Add(31*time.Second))
	if third.Duplicates != 1 || d.CallCount() != 1 {
		t.Errorf("expected duplicate, got %+v", third)
	}
}

func TestOwnerWithoutChannelIsStillMarked(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(task("t1", "lonely", T.Add(time.Minute)))
	clk := clock.NewFake(T)
	l := ledger.NewMemory(0, clk)
	dispatcher := notify.NewDispatcher(registry.NewMemory(nil), nil, nil, time.UTC, zap.NewNop())
	s := newScanner(store, l, dispatcher, clk)

	if r := s.Tick(ctx, T); r.Dispatched != 1 {
		t.Fatalf("expected no-op dispatch to count, got %+v", r)
	}
	if ok, _ := l.HasNotified(ctx, "t1", T.Add(time.Minute)); !ok {
		t.Error("task should be marked even with no channels")
	}
	if r := s.Tick(ctx, T.Add(30*time.Second)); r.Dispatched != 0 || r.Duplicates != 1 {
		t.Errorf("task must not be retried, got %+v", r)
	}
}

func TestDeadlineEditMakesTaskEligibleAgain(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(task("t1", "u1", T.Add(time.Minute)))
	d := &mockDispatcher{}
	clk := clock.NewFake(T)
	s := newScanner(store, ledger.NewMemory(0, clk), d, clk)

	s.Tick(ctx, T)
	store.setDeadline("t1", T.Add(90*time.Second))
	s.Tick(ctx, T.Add(10*time.Second))

	if d.CallCount() != 2 {
		t.Errorf("expected fresh notification after edit, got %d", d.CallCount())
	}
}

func TestFailuresDoNotAbortTick(t *testing.T) {
	store := newMockStore(
		task("bad", "u1", T),
		task("good", "u1", T.Add(time.Minute)),
		task("other", "u2", T.Add(time.Minute)),
	)
	store.tasks["bad"].Deadline = "next tuesday"
	store.failOwner = "u2"
	d := &mockDispatcher{}
	s := newScanner(store, ledger.NewMemory(0, nil), d, clock.NewFake(T))

	report := s.Tick(context.Background(), T)
	if report.Malformed != 1 || report.Errors != 1 || report.Dispatched != 1 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestLedgerErrorSkipsDispatch(t *testing.T) {
	store := newMockStore(task("t1", "u1", T.Add(time.Minute)))
	d := &mockDispatcher{}
	s := newScanner(store, brokenLedger{}, d, clock.NewFake(T))

	report := s.Tick(context.Background(), T)
	if d.CallCount() != 0 || report.Errors != 1 {
		t.Errorf("expected skip on ledger error, got %+v", report)
	}
}

func TestOverlappingTicksDispatchOnce(t *testing.T) {
	store := newMockStore(task("t1", "u1", T.Add(time.Minute)))
	d := &mockDispatcher{}
	clk := clock.NewFake(T)
	s := newScanner(store, ledger.NewMemory(0, clk), d, clk)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(context.Background(), T)
		}()
	}
	wg.Wait()

	if d.CallCount() != 1 {
		t.Errorf("expected exactly one dispatch, got %d", d.CallCount())
	}
	if st := s.State(); st.Phase != Idle || st.ActiveTicks != 0 || st.Ticks != 10 {
		t.Errorf("unexpected final state %+v", st)
	}
}

func TestStateTracksInFlightDispatch(t *testing.T) {
	store := newMockStore(task("t1", "u1", T.Add(time.Minute)))
	d := &mockDispatcher{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := newScanner(store, ledger.NewMemory(0, nil), d, clock.NewFake(T))

	done := make(chan TickReport)
	go func() { done <- s.Tick(context.Background(), T) }()

	<-d.entered
	st := s.State()
	if st.Phase != Scanning || st.InFlight != 1 || st.ActiveTicks != 1 {
		t.Errorf("expected scanning with one in-flight dispatch, got %+v", st)
	}

	close(d.block)
	<-done
	if st := s.State(); st.Phase != Idle || st.InFlight != 0 {
		t.Errorf("expected idle after tick, got %+v", st)
	}
}

func TestRunDrivenByFakeClock(t *testing.T) {
	store := newMockStore(task("t1", "u1", T.Add(90*time.Second)))
	d := &mockDispatcher{}
	clk := clock.NewFake(T)
	s := New(store, ledger.NewMemory(0, clk), d, clk, Config{Interval: 30 * time.Second, Window: 2 * time.Minute}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	// Run 必须先创建 ticker，Advance 才能投递
	waitFor(t, func() bool { return clk.TickerCount() > 0 })
	clk.Advance(30 * time.Second)
	waitFor(t, func() bool { return d.CallCount() == 1 })

	clk.Advance(60 * time.Second)
	waitFor(t, func() bool { return s.State().Ticks == 3 && s.State().Phase == Idle })
	if d.CallCount() != 1 {
		t.Errorf("expected a single reminder, got %d", d.CallCount())
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestPurgeRunsOnSchedule(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(T)
	l := ledger.NewMemory(time.Hour, clk)
	_ = l.MarkNotified(ctx, "old", T.Add(-2*time.Hour))

	cfg := DefaultConfig()
	cfg.PurgeEvery = 2
	s := New(newMockStore(), l, &mockDispatcher{}, clk, cfg, zap.NewNop())

	s.Tick(ctx, T)
	if l.Len() != 1 {
		t.Fatal("purge should not run on first tick")
	}
	s.Tick(ctx, T)
	if l.Len() != 0 {
		t.Error("expected purge on second tick")
	}
}
