package ledger

import (
	"context"
	"sync"
	"time"

	"taskpulse/pkg/clock"
)

type entry struct {
	deadline time.Time
	markedAt time.Time
}

// Memory is a process-local ledger. It is lost on restart.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]entry
	retention time.Duration
	clock     clock.Clock
}

func NewMemory(retention time.Duration, clk clock.Clock) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Memory{
		entries:   make(map[string]entry),
		retention: retention,
		clock:     clk,
	}
}

func (m *Memory) HasNotified(_ context.Context, taskID string, deadline time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[Key(taskID, deadline)]
	return ok, nil
}

func (m *Memory) MarkNotified(_ context.Context, taskID string, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(taskID, deadline)
	if _, ok := m.entries[key]; !ok {
		m.entries[key] = entry{deadline: deadline, markedAt: m.clock.Now()}
	}
	return nil
}

func (m *Memory) TryClaim(_ context.Context, taskID string, deadline time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(taskID, deadline)
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = entry{deadline: deadline, markedAt: m.clock.Now()}
	return true, nil
}

func (m *Memory) Purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, e := range m.entries {
		if !e.deadline.Add(m.retention).After(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len 当前条目数
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
