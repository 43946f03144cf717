// Package registry maps internal owners to the messaging chats that receive
// their reminders.
//
// Two writers share the registry: the chat command listener, which may bind a
// chat before it knows the owner, and the authenticated linking API. Writes
// carrying a genuine owner follow last-write-wins. A placeholder bind only
// creates an entry; it never demotes a chat that is already linked.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskpulse/internal/model"
)

// Registry is the identity binding contract.
type Registry interface {
	// Bind associates chatID with ownerID. ownerID may be model.Unlinked.
	Bind(ctx context.Context, chatID int64, ownerID string) error
	// Unbind removes chatID's entry. Unknown chats are a no-op.
	Unbind(ctx context.Context, chatID int64) error
	// Resolve returns every chat linked to ownerID, in ascending order.
	Resolve(ctx context.Context, ownerID string) ([]int64, error)
	// IsBound reports whether chatID has any entry, placeholder included.
	IsBound(ctx context.Context, chatID int64) (bool, error)
	// Lookup returns chatID's binding.
	Lookup(ctx context.Context, chatID int64) (model.Binding, bool, error)
}

// Memory is an in-process Registry.
type Memory struct {
	mu       sync.RWMutex
	bindings map[int64]model.Binding
	now      func() time.Time
}

// NewMemory returns an empty in-process registry.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{bindings: make(map[int64]model.Binding), now: now}
}

func (m *Memory) Bind(_ context.Context, chatID int64, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.bindings[chatID]
	if ownerID == model.Unlinked && ok {
		return nil
	}
	if ok && existing.OwnerID == ownerID {
		return nil
	}
	m.bindings[chatID] = model.Binding{ChatID: chatID, OwnerID: ownerID, LinkedAt: m.now()}
	return nil
}

func (m *Memory) Unbind(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, chatID)
	return nil
}

func (m *Memory) Resolve(_ context.Context, ownerID string) ([]int64, error) {
	if ownerID == model.Unlinked {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chats []int64
	for chatID, b := range m.bindings {
		if b.OwnerID == ownerID {
			chats = append(chats, chatID)
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
	return chats, nil
}

func (m *Memory) IsBound(_ context.Context, chatID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bindings[chatID]
	return ok, nil
}

func (m *Memory) Lookup(_ context.Context, chatID int64) (model.Binding, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bindings[chatID]
	return b, ok, nil
}
