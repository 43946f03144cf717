package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"taskpulse/internal/model"
)

func TestBindResolveUnbind(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(nil)

	if err := r.Bind(ctx, 100, "u1"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := r.Bind(ctx, 200, "u1"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	chats, _ := r.Resolve(ctx, "u1")
	if fmt.Sprint(chats) != "[100 200]" {
		t.Fatalf("expected both devices, got %v", chats)
	}

	if err := r.Unbind(ctx, 100); err != nil {
		t.Fatalf("Unbind failed: %v", err)
	}
	chats, _ = r.Resolve(ctx, "u1")
	if fmt.Sprint(chats) != "[200]" {
		t.Errorf("expected [200], got %v", chats)
	}
	if bound, _ := r.IsBound(ctx, 100); bound {
		t.Error("unbound chat still reported as bound")
	}
}

func TestUnbindUnknownIsNoop(t *testing.T) {
	r := NewMemory(nil)
	if err := r.Unbind(context.Background(), 42); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestLastWriteWinsBetweenGenuineOwners(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(nil)

	_ = r.Bind(ctx, 7, "alice")
	_ = r.Bind(ctx, 7, "bob")

	b, ok, _ := r.Lookup(ctx, 7)
	if !ok || b.OwnerID != "bob" {
		t.Fatalf("expected bob to win, got %+v", b)
	}
	if chats, _ := r.Resolve(ctx, "alice"); len(chats) != 0 {
		t.Errorf("alice should no longer resolve chat 7, got %v", chats)
	}
}

func TestPlaceholderThenGenuineOwner(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewMemory(func() time.Time { return now })

	_ = r.Bind(ctx, 9, model.Unlinked)
	if bound, _ := r.IsBound(ctx, 9); !bound {
		t.Fatal("placeholder chat should be bound")
	}
	if chats, _ := r.Resolve(ctx, model.Unlinked); len(chats) != 0 {
		t.Errorf("placeholder chats must never resolve, got %v", chats)
	}

	now = now.Add(time.Hour)
	_ = r.Bind(ctx, 9, "carol")
	b, _, _ := r.Lookup(ctx, 9)
	if b.OwnerID != "carol" || !b.LinkedAt.Equal(now) {
		t.Errorf("expected carol linked at %v, got %+v", now, b)
	}
}

func TestPlaceholderDoesNotDemoteLinkedChat(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(nil)

	_ = r.Bind(ctx, 9, "carol")
	_ = r.Bind(ctx, 9, model.Unlinked)

	b, _, _ := r.Lookup(ctx, 9)
	if b.OwnerID != "carol" {
		t.Errorf("placeholder bind overwrote owner: %+v", b)
	}
}

func TestConcurrentWritersConverge(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Bind(ctx, 1, fmt.Sprintf("owner-%d", i))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(ctx, "owner-0")
		}()
	}
	wg.Wait()

	b, ok, _ := r.Lookup(ctx, 1)
	if !ok || b.OwnerID == model.Unlinked {
		t.Fatalf("expected a single genuine owner, got %+v", b)
	}
	total := 0
	for i := 0; i < 50; i++ {
		chats, _ := r.Resolve(ctx, fmt.Sprintf("owner-%d", i))
		total += len(chats)
	}
	if total != 1 {
		t.Errorf("chat 1 must resolve for exactly one owner, got %d", total)
	}
}
