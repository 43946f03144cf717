package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskpulse/pkg/clock"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newRedisLedger(t *testing.T, clk clock.Clock) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, 24*time.Hour, clk, zap.NewNop()), mr
}

func ledgers(t *testing.T) map[string]Ledger {
	clk := clock.NewFake(t0.Add(-time.Minute))
	r, _ := newRedisLedger(t, clk)
	return map[string]Ledger{
		"memory": NewMemory(24*time.Hour, clk),
		"redis":  r,
	}
}

func TestKeyRoundTrip(t *testing.T) {
	key := Key("a:b", t0)
	id, dl, ok := parseKey(key)
	if !ok || id != "a:b" || !dl.Equal(t0) {
		t.Errorf("parseKey(%q) = %q %v %v", key, id, dl, ok)
	}
	if _, _, ok := parseKey("retry:x"); ok {
		t.Error("foreign key should not parse")
	}
}

func TestMarkAndHas(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			if ok, _ := l.HasNotified(ctx, "t1", t0); ok {
				t.Fatal("fresh ledger reports notified")
			}
			if err := l.MarkNotified(ctx, "t1", t0); err != nil {
				t.Fatalf("MarkNotified failed: %v", err)
			}
			if ok, _ := l.HasNotified(ctx, "t1", t0); !ok {
				t.Error("expected notified after mark")
			}
			// mark is idempotent
			if err := l.MarkNotified(ctx, "t1", t0); err != nil {
				t.Errorf("second MarkNotified failed: %v", err)
			}
		})
	}
}

func TestDeadlineEditIsFreshKey(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			_ = l.MarkNotified(ctx, "t1", t0)
			if ok, _ := l.HasNotified(ctx, "t1", t0.Add(time.Hour)); ok {
				t.Error("edited deadline should not be marked")
			}
		})
	}
}

func TestTryClaimOnlyOnce(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := l.TryClaim(ctx, "t2", t0)
					if err != nil {
						t.Errorf("TryClaim failed: %v", err)
						return
					}
					if ok {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()
			if wins != 1 {
				t.Errorf("expected exactly one claim, got %d", wins)
			}
			if ok, _ := l.HasNotified(ctx, "t2", t0); !ok {
				t.Error("claimed pair must read as notified")
			}
		})
	}
}

func TestMemoryPurge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(24*time.Hour, clock.NewFake(t0))

	_ = m.MarkNotified(ctx, "old", t0.Add(-48*time.Hour))
	_ = m.MarkNotified(ctx, "edge", t0.Add(-24*time.Hour))
	_ = m.MarkNotified(ctx, "recent", t0.Add(-time.Hour))

	n, err := m.Purge(ctx, t0)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 2 || m.Len() != 1 {
		t.Errorf("expected 2 purged and 1 left, got %d purged, %d left", n, m.Len())
	}
	if ok, _ := m.HasNotified(ctx, "recent", t0.Add(-time.Hour)); !ok {
		t.Error("recent entry should survive purge")
	}
}

func TestRedisTTLTracksDeadline(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0.Add(-time.Minute))
	l, mr := newRedisLedger(t, clk)

	if _, err := l.TryClaim(ctx, "t3", t0); err != nil {
		t.Fatalf("TryClaim failed: %v", err)
	}
	ttl := mr.TTL(Key("t3", t0))
	want := 24*time.Hour + time.Minute
	if ttl != want {
		t.Errorf("expected ttl %v, got %v", want, ttl)
	}

	mr.FastForward(want)
	if ok, _ := l.HasNotified(ctx, "t3", t0); ok {
		t.Error("entry should expire after retention")
	}
}

func TestRedisPurgeRemovesKeysWithoutTTL(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLedger(t, clock.NewFake(t0))

	stale := Key("stale", t0.Add(-72*time.Hour))
	fresh := Key("fresh", t0.Add(-time.Hour))
	_ = mr.Set(stale, "1")
	_ = mr.Set(fresh, "1")
	_ = mr.Set("retry:calendar:x:create", "2")

	n, err := l.Purge(ctx, t0)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	if mr.Exists(stale) || !mr.Exists(fresh) || !mr.Exists("retry:calendar:x:create") {
		t.Error("purge touched the wrong keys")
	}
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLedger(t, clock.NewFake(t0))
	mr.Close()

	if _, err := l.TryClaim(ctx, "t4", t0); err == nil {
		t.Error("expected error when redis is down")
	}
}
