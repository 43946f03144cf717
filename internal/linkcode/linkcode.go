// Package linkcode issues single-use codes that let a chat prove which owner
// asked to link it. The app issues a code to the signed-in owner; the chat
// redeems it with /link <code> (or the /start deep link). A code works once
// and expires after TTL.
package linkcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 10 * time.Minute
	keyPrefix  = "linkcode:"
)

// Store issues and redeems link codes.
type Store interface {
	Issue(ctx context.Context, ownerID string) (string, error)
	// Redeem returns the owner and deletes the code. ok=false means the code
	// is unknown, expired or already used.
	Redeem(ctx context.Context, code string) (ownerID string, ok bool, err error)
}

// newCode 32 位十六进制，符合 Telegram deep link 参数限制
func newCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Redis keeps codes as keys with a TTL; GETDEL makes redemption atomic.
type Redis struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedis(rdb redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Issue(ctx context.Context, ownerID string) (string, error) {
	if ownerID == "" {
		return "", errors.New("link code needs an owner")
	}
	code := newCode()
	if err := r.rdb.Set(ctx, keyPrefix+code, ownerID, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("store link code: %w", err)
	}
	return code, nil
}

func (r *Redis) Redeem(ctx context.Context, code string) (string, bool, error) {
	if code == "" {
		return "", false, nil
	}
	owner, err := r.rdb.GetDel(ctx, keyPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redeem link code: %w", err)
	}
	return owner, true, nil
}

type entry struct {
	owner   string
	expires time.Time
}

// Memory is an in-process Store for single-process setups and tests.
type Memory struct {
	mu    sync.Mutex
	codes map[string]entry
	ttl   time.Duration
	now   func() time.Time
}

func NewMemory(ttl time.Duration, now func() time.Time) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{codes: map[string]entry{}, ttl: ttl, now: now}
}

func (m *Memory) Issue(_ context.Context, ownerID string) (string, error) {
	if ownerID == "" {
		return "", errors.New("link code needs an owner")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	code := newCode()
	m.codes[code] = entry{owner: ownerID, expires: m.now().Add(m.ttl)}
	return code, nil
}

func (m *Memory) Redeem(_ context.Context, code string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.codes[code]
	if !ok {
		return "", false, nil
	}
	delete(m.codes, code)
	if !m.now().Before(e.expires) {
		return "", false, nil
	}
	return e.owner, true, nil
}
