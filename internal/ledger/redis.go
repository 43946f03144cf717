package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskpulse/pkg/clock"
)

// minTTL 截止时间已过很久时仍给 key 一个短暂的有效期
const minTTL = time.Minute

// Redis stores dedup entries as keys that expire at deadline + retention,
// so restarts and multiple worker replicas share one ledger.
type Redis struct {
	rdb       *redis.Client
	retention time.Duration
	clock     clock.Clock
	logger    *zap.Logger
}

func NewRedis(rdb *redis.Client, retention time.Duration, clk clock.Clock, logger *zap.Logger) *Redis {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, retention: retention, clock: clk, logger: logger}
}

func (r *Redis) ttl(deadline time.Time) time.Duration {
	ttl := deadline.Add(r.retention).Sub(r.clock.Now())
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

func (r *Redis) HasNotified(ctx context.Context, taskID string, deadline time.Time) (bool, error) {
	n, err := r.rdb.Exists(ctx, Key(taskID, deadline)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger exists: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) MarkNotified(ctx context.Context, taskID string, deadline time.Time) error {
	// 已存在时不刷新 TTL
	if err := r.rdb.SetNX(ctx, Key(taskID, deadline), r.clock.Now().Unix(), r.ttl(deadline)).Err(); err != nil {
		return fmt.Errorf("ledger mark: %w", err)
	}
	return nil
}

func (r *Redis) TryClaim(ctx context.Context, taskID string, deadline time.Time) (bool, error) {
	key := Key(taskID, deadline)
	ok, err := r.rdb.SetNX(ctx, key, r.clock.Now().Unix(), r.ttl(deadline)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger claim: %w", err)
	}
	if !ok {
		r.logger.Debug("Reminder already claimed",
			zap.String("task_id", taskID),
			zap.String("dedup_key", key),
		)
	}
	return ok, nil
}

// Purge deletes keys whose deadline is older than the retention. Keys normally
// expire on their own; this catches entries written without a TTL.
func (r *Redis) Purge(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		_, deadline, ok := parseKey(key)
		if !ok {
			continue
		}
		if deadline.Add(r.retention).After(now) {
			continue
		}
		n, err := r.rdb.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("ledger purge %s: %w", key, err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("ledger scan: %w", err)
	}
	return removed, nil
}
