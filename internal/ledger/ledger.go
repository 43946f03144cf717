// Package ledger remembers which (task, deadline) pairs have already produced
// a reminder so the scanner never notifies twice for the same deadline.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const keyPrefix = "notified:"

// DefaultRetention 截止时间过后保留记录的时长
const DefaultRetention = 24 * time.Hour

// Ledger is the notification dedup contract. Entries are keyed by task id and
// deadline, so editing a task's deadline yields a fresh key.
type Ledger interface {
	HasNotified(ctx context.Context, taskID string, deadline time.Time) (bool, error)
	MarkNotified(ctx context.Context, taskID string, deadline time.Time) error
	// TryClaim atomically marks the pair and reports whether this caller was first.
	TryClaim(ctx context.Context, taskID string, deadline time.Time) (bool, error)
	// Purge drops entries whose deadline passed more than the retention ago.
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Key formats the dedup key for a task deadline.
func Key(taskID string, deadline time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, taskID, deadline.Unix())
}

// parseKey 从 key 中取出截止时间
func parseKey(key string) (taskID string, deadline time.Time, ok bool) {
	rest := strings.TrimPrefix(key, keyPrefix)
	if rest == key {
		return "", time.Time{}, false
	}
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", time.Time{}, false
	}
	sec, err := strconv.ParseInt(rest[idx+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return rest[:idx], time.Unix(sec, 0), true
}
