package outbox

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"taskpulse/pkg/trace"
)

// InsertEventInTx 在事务中插入事件到 outbox（辅助函数）
// payload 为 map 时自动带上 context 中的 trace_id
func InsertEventInTx(
	ctx context.Context,
	tx pgx.Tx,
	repo *Repository,
	aggregateType string,
	aggregateID string,
	routingKey string,
	payload interface{},
) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if traceID := trace.FromContext(ctx); traceID != "" {
		var m map[string]interface{}
		if json.Unmarshal(payloadJSON, &m) == nil {
			if _, exists := m["trace_id"]; !exists {
				m["trace_id"] = traceID
				if withTrace, err := json.Marshal(m); err == nil {
					payloadJSON = withTrace
				}
			}
		}
	}

	event := &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payloadJSON,
		Status:        StatusPending,
	}

	return repo.InsertEvent(ctx, tx, event)
}
