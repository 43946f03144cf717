package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 熔断器状态：0 closed, 1 open, 2 half_open
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half open)",
		},
		[]string{"name"},
	)

	// 扫描周期耗时（秒）
	ScannerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanner_tick_duration_seconds",
			Help:    "Deadline scanner tick duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// 本周期命中窗口的任务数
	ScannerDueTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_due_tasks_total",
			Help: "Tasks evaluated by the deadline scanner by outcome",
		},
		[]string{"outcome"}, // outcome: dispatched, duplicate, malformed, ledger_error
	)

	// 提醒消息发送计数
	NotificationSendCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_send_total",
			Help: "Reminder messages sent per channel attempt",
		},
		[]string{"status"}, // status: delivered, failed
	)

	// 日历镜像操作计数
	CalendarMirrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_mirror_total",
			Help: "Calendar mirror operations by operation and result",
		},
		[]string{"op", "result"}, // result: ok, failed, skipped
	)

	// 日历 API 调用延迟（毫秒）
	CalendarCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calendar_call_latency_ms",
			Help:    "Calendar service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(25, 2, 10), // 25ms to ~12s
		},
		[]string{"op", "status"},
	)

	// Outbox 转发计数
	OutboxRelayCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_relay_total",
			Help: "Outbox events relayed to MQ by result",
		},
		[]string{"result"}, // result: sent, failed
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of slow database queries",
		},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordScannerTick 记录扫描周期耗时
func RecordScannerTick(duration time.Duration) {
	ScannerTickDuration.Observe(duration.Seconds())
}

// IncrementScannerOutcome 增加扫描结果计数
func IncrementScannerOutcome(outcome string) {
	ScannerDueTasks.WithLabelValues(outcome).Inc()
}

// IncrementNotificationSend 增加提醒发送计数
func IncrementNotificationSend(status string) {
	NotificationSendCount.WithLabelValues(status).Inc()
}

// IncrementCalendarMirror 增加日历镜像操作计数
func IncrementCalendarMirror(op, result string) {
	CalendarMirrorCount.WithLabelValues(op, result).Inc()
}

// RecordCalendarCallLatency 记录日历 API 调用延迟
func RecordCalendarCallLatency(op, status string, duration time.Duration) {
	CalendarCallLatency.WithLabelValues(op, status).Observe(float64(duration.Milliseconds()))
}

// IncrementOutboxRelay 增加 outbox 转发计数
func IncrementOutboxRelay(result string) {
	OutboxRelayCount.WithLabelValues(result).Inc()
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

// SetCircuitState 记录熔断器当前状态
func SetCircuitState(name string, state int) {
	CircuitState.WithLabelValues(name).Set(float64(state))
}
