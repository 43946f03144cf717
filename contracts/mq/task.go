package mq

// Routing keys
const (
	RoutingTaskMutated = "task.mutated"
	QueueCalendarSync  = "task.mutated.calendar.q"
)

// Task mutation operations
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// TaskMutatedPayload is emitted for every task create/update/delete and
// consumed by the calendar sync worker.
type TaskMutatedPayload struct {
	Op      string `json:"op"` // create / update / delete
	TaskID  string `json:"task_id"`
	OwnerID string `json:"owner_id"`
	// EventID is the calendar event id the task carried at mutation time.
	// Only meaningful for delete, where the task row no longer exists.
	EventID string `json:"event_id,omitempty"`
	// PreviousFilePath is set on update when the attachment was replaced.
	PreviousFilePath string `json:"previous_file_path,omitempty"`
	TraceID          string `json:"trace_id,omitempty"`
}
