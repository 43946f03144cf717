package calendar

import (
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"taskpulse/internal/model"
)

// TaskIDProperty is the private extended property carrying the task id, used
// to find an event whose id was never stored locally.
const TaskIDProperty = "taskpulse_task_id"

// EventDuration 事件时长固定为一小时
const EventDuration = time.Hour

// BuildEvent maps a task onto a calendar event spanning [deadline, deadline+1h].
func BuildEvent(task *model.Task, loc *time.Location) (*gcal.Event, error) {
	due, err := task.Due()
	if err != nil {
		return nil, err
	}
	if loc != nil {
		due = due.In(loc)
	}

	tz := ""
	if name := due.Location().String(); name != "Local" {
		tz = name
	}

	return &gcal.Event{
		Summary:     task.Title,
		Description: fmt.Sprintf("Task ID: %s\nCategory: %s\nAttachment: %s", task.ID, task.Category, task.AttachmentName()),
		Start: &gcal.EventDateTime{
			DateTime: due.Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &gcal.EventDateTime{
			DateTime: due.Add(EventDuration).Format(time.RFC3339),
			TimeZone: tz,
		},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{TaskIDProperty: task.ID},
		},
	}, nil
}
