package notify

import (
	"fmt"
	"strings"
	"time"

	"taskpulse/internal/deadline"
	"taskpulse/internal/model"
)

const uncategorized = "uncategorized"

// FormatReminder renders the plain-text reminder for a task.
func FormatReminder(task *model.Task, loc *time.Location) string {
	category := strings.TrimSpace(task.Category)
	if category == "" {
		category = uncategorized
	}

	due := task.Deadline
	if t, err := task.Due(); err == nil {
		due = deadline.Human(t, loc)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Reminder: %s\n", task.Title)
	fmt.Fprintf(&b, "Category: %s\n", category)
	fmt.Fprintf(&b, "Due: %s", due)
	return b.String()
}
