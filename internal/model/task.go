package model

import (
	"path/filepath"
	"time"

	"taskpulse/internal/deadline"
)

// NoAttachment is embedded in calendar events for tasks without a file.
const NoAttachment = "none"

type Task struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Category        string    `json:"category"`
	Deadline        string    `json:"deadline"` // RFC3339, normalized on write
	Completed       bool      `json:"completed"`
	FilePath        string    `json:"file_path,omitempty"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Due parses the stored deadline.
func (t *Task) Due() (time.Time, error) {
	return deadline.Parse(t.Deadline)
}

// AttachmentName returns the attached file's base name or NoAttachment.
func (t *Task) AttachmentName() string {
	if t.FilePath == "" {
		return NoAttachment
	}
	return filepath.Base(t.FilePath)
}

// HasEvent reports whether the task is mirrored to a calendar event.
func (t *Task) HasEvent() bool {
	return t.ExternalEventID != ""
}
