package model

import "time"

// NotificationLog records one delivery attempt of a reminder to one chat.
type NotificationLog struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	OwnerID   string    `json:"owner_id"`
	ChatID    int64     `json:"chat_id"`
	Deadline  string    `json:"deadline"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
