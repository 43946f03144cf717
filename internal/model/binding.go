package model

import "time"

// Unlinked is the owner placeholder for a chat that connected before linking an account.
const Unlinked = ""

// Binding ties an external messaging chat to an internal owner.
type Binding struct {
	ChatID   int64     `json:"chat_id"`
	OwnerID  string    `json:"owner_id,omitempty"`
	LinkedAt time.Time `json:"linked_at"`
}

// Linked reports whether the binding carries a genuine owner.
func (b Binding) Linked() bool {
	return b.OwnerID != Unlinked
}
