package entity

import "time"

// Notification is an outbox record consumed by the external mail collaborator.
type Notification struct {
	ID           string     `json:"id"`
	ClaimID      string     `json:"claim_id"`
	RecipientID  string     `json:"recipient_id"`
	Kind         string     `json:"kind"`
	Message      string     `json:"message"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
