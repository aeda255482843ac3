package entity

import "time"

// ApprovalEvent is one immutable record in a claim's approval history.
type ApprovalEvent struct {
	Seq       int       `json:"seq"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Comments  string    `json:"comments,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ApprovedBy returns the set of actors that have an APPROVED event in history.
func ApprovedBy(history []ApprovalEvent) map[string]bool {
	approved := make(map[string]bool, len(history))
	for _, e := range history {
		if e.Action == ActionApproved {
			approved[e.ActorID] = true
		}
	}
	return approved
}
