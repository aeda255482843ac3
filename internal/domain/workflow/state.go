package workflow

import "github.com/garyjia/expense-approval/internal/domain/entity"

// State is a claim lifecycle state
type State string

const (
	StateDraft     State = entity.StatusDraft
	StateSubmitted State = entity.StatusSubmitted
	StateApproved  State = entity.StatusApproved
	StateRejected  State = entity.StatusRejected
)

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateRejected
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	switch s {
	case StateDraft, StateSubmitted, StateApproved, StateRejected:
		return true
	}
	return false
}
