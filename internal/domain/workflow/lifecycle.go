package workflow

import (
	"fmt"
	"sync"
)

// claimLifecycle is configured on first use and only read afterwards
var claimLifecycle = sync.OnceValue(newClaimLifecycle)

func newClaimLifecycle() StateMachineBuilder {
	b := NewBuilder()

	b.Configure(StateDraft).
		Permit(TriggerSubmit, StateSubmitted).
		Permit(TriggerAutoApprove, StateApproved)

	b.Configure(StateSubmitted).
		Permit(TriggerAdvance, StateSubmitted).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected)

	b.Configure(StateApproved)
	b.Configure(StateRejected)

	return b
}

// ForClaim returns a lifecycle machine positioned at the given claim status
func ForClaim(status string) (StateMachine, error) {
	state := State(status)
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, status)
	}
	return claimLifecycle().Build(state), nil
}
