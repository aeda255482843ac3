package approval

import (
	"fmt"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Verdict is the outcome of evaluating a claim's history against its policy
type Verdict struct {
	Status       string `json:"status"`
	NextApprover string `json:"next_approver,omitempty"`
	Reason       string `json:"reason"`
}

// Approved reports whether the verdict finalizes the claim
func (v Verdict) Approved() bool {
	return v.Status == entity.StatusApproved
}

// Stuck reports whether the claim is pending with nobody left to ask
func (v Verdict) Stuck() bool {
	return v.Status == entity.StatusSubmitted && v.NextApprover == ""
}

// Entry evaluates the policy for a freshly submitted claim
func Entry(policy *Policy) Verdict {
	return Resolve(nil, policy)
}

// Resolve decides whether a claim is approved or who must act next.
// It is a pure function of its arguments; rules are evaluated in a fixed order and
// the first one that applies decides the verdict.
func Resolve(history []entity.ApprovalEvent, policy *Policy) Verdict {
	approved := entity.ApprovedBy(history)

	for _, rule := range rules {
		if v, ok := rule(approved, policy); ok {
			return v
		}
	}

	// rule 5 always matches; unreachable
	return pending("", "no rule matched")
}

type rule func(approved map[string]bool, policy *Policy) (Verdict, bool)

var rules = []rule{
	noPolicy,
	managerGate,
	requiredApprovers,
	percentageThreshold,
	emptyApproverList,
}

func noPolicy(approved map[string]bool, policy *Policy) (Verdict, bool) {
	if policy != nil {
		return Verdict{}, false
	}
	if len(approved) > 0 {
		return Verdict{Status: entity.StatusApproved, Reason: "no policy bound; single approval recorded"}, true
	}
	return pending("", "no policy bound; awaiting default approver"), true
}

func managerGate(approved map[string]bool, policy *Policy) (Verdict, bool) {
	if !policy.HasManagerGate() || approved[policy.ManagerID] {
		return Verdict{}, false
	}
	return pending(policy.ManagerID, "manager approval required"), true
}

func requiredApprovers(approved map[string]bool, policy *Policy) (Verdict, bool) {
	for _, a := range policy.bySequence() {
		if a.IsRequired && !approved[a.UserID] {
			return pending(a.UserID, "required approver pending"), true
		}
	}
	return Verdict{}, false
}

func percentageThreshold(approved map[string]bool, policy *Policy) (Verdict, bool) {
	total := len(policy.Approvers)
	if total == 0 {
		return Verdict{}, false
	}

	count := 0
	for _, a := range policy.Approvers {
		if approved[a.UserID] {
			count++
		}
	}
	needed := ceilPercent(total, policy.MinApprovalPercentage)

	if count >= needed {
		return Verdict{
			Status: entity.StatusApproved,
			Reason: fmt.Sprintf("threshold met: %d of %d approvals, %d needed", count, total, needed),
		}, true
	}

	candidates := policy.Approvers
	if policy.IsSequential {
		candidates = policy.bySequence()
	}
	for _, a := range candidates {
		if !approved[a.UserID] {
			return pending(a.UserID, fmt.Sprintf("threshold not met: %d of %d approvals, %d needed", count, total, needed)), true
		}
	}

	return pending("", fmt.Sprintf("approvers exhausted below threshold: %d of %d approvals, %d needed", count, total, needed)), true
}

func emptyApproverList(_ map[string]bool, _ *Policy) (Verdict, bool) {
	return Verdict{Status: entity.StatusApproved, Reason: "no further approvers configured"}, true
}

func pending(next, reason string) Verdict {
	return Verdict{Status: entity.StatusSubmitted, NextApprover: next, Reason: reason}
}

// ceilPercent returns ceil(total * pct / 100) in integer arithmetic
func ceilPercent(total, pct int) int {
	return (total*pct + 99) / 100
}
