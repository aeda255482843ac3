package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Claim is a single expense reimbursement request.
//
// CurrentApproverID is empty whenever Status is not SUBMITTED. History is
// append-only and ordered by Seq.
type Claim struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	CompanyID         string          `json:"company_id"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	Amount            decimal.Decimal `json:"amount"`
	CurrencyCode      string          `json:"currency_code"`
	ExpenseDate       *time.Time      `json:"expense_date,omitempty"`
	Status            string          `json:"status"`
	CurrentApproverID string          `json:"current_approver_id,omitempty"`
	History           []ApprovalEvent `json:"history"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	DecidedAt         *time.Time      `json:"decided_at,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	PolicyStuck       bool            `json:"policy_stuck"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so that a failed write never leaves a caller
// holding a half-mutated claim.
func (c *Claim) Clone() *Claim {
	cp := *c
	cp.History = append([]ApprovalEvent(nil), c.History...)
	if c.ExpenseDate != nil {
		t := *c.ExpenseDate
		cp.ExpenseDate = &t
	}
	if c.SubmittedAt != nil {
		t := *c.SubmittedAt
		cp.SubmittedAt = &t
	}
	if c.DecidedAt != nil {
		t := *c.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}

// AppendEvent adds an event at the next sequence number and returns it.
func (c *Claim) AppendEvent(actorID, action, comments string, at time.Time) ApprovalEvent {
	evt := ApprovalEvent{
		Seq:       len(c.History) + 1,
		ActorID:   actorID,
		Action:    action,
		Comments:  comments,
		Timestamp: at,
	}
	c.History = append(c.History, evt)
	return evt
}

// LastEvent returns the most recent history entry, if any.
func (c *Claim) LastEvent() (ApprovalEvent, bool) {
	if len(c.History) == 0 {
		return ApprovalEvent{}, false
	}
	return c.History[len(c.History)-1], true
}
