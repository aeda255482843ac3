package approval

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidPolicy is returned when a policy cannot be evaluated meaningfully
var ErrInvalidPolicy = errors.New("invalid approval policy")

// Approver is one entry in a policy's approver list
type Approver struct {
	UserID     string `json:"user_id" yaml:"user_id"`
	IsRequired bool   `json:"is_required" yaml:"is_required"`
	Sequence   int    `json:"sequence" yaml:"sequence"`
}

// Policy describes who must approve a subject employee's claims and under what threshold.
// A nil *Policy is meaningful: the subject has no policy bound.
type Policy struct {
	SubjectID             string     `json:"subject_id" yaml:"subject_id"`
	CompanyID             string     `json:"company_id" yaml:"company_id"`
	Description           string     `json:"description" yaml:"description"`
	ManagerID             string     `json:"manager_id,omitempty" yaml:"manager_id"`
	ManagerIsApprover     bool       `json:"manager_is_approver" yaml:"manager_is_approver"`
	Approvers             []Approver `json:"approvers" yaml:"approvers"`
	IsSequential          bool       `json:"is_sequential" yaml:"is_sequential"`
	MinApprovalPercentage int        `json:"min_approval_percentage" yaml:"min_approval_percentage"`
}

// Validate checks the structural constraints a policy must satisfy before it is used
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.SubjectID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidPolicy)
	}
	if p.MinApprovalPercentage < 0 || p.MinApprovalPercentage > 100 {
		return fmt.Errorf("%w: min approval percentage %d outside [0,100]", ErrInvalidPolicy, p.MinApprovalPercentage)
	}

	seen := make(map[string]bool, len(p.Approvers))
	for i, a := range p.Approvers {
		if strings.TrimSpace(a.UserID) == "" {
			return fmt.Errorf("%w: approver %d has no user id", ErrInvalidPolicy, i)
		}
		if seen[a.UserID] {
			return fmt.Errorf("%w: approver %s listed more than once", ErrInvalidPolicy, a.UserID)
		}
		seen[a.UserID] = true
	}

	if p.IsSequential {
		seqs := make([]int, 0, len(p.Approvers))
		for _, a := range p.Approvers {
			seqs = append(seqs, a.Sequence)
		}
		sort.Ints(seqs)
		for i, s := range seqs {
			if s != i+1 {
				return fmt.Errorf("%w: sequential approvers must be numbered 1..%d without gaps", ErrInvalidPolicy, len(seqs))
			}
		}
	}

	return nil
}

// HasManagerGate reports whether the subject's manager must approve first
func (p *Policy) HasManagerGate() bool {
	return p.ManagerIsApprover && p.ManagerID != ""
}

// bySequence returns the approvers ordered by ascending sequence, stable on list order
func (p *Policy) bySequence() []Approver {
	ordered := append([]Approver(nil), p.Approvers...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})
	return ordered
}
