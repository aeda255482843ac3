package service

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/pkg/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Publisher dispatches domain events without blocking the caller
type Publisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// ClaimInput carries the editable fields of a draft claim
type ClaimInput struct {
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currency_code"`
	ExpenseDate  *time.Time      `json:"expense_date,omitempty"`
}

// ClaimService drives claims through their lifecycle
type ClaimService interface {
	Create(ctx context.Context, actorID string, in ClaimInput) (*entity.Claim, error)
	UpdateDraft(ctx context.Context, claimID, actorID string, in ClaimInput) (*entity.Claim, error)
	Delete(ctx context.Context, claimID, actorID string) error
	Submit(ctx context.Context, claimID, actorID string) (*entity.Claim, error)
	Act(ctx context.Context, claimID, actorID, action, comments string) (*entity.Claim, error)
	Get(ctx context.Context, claimID, actorID string) (*entity.Claim, error)
	ListMine(ctx context.Context, actorID string, limit, offset int) ([]*entity.Claim, error)
	ListPending(ctx context.Context, approverID string) ([]*entity.Claim, error)
	ListStuck(ctx context.Context, actorID, companyID string) ([]*entity.Claim, error)
}

type claimServiceImpl struct {
	claims    port.ClaimRepository
	policies  port.PolicyRepository
	directory port.Directory
	txManager port.TransactionManager
	publisher Publisher
	clock     clock.Clock
	logger    Logger
}

// NewClaimService creates a new ClaimService
func NewClaimService(
	claims port.ClaimRepository,
	policies port.PolicyRepository,
	directory port.Directory,
	txManager port.TransactionManager,
	publisher Publisher,
	clk clock.Clock,
	logger Logger,
) ClaimService {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &claimServiceImpl{
		claims:    claims,
		policies:  policies,
		directory: directory,
		txManager: txManager,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// Create stores a new draft owned by the actor in the actor's company
func (s *claimServiceImpl) Create(ctx context.Context, actorID string, in ClaimInput) (*entity.Claim, error) {
	owner, err := s.directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, classify(err, "look up claim owner")
	}

	in, err = normalizeInput(in)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	claim := &entity.Claim{
		ID:           uuid.NewString(),
		OwnerID:      owner.ID,
		CompanyID:    owner.CompanyID,
		Description:  in.Description,
		Category:     in.Category,
		Amount:       in.Amount,
		CurrencyCode: in.CurrencyCode,
		ExpenseDate:  in.ExpenseDate,
		Status:       entity.StatusDraft,
		History:      []entity.ApprovalEvent{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.claims.Create(ctx, claim); err != nil {
		s.logger.Error("Failed to create claim", "error", err, "owner_id", actorID)
		return nil, classify(err, "create claim")
	}

	s.logger.Info("Claim created", "claim_id", claim.ID, "owner_id", claim.OwnerID)
	return claim, nil
}

// UpdateDraft replaces the editable fields of a draft
func (s *claimServiceImpl) UpdateDraft(ctx context.Context, claimID, actorID string, in ClaimInput) (*entity.Claim, error) {
	claim, err := s.loadOwnedDraft(ctx, claimID, actorID, "edit")
	if err != nil {
		return nil, err
	}

	in, err = normalizeInput(in)
	if err != nil {
		return nil, err
	}

	updated := claim.Clone()
	updated.Description = in.Description
	updated.Category = in.Category
	updated.Amount = in.Amount
	updated.CurrencyCode = in.CurrencyCode
	updated.ExpenseDate = in.ExpenseDate
	updated.UpdatedAt = s.clock.Now()

	if err := s.persist(ctx, claim.Version, updated, nil); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a draft
func (s *claimServiceImpl) Delete(ctx context.Context, claimID, actorID string) error {
	claim, err := s.loadOwnedDraft(ctx, claimID, actorID, "delete")
	if err != nil {
		return err
	}

	if err := s.claims.Delete(ctx, claim.ID, claim.Version); err != nil {
		return classify(err, "delete claim")
	}

	s.logger.Info("Claim deleted", "claim_id", claimID, "owner_id", actorID)
	return nil
}

// Submit moves a draft to Submitted with its first approver, or approves it
// outright when neither the policy nor the company names anyone to ask.
func (s *claimServiceImpl) Submit(ctx context.Context, claimID, actorID string) (*entity.Claim, error) {
	claim, err := s.load(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.OwnerID != actorID {
		return nil, unauthorizedf("only the owner may submit claim %s", claimID)
	}

	machine, err := workflow.ForClaim(claim.Status)
	if err != nil {
		return nil, classify(err, "submit claim")
	}
	if !machine.CanFire(workflow.TriggerSubmit) {
		return nil, validationf("cannot submit a claim in status %s", claim.Status)
	}

	policy, err := s.policies.FindBySubject(ctx, claim.OwnerID)
	if err != nil {
		return nil, classify(err, "look up approval policy")
	}
	if policy != nil {
		if err := policy.Validate(); err != nil {
			return nil, classify(err, "submit claim")
		}
	}

	verdict := approval.Entry(policy)
	approver := verdict.NextApprover
	if approver == "" {
		approver, err = s.directory.DefaultApprover(ctx, claim.CompanyID, claim.OwnerID)
		if err != nil {
			return nil, classify(err, "look up default approver")
		}
	}

	now := s.clock.Now()
	updated := claim.Clone()
	submitted := updated.AppendEvent(actorID, entity.ActionSubmitted, "", now)
	updated.SubmittedAt = &now
	updated.UpdatedAt = now

	trigger := workflow.TriggerSubmit
	if approver == "" {
		trigger = workflow.TriggerAutoApprove
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, classify(err, "submit claim")
	}
	updated.Status = machine.State().String()

	if trigger == workflow.TriggerAutoApprove {
		updated.DecidedAt = &now
		updated.CurrentApproverID = ""
	} else {
		updated.CurrentApproverID = approver
	}

	if err := s.persist(ctx, claim.Version, updated, []entity.ApprovalEvent{submitted}); err != nil {
		return nil, err
	}

	s.logger.Info("Claim submitted",
		"claim_id", claimID,
		"status", updated.Status,
		"approver_id", updated.CurrentApproverID,
		"reason", verdict.Reason,
	)

	if updated.Status == entity.StatusApproved {
		s.publish(ctx, event.TypeClaimApproved, updated, nil)
	} else {
		s.publish(ctx, event.TypeClaimSubmitted, updated, nil)
	}
	return updated, nil
}

// Act records an approval or rejection by the current approver or a company admin
func (s *claimServiceImpl) Act(ctx context.Context, claimID, actorID, action, comments string) (*entity.Claim, error) {
	action = strings.ToUpper(strings.TrimSpace(action))
	if action != entity.ActionApproved && action != entity.ActionRejected {
		return nil, validationf("unknown action %q", action)
	}

	claim, err := s.load(ctx, claimID)
	if err != nil {
		return nil, err
	}

	machine, err := workflow.ForClaim(claim.Status)
	if err != nil {
		return nil, classify(err, "act on claim")
	}
	if !machine.CanFire(workflow.TriggerApprove) {
		return nil, validationf("claim %s is %s, not awaiting approval", claimID, claim.Status)
	}

	if action == entity.ActionApproved && actorID == claim.OwnerID {
		return nil, unauthorizedf("user %s may not approve their own claim %s", actorID, claimID)
	}
	if actorID != claim.CurrentApproverID {
		admin, err := s.directory.IsAdmin(ctx, actorID, claim.CompanyID)
		if err != nil {
			return nil, classify(err, "check admin capability")
		}
		if !admin {
			return nil, unauthorizedf("user %s may not act on claim %s", actorID, claimID)
		}
	}

	now := s.clock.Now()
	updated := claim.Clone()
	recorded := updated.AppendEvent(actorID, action, comments, now)
	updated.UpdatedAt = now

	var evtType event.Type
	var verdict approval.Verdict

	if action == entity.ActionRejected {
		if err := machine.Fire(ctx, workflow.TriggerReject); err != nil {
			return nil, classify(err, "reject claim")
		}
		updated.RejectionReason = comments
		updated.CurrentApproverID = ""
		updated.DecidedAt = &now
		updated.PolicyStuck = false
		evtType = event.TypeClaimRejected
	} else {
		policy, err := s.policies.FindBySubject(ctx, claim.OwnerID)
		if err != nil {
			return nil, classify(err, "look up approval policy")
		}
		verdict = approval.Resolve(updated.History, policy)

		switch {
		case verdict.Approved():
			err = machine.Fire(ctx, workflow.TriggerApprove)
			updated.CurrentApproverID = ""
			updated.DecidedAt = &now
			updated.PolicyStuck = false
			evtType = event.TypeClaimApproved
		case verdict.Stuck():
			// Nobody left to ask: keep the current approver and flag for repair
			err = machine.Fire(ctx, workflow.TriggerAdvance)
			updated.PolicyStuck = true
			evtType = event.TypeClaimPolicyStuck
		default:
			err = machine.Fire(ctx, workflow.TriggerAdvance)
			updated.CurrentApproverID = verdict.NextApprover
			updated.PolicyStuck = false
			evtType = event.TypeClaimAdvanced
		}
		if err != nil {
			return nil, classify(err, "approve claim")
		}
	}
	updated.Status = machine.State().String()

	if err := s.persist(ctx, claim.Version, updated, []entity.ApprovalEvent{recorded}); err != nil {
		return nil, err
	}

	if evtType == event.TypeClaimPolicyStuck {
		s.logger.Warn("Claim approval policy cannot progress",
			"claim_id", claimID,
			"owner_id", claim.OwnerID,
			"approver_id", updated.CurrentApproverID,
			"reason", verdict.Reason,
		)
	} else {
		s.logger.Info("Claim action recorded",
			"claim_id", claimID,
			"actor_id", actorID,
			"action", action,
			"status", updated.Status,
			"approver_id", updated.CurrentApproverID,
		)
	}

	s.publish(ctx, evtType, updated, map[string]interface{}{
		event.KeyActorID: actorID,
		event.KeyReason:  reasonFor(action, comments, verdict),
	})
	return updated, nil
}

// Get returns a claim visible to the actor
func (s *claimServiceImpl) Get(ctx context.Context, claimID, actorID string) (*entity.Claim, error) {
	claim, err := s.load(ctx, claimID)
	if err != nil {
		return nil, err
	}

	if claim.OwnerID == actorID || claim.CurrentApproverID == actorID {
		return claim, nil
	}
	for _, e := range claim.History {
		if e.ActorID == actorID {
			return claim, nil
		}
	}

	admin, err := s.directory.IsAdmin(ctx, actorID, claim.CompanyID)
	if err != nil {
		return nil, classify(err, "check admin capability")
	}
	if !admin {
		return nil, unauthorizedf("user %s may not view claim %s", actorID, claimID)
	}
	return claim, nil
}

// ListMine returns the actor's own claims
func (s *claimServiceImpl) ListMine(ctx context.Context, actorID string, limit, offset int) ([]*entity.Claim, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	claims, err := s.claims.ListByOwner(ctx, actorID, limit, offset)
	if err != nil {
		return nil, classify(err, "list claims")
	}
	return claims, nil
}

// ListPending returns claims waiting on the approver
func (s *claimServiceImpl) ListPending(ctx context.Context, approverID string) ([]*entity.Claim, error) {
	claims, err := s.claims.ListPendingFor(ctx, approverID)
	if err != nil {
		return nil, classify(err, "list pending claims")
	}
	return claims, nil
}

// ListStuck returns the company's claims whose policy cannot progress. Admins only.
func (s *claimServiceImpl) ListStuck(ctx context.Context, actorID, companyID string) ([]*entity.Claim, error) {
	admin, err := s.directory.IsAdmin(ctx, actorID, companyID)
	if err != nil {
		return nil, classify(err, "check admin capability")
	}
	if !admin {
		return nil, unauthorizedf("user %s does not administer company %s", actorID, companyID)
	}

	claims, err := s.claims.ListStuck(ctx, companyID)
	if err != nil {
		return nil, classify(err, "list stuck claims")
	}
	return claims, nil
}

func (s *claimServiceImpl) load(ctx context.Context, claimID string) (*entity.Claim, error) {
	claim, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, classify(err, "load claim "+claimID)
	}
	return claim, nil
}

func (s *claimServiceImpl) loadOwnedDraft(ctx context.Context, claimID, actorID, verb string) (*entity.Claim, error) {
	claim, err := s.load(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.OwnerID != actorID {
		return nil, unauthorizedf("only the owner may %s claim %s", verb, claimID)
	}
	if claim.Status != entity.StatusDraft {
		return nil, validationf("cannot %s a claim in status %s", verb, claim.Status)
	}
	return claim, nil
}

// persist writes the claim and its new history records atomically against expectedVersion
func (s *claimServiceImpl) persist(ctx context.Context, expectedVersion int64, claim *entity.Claim, events []entity.ApprovalEvent) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.claims.Update(txCtx, claim, expectedVersion); err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		return s.claims.AppendEvents(txCtx, claim.ID, events)
	})
	if err != nil {
		if errors.Is(err, port.ErrVersionConflict) {
			s.logger.Warn("Claim changed concurrently", "claim_id", claim.ID, "expected_version", expectedVersion)
		} else {
			s.logger.Error("Failed to save claim", "error", err, "claim_id", claim.ID)
		}
		return classify(err, "save claim "+claim.ID)
	}
	return nil
}

func (s *claimServiceImpl) publish(ctx context.Context, t event.Type, claim *entity.Claim, extra map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	payload := map[string]interface{}{
		event.KeyOwnerID:    claim.OwnerID,
		event.KeyCompanyID:  claim.CompanyID,
		event.KeyApproverID: claim.CurrentApproverID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.publisher.DispatchAsync(ctx, event.NewEvent(t, claim.ID, payload))
}

func normalizeInput(in ClaimInput) (ClaimInput, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return in, validationf("description is required")
	}
	if !in.Amount.IsPositive() {
		return in, validationf("amount must be positive, got %s", in.Amount)
	}

	code, ok := entity.NormalizeCurrency(in.CurrencyCode)
	if !ok {
		return in, validationf("unknown currency code %q", in.CurrencyCode)
	}
	in.CurrencyCode = code

	in.Category = strings.ToUpper(strings.TrimSpace(in.Category))
	if in.Category == "" {
		in.Category = entity.CategoryOther
	}
	if !entity.IsValidCategory(in.Category) {
		return in, validationf("unknown category %q", in.Category)
	}
	return in, nil
}

func reasonFor(action, comments string, verdict approval.Verdict) string {
	if action == entity.ActionRejected {
		return comments
	}
	return verdict.Reason
}
