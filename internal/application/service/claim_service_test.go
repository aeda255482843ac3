package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/pkg/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type claimFixture struct {
	svc       ClaimService
	claims    *memClaimRepo
	policies  *fakePolicies
	directory *fakeDirectory
	events    *recordingPublisher
	clock     *clock.MockClock
}

func newClaimFixture(t *testing.T) *claimFixture {
	t.Helper()

	dir := newFakeDirectory()
	dir.companies["acme"] = &entity.Company{ID: "acme", Name: "Acme", CurrencyCode: "USD", DefaultApproverID: "boss"}
	dir.companies["solo"] = &entity.Company{ID: "solo", Name: "Solo", CurrencyCode: "EUR"}
	for _, u := range []*entity.User{
		{ID: "emp", CompanyID: "acme", Role: entity.RoleEmployee},
		{ID: "A", CompanyID: "acme", Role: entity.RoleManager},
		{ID: "B", CompanyID: "acme", Role: entity.RoleManager},
		{ID: "M", CompanyID: "acme", Role: entity.RoleManager},
		{ID: "boss", CompanyID: "acme", Role: entity.RoleAdmin},
		{ID: "deputy", CompanyID: "acme", Role: entity.RoleAdmin},
		{ID: "stranger", CompanyID: "acme", Role: entity.RoleEmployee},
		{ID: "solo-emp", CompanyID: "solo", Role: entity.RoleEmployee},
	} {
		dir.users[u.ID] = u
	}

	f := &claimFixture{
		claims:    newMemClaimRepo(),
		policies:  &fakePolicies{policies: map[string]*approval.Policy{}},
		directory: dir,
		events:    &recordingPublisher{},
		clock:     clock.NewMockClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.svc = NewClaimService(f.claims, f.policies, f.directory, passthroughTx{}, f.events, f.clock, nopLogger{})
	return f
}

func (f *claimFixture) draft(t *testing.T, owner string) *entity.Claim {
	t.Helper()
	claim, err := f.svc.Create(context.Background(), owner, ClaimInput{
		Description:  "Client dinner",
		Category:     "meal",
		Amount:       decimal.RequireFromString("120.50"),
		CurrencyCode: "usd",
	})
	require.NoError(t, err)
	return claim
}

func (f *claimFixture) submitted(t *testing.T, owner string) *entity.Claim {
	t.Helper()
	claim, err := f.svc.Submit(context.Background(), f.draft(t, owner).ID, owner)
	require.NoError(t, err)
	return claim
}

func TestCreate(t *testing.T) {
	f := newClaimFixture(t)

	claim := f.draft(t, "emp")
	assert.Equal(t, entity.StatusDraft, claim.Status)
	assert.Equal(t, "acme", claim.CompanyID)
	assert.Equal(t, "USD", claim.CurrencyCode)
	assert.Equal(t, entity.CategoryMeal, claim.Category)
	assert.Equal(t, int64(1), claim.Version)
	assert.NotEmpty(t, claim.ID)
}

func TestCreate_Validation(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   ClaimInput
	}{
		{"zero amount", ClaimInput{Description: "x", Amount: decimal.Zero, CurrencyCode: "USD"}},
		{"negative amount", ClaimInput{Description: "x", Amount: decimal.NewFromInt(-5), CurrencyCode: "USD"}},
		{"unknown currency", ClaimInput{Description: "x", Amount: decimal.NewFromInt(5), CurrencyCode: "DOLLARS"}},
		{"unknown category", ClaimInput{Description: "x", Amount: decimal.NewFromInt(5), CurrencyCode: "USD", Category: "YACHT"}},
		{"blank description", ClaimInput{Description: "  ", Amount: decimal.NewFromInt(5), CurrencyCode: "USD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, "emp", tt.in)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}

	_, err := f.svc.Create(ctx, "ghost", ClaimInput{Description: "x", Amount: decimal.NewFromInt(5), CurrencyCode: "USD"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateDraftAndDelete(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	claim := f.draft(t, "emp")

	_, err := f.svc.UpdateDraft(ctx, claim.ID, "stranger", ClaimInput{Description: "x", Amount: decimal.NewFromInt(1), CurrencyCode: "USD"})
	assert.True(t, errors.Is(err, ErrUnauthorized))

	updated, err := f.svc.UpdateDraft(ctx, claim.ID, "emp", ClaimInput{
		Description:  "Taxi",
		Category:     entity.CategoryTransport,
		Amount:       decimal.NewFromInt(30),
		CurrencyCode: "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, "Taxi", updated.Description)
	assert.Equal(t, int64(2), updated.Version)

	assert.True(t, errors.Is(f.svc.Delete(ctx, claim.ID, "stranger"), ErrUnauthorized))
	require.NoError(t, f.svc.Delete(ctx, claim.ID, "emp"))
	assert.Nil(t, f.claims.stored(claim.ID))

	_, err = f.svc.Get(ctx, claim.ID, "emp")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateDraft_RejectsSubmittedClaim(t *testing.T) {
	f := newClaimFixture(t)
	claim := f.submitted(t, "emp")

	_, err := f.svc.UpdateDraft(context.Background(), claim.ID, "emp", ClaimInput{Description: "x", Amount: decimal.NewFromInt(1), CurrencyCode: "USD"})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, errors.Is(f.svc.Delete(context.Background(), claim.ID, "emp"), ErrValidation))
}

func TestSubmit_NoPolicyUsesDefaultApprover(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	claim := f.submitted(t, "emp")
	assert.Equal(t, entity.StatusSubmitted, claim.Status)
	assert.Equal(t, "boss", claim.CurrentApproverID)
	require.NotNil(t, claim.SubmittedAt)
	require.Len(t, claim.History, 1)
	assert.Equal(t, entity.ActionSubmitted, claim.History[0].Action)

	approved, err := f.svc.Act(ctx, claim.ID, "boss", "approved", "ok")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, approved.Status)
	assert.Empty(t, approved.CurrentApproverID)
	assert.NotNil(t, approved.DecidedAt)
	assert.Equal(t, []event.Type{event.TypeClaimSubmitted, event.TypeClaimApproved}, f.events.types())
}

func TestSubmit_DefaultApproverNeverOwnClaim(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	claim := f.submitted(t, "boss")
	assert.Equal(t, entity.StatusSubmitted, claim.Status)
	assert.Equal(t, "deputy", claim.CurrentApproverID)

	_, err := f.svc.Act(ctx, claim.ID, "boss", entity.ActionApproved, "")
	assert.True(t, errors.Is(err, ErrUnauthorized), "admins may not approve their own claims: %v", err)
	assert.Equal(t, entity.StatusSubmitted, f.claims.stored(claim.ID).Status)

	approved, err := f.svc.Act(ctx, claim.ID, "deputy", entity.ActionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, approved.Status)
}

func TestSubmit_NoApproverAnywhereAutoApproves(t *testing.T) {
	f := newClaimFixture(t)

	claim := f.submitted(t, "solo-emp")
	assert.Equal(t, entity.StatusApproved, claim.Status)
	assert.Empty(t, claim.CurrentApproverID)
	assert.NotNil(t, claim.DecidedAt)
	assert.Equal(t, []event.Type{event.TypeClaimApproved}, f.events.types())

	stored := f.claims.stored(claim.ID)
	assert.Equal(t, entity.StatusApproved, stored.Status)
	assert.Len(t, stored.History, 1)
}

func TestSubmit_Guards(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	claim := f.draft(t, "emp")

	_, err := f.svc.Submit(ctx, claim.ID, "stranger")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = f.svc.Submit(ctx, claim.ID, "emp")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, claim.ID, "emp")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = f.svc.Submit(ctx, "missing", "emp")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSubmit_InvalidPolicy(t *testing.T) {
	f := newClaimFixture(t)
	f.policies.policies["emp"] = &approval.Policy{
		SubjectID:    "emp",
		IsSequential: true,
		Approvers:    []approval.Approver{{UserID: "A", Sequence: 1}, {UserID: "B", Sequence: 3}},
	}
	claim := f.draft(t, "emp")

	_, err := f.svc.Submit(context.Background(), claim.ID, "emp")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, entity.StatusDraft, f.claims.stored(claim.ID).Status)
}

func TestSequentialPolicyScenario(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	f.policies.policies["emp"] = &approval.Policy{
		SubjectID: "emp",
		Approvers: []approval.Approver{
			{UserID: "A", IsRequired: false, Sequence: 1},
			{UserID: "B", IsRequired: false, Sequence: 2},
		},
		IsSequential:          true,
		MinApprovalPercentage: 100,
	}

	claim := f.submitted(t, "emp")
	assert.Equal(t, "A", claim.CurrentApproverID)

	_, err := f.svc.Act(ctx, claim.ID, "B", entity.ActionApproved, "")
	assert.True(t, errors.Is(err, ErrUnauthorized), "B is not yet the current approver")

	claim, err = f.svc.Act(ctx, claim.ID, "A", entity.ActionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitted, claim.Status)
	assert.Equal(t, "B", claim.CurrentApproverID)

	claim, err = f.svc.Act(ctx, claim.ID, "B", entity.ActionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, claim.Status)
	assert.Len(t, claim.History, 3)
	assert.Equal(t, int64(4), claim.Version)

	assert.Equal(t, []event.Type{
		event.TypeClaimSubmitted,
		event.TypeClaimAdvanced,
		event.TypeClaimApproved,
	}, f.events.types())
}

func TestManagerGateAtSubmit(t *testing.T) {
	f := newClaimFixture(t)
	f.policies.policies["emp"] = &approval.Policy{
		SubjectID:             "emp",
		ManagerID:             "M",
		ManagerIsApprover:     true,
		Approvers:             []approval.Approver{{UserID: "A", IsRequired: true, Sequence: 1}},
		MinApprovalPercentage: 100,
	}

	claim := f.submitted(t, "emp")
	assert.Equal(t, "M", claim.CurrentApproverID)

	claim, err := f.svc.Act(context.Background(), claim.ID, "M", entity.ActionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, "A", claim.CurrentApproverID)
}

func TestAct_RejectionIsTerminal(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	f.policies.policies["emp"] = &approval.Policy{
		SubjectID: "emp",
		Approvers: []approval.Approver{
			{UserID: "A", IsRequired: false, Sequence: 1},
			{UserID: "B", IsRequired: true, Sequence: 2},
		},
		MinApprovalPercentage: 50,
	}

	claim := f.submitted(t, "emp")
	require.Equal(t, "B", claim.CurrentApproverID)

	// An admin not named in the policy rejects on behalf of the company
	claim, err := f.svc.Act(ctx, claim.ID, "boss", entity.ActionRejected, "duplicate receipt")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, claim.Status)
	assert.Equal(t, "duplicate receipt", claim.RejectionReason)
	assert.Empty(t, claim.CurrentApproverID)
	assert.NotNil(t, claim.DecidedAt)

	last, ok := claim.LastEvent()
	require.True(t, ok)
	assert.Equal(t, "boss", last.ActorID)

	_, err = f.svc.Act(ctx, claim.ID, "boss", entity.ActionApproved, "")
	assert.True(t, errors.Is(err, ErrValidation))

	evt := f.events.last()
	require.NotNil(t, evt)
	assert.Equal(t, event.TypeClaimRejected, evt.Type)
	assert.Equal(t, "duplicate receipt", evt.GetPayloadString(event.KeyReason))
}

func TestAct_NonRequiredApproverRejectionIsTerminal(t *testing.T) {
	f := newClaimFixture(t)
	f.policies.policies["emp"] = &approval.Policy{
		SubjectID:             "emp",
		Approvers:             []approval.Approver{{UserID: "A", Sequence: 1}, {UserID: "B", IsRequired: true, Sequence: 2}},
		MinApprovalPercentage: 100,
	}
	claim := f.submitted(t, "emp")
	claim, err := f.svc.Act(context.Background(), claim.ID, "B", entity.ActionApproved, "")
	require.NoError(t, err)
	require.Equal(t, "A", claim.CurrentApproverID)

	claim, err = f.svc.Act(context.Background(), claim.ID, "A", entity.ActionRejected, "no")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, claim.Status)
}

func TestAct_UnauthorizedLeavesClaimUnchanged(t *testing.T) {
	f := newClaimFixture(t)
	claim := f.submitted(t, "emp")

	_, err := f.svc.Act(context.Background(), claim.ID, "stranger", entity.ActionApproved, "")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	stored := f.claims.stored(claim.ID)
	assert.Equal(t, claim.Version, stored.Version)
	assert.Len(t, stored.History, 1)
	assert.Equal(t, "boss", stored.CurrentApproverID)
}

func TestAct_Validation(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	draft := f.draft(t, "emp")
	_, err := f.svc.Act(ctx, draft.ID, "boss", entity.ActionApproved, "")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = f.svc.Act(ctx, draft.ID, "boss", "ESCALATE", "")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestAct_PolicyStuckIsFlagged(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	f.policies.policies["emp"] = &approval.Policy{
		SubjectID:             "emp",
		Approvers:             []approval.Approver{{UserID: "A", Sequence: 1}},
		IsSequential:          true,
		MinApprovalPercentage: 100,
	}
	claim := f.submitted(t, "emp")

	// Policy edited after submission to a threshold its list can never meet
	f.policies.policies["emp"].MinApprovalPercentage = 150

	claim, err := f.svc.Act(ctx, claim.ID, "A", entity.ActionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitted, claim.Status)
	assert.Equal(t, "A", claim.CurrentApproverID)
	assert.True(t, claim.PolicyStuck)
	assert.Equal(t, event.TypeClaimPolicyStuck, f.events.last().Type)

	stuck, err := f.svc.ListStuck(ctx, "boss", "acme")
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, claim.ID, stuck[0].ID)

	_, err = f.svc.ListStuck(ctx, "emp", "acme")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	// An admin can still close it out
	claim, err = f.svc.Act(ctx, claim.ID, "boss", entity.ActionRejected, "policy misconfigured")
	require.NoError(t, err)
	assert.False(t, claim.PolicyStuck)
}

func TestAct_StaleVersionConflicts(t *testing.T) {
	f := newClaimFixture(t)
	claim := f.submitted(t, "emp")

	f.claims.beforeUpdate = func(stored *entity.Claim) {
		stored.Version++
	}

	_, err := f.svc.Act(context.Background(), claim.ID, "boss", entity.ActionApproved, "")
	assert.True(t, errors.Is(err, ErrConflict))

	stored := f.claims.stored(claim.ID)
	assert.Equal(t, entity.StatusSubmitted, stored.Status)
	assert.Len(t, stored.History, 1)
}

func TestAct_RacingApproversExactlyOneWins(t *testing.T) {
	f := newClaimFixture(t)
	claim := f.submitted(t, "emp")

	f.claims.readBarrier = &sync.WaitGroup{}
	f.claims.readBarrier.Add(2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	actions := []string{entity.ActionApproved, entity.ActionRejected}
	for i := range actions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Act(context.Background(), claim.ID, "boss", actions[i], "race")
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	stored := f.claims.stored(claim.ID)
	assert.Len(t, stored.History, 2)
	assert.True(t, entity.IsTerminalStatus(stored.Status))
}

func TestGet_Visibility(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	claim := f.submitted(t, "emp")

	for _, viewer := range []string{"emp", "boss"} {
		_, err := f.svc.Get(ctx, claim.ID, viewer)
		assert.NoError(t, err, viewer)
	}
	_, err := f.svc.Get(ctx, claim.ID, "stranger")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestListPendingAndMine(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	f.submitted(t, "emp")
	f.submitted(t, "emp")
	f.draft(t, "emp")

	pending, err := f.svc.ListPending(ctx, "boss")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	mine, err := f.svc.ListMine(ctx, "emp", 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}
