package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

var (
	// ErrNotFound is returned by repositories when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a write is based on a stale version
	ErrVersionConflict = errors.New("version conflict")
)

// ClaimRepository defines persistence operations for Claim with optimistic concurrency
type ClaimRepository interface {
	// Create inserts a new claim at version 1
	Create(ctx context.Context, claim *entity.Claim) error

	// GetByID loads a claim together with its history
	GetByID(ctx context.Context, id string) (*entity.Claim, error)

	// Update writes the claim if its stored version equals expectedVersion and
	// bumps claim.Version on success. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, claim *entity.Claim, expectedVersion int64) error

	// AppendEvents adds history records; (claim_id, seq) is unique
	AppendEvents(ctx context.Context, claimID string, events []entity.ApprovalEvent) error

	// Delete removes a claim if its stored version equals expectedVersion
	Delete(ctx context.Context, id string, expectedVersion int64) error

	// ListByOwner returns the owner's claims, newest first
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*entity.Claim, error)

	// ListPendingFor returns submitted claims whose current approver is approverID
	ListPendingFor(ctx context.Context, approverID string) ([]*entity.Claim, error)

	// ListStuck returns submitted claims of a company flagged as policy stuck
	ListStuck(ctx context.Context, companyID string) ([]*entity.Claim, error)

	// CountActions counts history events of the given action by actor since a point in time
	CountActions(ctx context.Context, actorID, action string, since time.Time) (int, error)
}

// PolicyRepository looks up approval policies by subject employee
type PolicyRepository interface {
	// FindBySubject returns nil, nil when no policy is bound
	FindBySubject(ctx context.Context, subjectID string) (*approval.Policy, error)

	// Save inserts or replaces the policy for its subject
	Save(ctx context.Context, policy *approval.Policy) error
}

// Directory answers identity and authorization questions
type Directory interface {
	GetUser(ctx context.Context, id string) (*entity.User, error)
	GetCompany(ctx context.Context, id string) (*entity.Company, error)

	// IsAdmin reports whether the actor administers the company
	IsAdmin(ctx context.Context, actorID, companyID string) (bool, error)

	// DefaultApprover never returns excludeUserID, so nobody is routed their own
	// claim. It returns "" when the company has nobody else to fall back on.
	DefaultApprover(ctx context.Context, companyID, excludeUserID string) (string, error)

	SaveCompany(ctx context.Context, company *entity.Company) error
	SaveUser(ctx context.Context, user *entity.User) error
}

// NotificationRepository defines persistence operations for the notification outbox
type NotificationRepository interface {
	Create(ctx context.Context, notification *entity.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*entity.Notification, error)
	MarkSent(ctx context.Context, id string) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
