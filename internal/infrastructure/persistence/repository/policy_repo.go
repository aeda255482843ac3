package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// PolicyRepository implements port.PolicyRepository
type PolicyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *sql.DB, logger *zap.Logger) *PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// FindBySubject returns the policy bound to an employee, or nil when there is none
func (r *PolicyRepository) FindBySubject(ctx context.Context, subjectID string) (*approval.Policy, error) {
	exec := sqlite.ExecutorFor(ctx, r.db)

	query := `
		SELECT subject_id, company_id, description, manager_id,
			manager_is_approver, is_sequential, min_approval_percentage
		FROM approval_policies
		WHERE subject_id = ?
	`

	var policy approval.Policy
	var managerID sql.NullString
	err := exec.QueryRowContext(ctx, query, subjectID).Scan(
		&policy.SubjectID,
		&policy.CompanyID,
		&policy.Description,
		&managerID,
		&policy.ManagerIsApprover,
		&policy.IsSequential,
		&policy.MinApprovalPercentage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get policy", zap.String("subject_id", subjectID), zap.Error(err))
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	policy.ManagerID = managerID.String

	rows, err := exec.QueryContext(ctx, `
		SELECT user_id, is_required, sequence
		FROM policy_approvers
		WHERE subject_id = ?
		ORDER BY position
	`, subjectID)
	if err != nil {
		r.logger.Error("Failed to get policy approvers", zap.String("subject_id", subjectID), zap.Error(err))
		return nil, fmt.Errorf("failed to get policy approvers: %w", err)
	}
	defer rows.Close()

	policy.Approvers = []approval.Approver{}
	for rows.Next() {
		var a approval.Approver
		if err := rows.Scan(&a.UserID, &a.IsRequired, &a.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan policy approver: %w", err)
		}
		policy.Approvers = append(policy.Approvers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate policy approvers: %w", err)
	}

	return &policy, nil
}

// Save replaces the subject's policy and its approver list atomically
func (r *PolicyRepository) Save(ctx context.Context, policy *approval.Policy) error {
	upsert := `
		INSERT INTO approval_policies (
			subject_id, company_id, description, manager_id,
			manager_is_approver, is_sequential, min_approval_percentage, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			company_id = excluded.company_id,
			description = excluded.description,
			manager_id = excluded.manager_id,
			manager_is_approver = excluded.manager_is_approver,
			is_sequential = excluded.is_sequential,
			min_approval_percentage = excluded.min_approval_percentage,
			updated_at = excluded.updated_at
	`

	return inTransaction(ctx, r.db, func(exec sqlite.Executor) error {
		_, err := exec.ExecContext(ctx, upsert,
			policy.SubjectID,
			policy.CompanyID,
			policy.Description,
			nullString(policy.ManagerID),
			policy.ManagerIsApprover,
			policy.IsSequential,
			policy.MinApprovalPercentage,
			time.Now().UTC(),
		)
		if err != nil {
			r.logger.Error("Failed to save policy", zap.String("subject_id", policy.SubjectID), zap.Error(err))
			return fmt.Errorf("failed to save policy: %w", err)
		}

		if _, err := exec.ExecContext(ctx, `DELETE FROM policy_approvers WHERE subject_id = ?`, policy.SubjectID); err != nil {
			return fmt.Errorf("failed to clear policy approvers: %w", err)
		}

		for i, a := range policy.Approvers {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO policy_approvers (subject_id, position, user_id, is_required, sequence)
				VALUES (?, ?, ?, ?, ?)
			`, policy.SubjectID, i, a.UserID, a.IsRequired, a.Sequence)
			if err != nil {
				return fmt.Errorf("failed to save policy approver %s: %w", a.UserID, err)
			}
		}
		return nil
	})
}

// Verify interface compliance
var _ port.PolicyRepository = (*PolicyRepository)(nil)
