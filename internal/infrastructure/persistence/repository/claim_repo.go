package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const claimColumns = `
	id, owner_id, company_id, description, category, amount, currency_code,
	expense_date, status, current_approver_id, submitted_at, decided_at,
	rejection_reason, policy_stuck, version, created_at, updated_at
`

// ClaimRepository implements port.ClaimRepository
type ClaimRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *sql.DB, logger *zap.Logger) *ClaimRepository {
	return &ClaimRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a claim at version 1 together with any history it already carries
func (r *ClaimRepository) Create(ctx context.Context, claim *entity.Claim) error {
	now := time.Now().UTC()
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = now
	}
	if claim.UpdatedAt.IsZero() {
		claim.UpdatedAt = claim.CreatedAt
	}
	claim.Version = 1

	query := `INSERT INTO claims (` + claimColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return inTransaction(ctx, r.db, func(exec sqlite.Executor) error {
		_, err := exec.ExecContext(ctx, query,
			claim.ID,
			claim.OwnerID,
			claim.CompanyID,
			claim.Description,
			claim.Category,
			claim.Amount,
			claim.CurrencyCode,
			nullTime(claim.ExpenseDate),
			claim.Status,
			nullString(claim.CurrentApproverID),
			nullTime(claim.SubmittedAt),
			nullTime(claim.DecidedAt),
			claim.RejectionReason,
			claim.PolicyStuck,
			claim.Version,
			utc(claim.CreatedAt),
			utc(claim.UpdatedAt),
		)
		if err != nil {
			r.logger.Error("Failed to create claim", zap.String("claim_id", claim.ID), zap.Error(err))
			return fmt.Errorf("failed to create claim: %w", err)
		}
		return r.insertEvents(ctx, exec, claim.ID, claim.History)
	})
}

// GetByID loads a claim and its history
func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*entity.Claim, error) {
	exec := sqlite.ExecutorFor(ctx, r.db)
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = ?`

	claim, err := scanClaim(exec.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get claim by ID", zap.String("claim_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}

	if err := r.attachHistory(ctx, exec, []*entity.Claim{claim}); err != nil {
		return nil, err
	}
	return claim, nil
}

// Update writes every mutable column when the stored version equals expectedVersion
func (r *ClaimRepository) Update(ctx context.Context, claim *entity.Claim, expectedVersion int64) error {
	if claim.UpdatedAt.IsZero() {
		claim.UpdatedAt = time.Now().UTC()
	}

	query := `
		UPDATE claims SET
			description = ?, category = ?, amount = ?, currency_code = ?,
			expense_date = ?, status = ?, current_approver_id = ?,
			submitted_at = ?, decided_at = ?, rejection_reason = ?,
			policy_stuck = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	exec := sqlite.ExecutorFor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query,
		claim.Description,
		claim.Category,
		claim.Amount,
		claim.CurrencyCode,
		nullTime(claim.ExpenseDate),
		claim.Status,
		nullString(claim.CurrentApproverID),
		nullTime(claim.SubmittedAt),
		nullTime(claim.DecidedAt),
		claim.RejectionReason,
		claim.PolicyStuck,
		utc(claim.UpdatedAt),
		claim.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update claim", zap.String("claim_id", claim.ID), zap.Error(err))
		return fmt.Errorf("failed to update claim: %w", err)
	}

	if err := r.checkAffected(ctx, exec, result, claim.ID); err != nil {
		return err
	}
	claim.Version = expectedVersion + 1
	return nil
}

// AppendEvents inserts history rows. A duplicate sequence number means a
// concurrent writer got there first and is reported as a version conflict.
func (r *ClaimRepository) AppendEvents(ctx context.Context, claimID string, events []entity.ApprovalEvent) error {
	if len(events) == 0 {
		return nil
	}
	return inTransaction(ctx, r.db, func(exec sqlite.Executor) error {
		return r.insertEvents(ctx, exec, claimID, events)
	})
}

func (r *ClaimRepository) insertEvents(ctx context.Context, exec sqlite.Executor, claimID string, events []entity.ApprovalEvent) error {
	query := `
		INSERT INTO claim_events (claim_id, seq, actor_id, action, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, e := range events {
		_, err := exec.ExecContext(ctx, query, claimID, e.Seq, e.ActorID, e.Action, e.Comments, utc(e.Timestamp))
		if isConstraintViolation(err) {
			return fmt.Errorf("history seq %d already recorded for claim %s: %w", e.Seq, claimID, port.ErrVersionConflict)
		}
		if err != nil {
			r.logger.Error("Failed to append claim event",
				zap.String("claim_id", claimID),
				zap.Int("seq", e.Seq),
				zap.Error(err))
			return fmt.Errorf("failed to append claim event: %w", err)
		}
	}
	return nil
}

// Delete removes a claim when the stored version equals expectedVersion
func (r *ClaimRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	exec := sqlite.ExecutorFor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `DELETE FROM claims WHERE id = ? AND version = ?`, id, expectedVersion)
	if err != nil {
		r.logger.Error("Failed to delete claim", zap.String("claim_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete claim: %w", err)
	}
	return r.checkAffected(ctx, exec, result, id)
}

// checkAffected tells a missing row apart from a stale version when a guarded write touched nothing
func (r *ClaimRepository) checkAffected(ctx context.Context, exec sqlite.Executor, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = exec.QueryRowContext(ctx, `SELECT 1 FROM claims WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check claim existence: %w", err)
	}
	return port.ErrVersionConflict
}

// ListByOwner returns the owner's claims, newest first
func (r *ClaimRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*entity.Claim, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + claimColumns + ` FROM claims WHERE owner_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	return r.list(ctx, "list claims by owner", query, ownerID, limit, offset)
}

// ListPendingFor returns submitted claims waiting on approverID, oldest submission first
func (r *ClaimRepository) ListPendingFor(ctx context.Context, approverID string) ([]*entity.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE current_approver_id = ? AND status = ? ORDER BY submitted_at, id`
	return r.list(ctx, "list pending claims", query, approverID, entity.StatusSubmitted)
}

// ListStuck returns the company's submitted claims that the policy can no longer advance
func (r *ClaimRepository) ListStuck(ctx context.Context, companyID string) ([]*entity.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE company_id = ? AND status = ? AND policy_stuck = 1 ORDER BY submitted_at, id`
	return r.list(ctx, "list stuck claims", query, companyID, entity.StatusSubmitted)
}

// CountActions counts history events of one action by an actor since a point in time
func (r *ClaimRepository) CountActions(ctx context.Context, actorID, action string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM claim_events WHERE actor_id = ? AND action = ? AND created_at >= ?`

	var count int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, actorID, action, utc(since)).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count actions",
			zap.String("actor_id", actorID),
			zap.String("action", action),
			zap.Error(err))
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return count, nil
}

func (r *ClaimRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*entity.Claim, error) {
	exec := sqlite.ExecutorFor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	var claims []*entity.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	rows.Close()

	if err := r.attachHistory(ctx, exec, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// attachHistory loads the history of every claim in one query
func (r *ClaimRepository) attachHistory(ctx context.Context, exec sqlite.Executor, claims []*entity.Claim) error {
	if len(claims) == 0 {
		return nil
	}

	byID := make(map[string]*entity.Claim, len(claims))
	args := make([]interface{}, 0, len(claims))
	for _, c := range claims {
		c.History = []entity.ApprovalEvent{}
		byID[c.ID] = c
		args = append(args, c.ID)
	}

	query := `
		SELECT claim_id, seq, actor_id, action, comments, created_at
		FROM claim_events
		WHERE claim_id IN (` + placeholders(len(args)) + `)
		ORDER BY claim_id, seq
	`
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to load claim history", zap.Error(err))
		return fmt.Errorf("failed to load claim history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var claimID string
		var e entity.ApprovalEvent
		if err := rows.Scan(&claimID, &e.Seq, &e.ActorID, &e.Action, &e.Comments, &e.Timestamp); err != nil {
			return fmt.Errorf("failed to scan claim event: %w", err)
		}
		if c, ok := byID[claimID]; ok {
			c.History = append(c.History, e)
		}
	}
	return rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClaim(row rowScanner) (*entity.Claim, error) {
	var claim entity.Claim
	var expenseDate, submittedAt, decidedAt sql.NullTime
	var approver sql.NullString

	err := row.Scan(
		&claim.ID,
		&claim.OwnerID,
		&claim.CompanyID,
		&claim.Description,
		&claim.Category,
		&claim.Amount,
		&claim.CurrencyCode,
		&expenseDate,
		&claim.Status,
		&approver,
		&submittedAt,
		&decidedAt,
		&claim.RejectionReason,
		&claim.PolicyStuck,
		&claim.Version,
		&claim.CreatedAt,
		&claim.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	claim.ExpenseDate = timePtr(expenseDate)
	claim.SubmittedAt = timePtr(submittedAt)
	claim.DecidedAt = timePtr(decidedAt)
	claim.CurrentApproverID = approver.String
	return &claim, nil
}

// Verify interface compliance
var _ port.ClaimRepository = (*ClaimRepository)(nil)
