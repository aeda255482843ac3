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

// DirectoryRepository implements port.Directory over the companies and users tables
type DirectoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sql.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// GetUser retrieves a user by ID
func (r *DirectoryRepository) GetUser(ctx context.Context, id string) (*entity.User, error) {
	query := `SELECT id, company_id, name, email, role, created_at FROM users WHERE id = ?`

	var user entity.User
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.CompanyID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("user_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetCompany retrieves a company by ID
func (r *DirectoryRepository) GetCompany(ctx context.Context, id string) (*entity.Company, error) {
	query := `SELECT id, name, currency_code, default_approver_id, created_at FROM companies WHERE id = ?`

	var company entity.Company
	var defaultApprover sql.NullString
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&company.ID,
		&company.Name,
		&company.CurrencyCode,
		&defaultApprover,
		&company.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get company", zap.String("company_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	company.DefaultApproverID = defaultApprover.String
	return &company, nil
}

// IsAdmin reports whether actorID is an ADMIN of companyID
func (r *DirectoryRepository) IsAdmin(ctx context.Context, actorID, companyID string) (bool, error) {
	query := `SELECT COUNT(*) FROM users WHERE id = ? AND company_id = ? AND role = ?`

	var count int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, actorID, companyID, entity.RoleAdmin).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to check admin role", zap.String("user_id", actorID), zap.Error(err))
		return false, fmt.Errorf("failed to check admin role: %w", err)
	}
	return count > 0, nil
}

// DefaultApprover returns the company's configured fallback approver, else its
// earliest admin, else "". excludeUserID is skipped at both steps.
func (r *DirectoryRepository) DefaultApprover(ctx context.Context, companyID, excludeUserID string) (string, error) {
	query := `
		SELECT COALESCE(
			NULLIF(NULLIF(c.default_approver_id, ''), ?),
			(SELECT u.id FROM users u
			 WHERE u.company_id = c.id AND u.role = ? AND u.id <> ?
			 ORDER BY u.created_at, u.id LIMIT 1),
			''
		)
		FROM companies c
		WHERE c.id = ?
	`

	var approverID string
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query,
		excludeUserID, entity.RoleAdmin, excludeUserID, companyID).Scan(&approverID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		r.logger.Error("Failed to resolve default approver", zap.String("company_id", companyID), zap.Error(err))
		return "", fmt.Errorf("failed to resolve default approver: %w", err)
	}
	return approverID, nil
}

// SaveCompany inserts or updates a company
func (r *DirectoryRepository) SaveCompany(ctx context.Context, company *entity.Company) error {
	if company.CreatedAt.IsZero() {
		company.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO companies (id, name, currency_code, default_approver_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			currency_code = excluded.currency_code,
			default_approver_id = excluded.default_approver_id
	`
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		company.ID,
		company.Name,
		company.CurrencyCode,
		nullString(company.DefaultApproverID),
		utc(company.CreatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to save company", zap.String("company_id", company.ID), zap.Error(err))
		return fmt.Errorf("failed to save company: %w", err)
	}
	return nil
}

// SaveUser inserts or updates a user
func (r *DirectoryRepository) SaveUser(ctx context.Context, user *entity.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, company_id, name, email, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			email = excluded.email,
			role = excluded.role
	`
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		user.ID,
		user.CompanyID,
		user.Name,
		user.Email,
		user.Role,
		utc(user.CreatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to save user", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.Directory = (*DirectoryRepository)(nil)
