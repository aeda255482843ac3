package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a pending notification
func (r *NotificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	if notification.Status == "" {
		notification.Status = entity.NotificationStatusPending
	}

	query := `
		INSERT INTO notifications (
			id, claim_id, recipient_id, kind, message,
			status, error_message, sent_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		notification.ID,
		notification.ClaimID,
		notification.RecipientID,
		notification.Kind,
		notification.Message,
		notification.Status,
		notification.ErrorMessage,
		nullTime(notification.SentAt),
		utc(notification.CreatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.String("claim_id", notification.ClaimID),
			zap.String("recipient_id", notification.RecipientID),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListByRecipient returns a recipient's notifications, newest first
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*entity.Notification, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, claim_id, recipient_id, kind, message,
			status, error_message, sent_at, created_at
		FROM notifications
		WHERE recipient_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.String("recipient_id", recipientID), zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*entity.Notification
	for rows.Next() {
		var n entity.Notification
		var sentAt sql.NullTime
		if err := rows.Scan(
			&n.ID,
			&n.ClaimID,
			&n.RecipientID,
			&n.Kind,
			&n.Message,
			&n.Status,
			&n.ErrorMessage,
			&sentAt,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.SentAt = timePtr(sentAt)
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// MarkSent marks a notification as delivered
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	query := `UPDATE notifications SET status = ?, sent_at = ?, error_message = '' WHERE id = ?`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, entity.NotificationStatusSent, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark notification as sent", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark notification as sent: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return port.ErrNotFound
	}
	return nil
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
