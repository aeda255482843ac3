package service

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/pkg/clock"
	"github.com/google/uuid"
)

// Notifier turns claim events into outbox records for the mail collaborator
type Notifier struct {
	notifications port.NotificationRepository
	directory     port.Directory
	clock         clock.Clock
	logger        Logger
}

// NewNotifier creates a new Notifier
func NewNotifier(notifications port.NotificationRepository, directory port.Directory, clk clock.Clock, logger Logger) *Notifier {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Notifier{notifications: notifications, directory: directory, clock: clk, logger: logger}
}

// Register subscribes the notifier to every claim event it handles
func (n *Notifier) Register(d dispatcher.Dispatcher) {
	for _, t := range []event.Type{
		event.TypeClaimSubmitted,
		event.TypeClaimAdvanced,
		event.TypeClaimApproved,
		event.TypeClaimRejected,
		event.TypeClaimPolicyStuck,
	} {
		d.Subscribe(t, "notifier", n.Handle)
	}
}

// Handle writes the notification for one event
func (n *Notifier) Handle(ctx context.Context, evt *event.Event) error {
	var recipient, kind, message string

	switch evt.Type {
	case event.TypeClaimSubmitted, event.TypeClaimAdvanced:
		recipient = evt.GetPayloadString(event.KeyApproverID)
		kind = entity.NotificationApproverAssigned
		message = fmt.Sprintf("Claim %s is waiting for your approval", evt.ClaimID)
	case event.TypeClaimApproved:
		recipient = evt.GetPayloadString(event.KeyOwnerID)
		kind = entity.NotificationClaimApproved
		message = fmt.Sprintf("Your claim %s has been approved", evt.ClaimID)
	case event.TypeClaimRejected:
		recipient = evt.GetPayloadString(event.KeyOwnerID)
		kind = entity.NotificationClaimRejected
		message = fmt.Sprintf("Your claim %s was rejected: %s", evt.ClaimID, evt.GetPayloadString(event.KeyReason))
	case event.TypeClaimPolicyStuck:
		fallback, err := n.directory.DefaultApprover(ctx,
			evt.GetPayloadString(event.KeyCompanyID), evt.GetPayloadString(event.KeyOwnerID))
		if err != nil {
			return fmt.Errorf("failed to resolve operator for stuck claim: %w", err)
		}
		recipient = fallback
		kind = entity.NotificationPolicyStuck
		message = fmt.Sprintf("Claim %s cannot progress under its approval policy: %s", evt.ClaimID, evt.GetPayloadString(event.KeyReason))
	default:
		return nil
	}

	if recipient == "" {
		n.logger.Warn("No recipient for notification", "event_type", evt.Type, "claim_id", evt.ClaimID)
		return nil
	}

	notification := &entity.Notification{
		ID:          uuid.NewString(),
		ClaimID:     evt.ClaimID,
		RecipientID: recipient,
		Kind:        kind,
		Message:     message,
		Status:      entity.NotificationStatusPending,
		CreatedAt:   n.clock.Now(),
	}
	if err := n.notifications.Create(ctx, notification); err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}

	n.logger.Info("Notification queued", "claim_id", evt.ClaimID, "recipient_id", recipient, "kind", kind)
	return nil
}

// Inbox returns the recipient's most recent notifications
func (n *Notifier) Inbox(ctx context.Context, recipientID string, limit int) ([]*entity.Notification, error) {
	if recipientID == "" {
		return nil, validationf("recipient is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := n.notifications.ListByRecipient(ctx, recipientID, limit)
	if err != nil {
		return nil, classify(err, "list notifications")
	}
	return items, nil
}
