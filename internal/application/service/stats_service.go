package service

import (
	"context"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/pkg/clock"
	"github.com/shopspring/decimal"
)

// ApproverStats summarises an approver's queue and today's decisions
type ApproverStats struct {
	PendingCount  int             `json:"pending_count"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	Currency      string          `json:"currency"`
	ApprovedToday int             `json:"approved_today"`
	RejectedToday int             `json:"rejected_today"`
}

// StatsService computes approver dashboards
type StatsService interface {
	ApproverStats(ctx context.Context, approverID string) (*ApproverStats, error)
}

type statsServiceImpl struct {
	claims    port.ClaimRepository
	directory port.Directory
	currency  CurrencyService
	clock     clock.Clock
}

// NewStatsService creates a new StatsService
func NewStatsService(claims port.ClaimRepository, directory port.Directory, currency CurrencyService, clk clock.Clock) StatsService {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &statsServiceImpl{claims: claims, directory: directory, currency: currency, clock: clk}
}

// ApproverStats totals pending claims in the approver's company currency
func (s *statsServiceImpl) ApproverStats(ctx context.Context, approverID string) (*ApproverStats, error) {
	user, err := s.directory.GetUser(ctx, approverID)
	if err != nil {
		return nil, classify(err, "look up approver")
	}
	company, err := s.directory.GetCompany(ctx, user.CompanyID)
	if err != nil {
		return nil, classify(err, "look up company")
	}

	pending, err := s.claims.ListPendingFor(ctx, approverID)
	if err != nil {
		return nil, classify(err, "list pending claims")
	}

	items := make([]entity.MoneyItem, len(pending))
	for i, c := range pending {
		items[i] = entity.MoneyItem{Key: c.ID, Amount: c.Amount, Currency: c.CurrencyCode}
	}
	total := decimal.Zero
	for _, item := range s.currency.ConvertBatch(ctx, items, company.CurrencyCode) {
		total = total.Add(item.ConvertedAmount)
	}

	now := s.clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	approved, err := s.claims.CountActions(ctx, approverID, entity.ActionApproved, midnight)
	if err != nil {
		return nil, classify(err, "count approvals")
	}
	rejected, err := s.claims.CountActions(ctx, approverID, entity.ActionRejected, midnight)
	if err != nil {
		return nil, classify(err, "count rejections")
	}

	return &ApproverStats{
		PendingCount:  len(pending),
		PendingAmount: total.Round(2),
		Currency:      company.CurrencyCode,
		ApprovedToday: approved,
		RejectedToday: rejected,
	}, nil
}
