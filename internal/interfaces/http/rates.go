package http

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/garyjia/expense-approval/internal/application/ratecache"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RateTableResponse represents one base currency's snapshot
type RateTableResponse struct {
	Base      string                     `json:"base"`
	Source    string                     `json:"source"`
	FetchedAt time.Time                  `json:"fetched_at"`
	Rates     map[string]decimal.Decimal `json:"rates"`
}

// ConvertRequest converts either a single amount or a batch of items
type ConvertRequest struct {
	Amount decimal.Decimal    `json:"amount"`
	From   string             `json:"from"`
	To     string             `json:"to"`
	Items  []entity.MoneyItem `json:"items"`
	Target string             `json:"target"`
}

// ConvertResponse represents a single conversion
type ConvertResponse struct {
	Amount    decimal.Decimal `json:"amount"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Converted decimal.Decimal `json:"converted"`
}

// RateStatus handles GET /api/v1/rates
func (h *Handlers) RateStatus(c *gin.Context) {
	status := h.services.Rates.Status()
	if status == nil {
		status = []ratecache.SnapshotStatus{}
	}
	ok(c, http.StatusOK, status)
}

// GetRates handles GET /api/v1/rates/:base
func (h *Handlers) GetRates(c *gin.Context) {
	snap, err := h.services.Rates.GetRates(c.Request.Context(), c.Param("base"))
	if errors.Is(err, ratecache.ErrInvalidCurrency) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		h.fail(c, "get rates", err)
		return
	}

	ok(c, http.StatusOK, RateTableResponse{
		Base:      snap.Base,
		Source:    snap.Source,
		FetchedAt: snap.FetchedAt,
		Rates:     snap.Rates(),
	})
}

// InvalidateRates handles DELETE /api/v1/rates
func (h *Handlers) InvalidateRates(c *gin.Context) {
	h.services.Rates.Invalidate()
	h.logger.Info("Rate cache invalidated", "request_id", c.GetString(headerRequestID))
	c.Status(http.StatusNoContent)
}

// Convert handles POST /api/v1/rates/convert
func (h *Handlers) Convert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if len(req.Items) > 0 {
		target, valid := entity.NormalizeCurrency(req.Target)
		if !valid {
			badRequest(c, "target must be an ISO 4217 currency code")
			return
		}
		ok(c, http.StatusOK, h.services.Currency.ConvertBatch(c.Request.Context(), req.Items, target))
		return
	}

	from, fromOK := entity.NormalizeCurrency(req.From)
	to, toOK := entity.NormalizeCurrency(req.To)
	if !fromOK || !toOK {
		badRequest(c, "from and to must be ISO 4217 currency codes")
		return
	}

	ok(c, http.StatusOK, ConvertResponse{
		Amount:    req.Amount,
		From:      from,
		To:        to,
		Converted: h.services.Currency.Convert(c.Request.Context(), req.Amount, from, to),
	})
}
