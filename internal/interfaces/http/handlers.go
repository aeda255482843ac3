package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	headerUserID    = "X-User-ID"
	headerRequestID = "X-Request-ID"
	ctxUserID       = "user_id"

	defaultPageSize = 20
	maxPageSize     = 100
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ClaimRequest is the body of create and update calls
type ClaimRequest struct {
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currency_code"`
	ExpenseDate  string          `json:"expense_date"`
}

// ActRequest is the body of an approve or reject call
type ActRequest struct {
	Action   string `json:"action" binding:"required"`
	Comments string `json:"comments"`
}

// PageRequest represents paging query parameters
type PageRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// requireUser rejects requests without an acting user
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(headerUserID))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + headerUserID + " header",
			})
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// requireAdmin lets through only users holding the ADMIN role. It runs after requireUser.
func (h *Handlers) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.services.Users.GetUser(c.Request.Context(), actor(c))
		switch {
		case errors.Is(err, port.ErrNotFound):
			user = nil
		case err != nil:
			h.fail(c, "require admin", err)
			c.Abort()
			return
		}
		if user == nil || !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, Response{
				Success: false,
				Error:   "admin role required",
			})
			return
		}
		c.Next()
	}
}

func actor(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// statusFor maps an application error class to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err in the response envelope. Internal errors are logged with
// their stack and reported without detail.
func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "error", fmt.Sprintf("%+v", err))
		message = "internal error"
	} else {
		h.logger.Warn("Request rejected", "op", op, "status", status, "error", err.Error())
	}
	c.JSON(status, Response{Success: false, Error: message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: message})
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	})
}

func (r ClaimRequest) toInput() (service.ClaimInput, error) {
	in := service.ClaimInput{
		Description:  r.Description,
		Category:     r.Category,
		Amount:       r.Amount,
		CurrencyCode: r.CurrencyCode,
	}
	if r.ExpenseDate != "" {
		d, err := parseDate(r.ExpenseDate)
		if err != nil {
			return in, err
		}
		in.ExpenseDate = &d
	}
	return in, nil
}

// parseDate accepts a plain date or a full RFC 3339 timestamp
func parseDate(s string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	return time.Parse(time.RFC3339, s)
}

// CreateClaim handles POST /api/v1/claims
func (h *Handlers) CreateClaim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		badRequest(c, "invalid expense_date")
		return
	}

	claim, err := h.services.Claims.Create(c.Request.Context(), actor(c), in)
	if err != nil {
		h.fail(c, "create claim", err)
		return
	}
	ok(c, http.StatusCreated, claim)
}

// ListMyClaims handles GET /api/v1/claims
func (h *Handlers) ListMyClaims(c *gin.Context) {
	var req PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}
	if req.Limit <= 0 || req.Limit > maxPageSize {
		req.Limit = defaultPageSize
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	claims, err := h.services.Claims.ListMine(c.Request.Context(), actor(c), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, "list claims", err)
		return
	}
	ok(c, http.StatusOK, nonNil(claims))
}

// GetClaim handles GET /api/v1/claims/:id
func (h *Handlers) GetClaim(c *gin.Context) {
	claim, err := h.services.Claims.Get(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		h.fail(c, "get claim", err)
		return
	}
	ok(c, http.StatusOK, claim)
}

// UpdateClaim handles PUT /api/v1/claims/:id
func (h *Handlers) UpdateClaim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		badRequest(c, "invalid expense_date")
		return
	}

	claim, err := h.services.Claims.UpdateDraft(c.Request.Context(), c.Param("id"), actor(c), in)
	if err != nil {
		h.fail(c, "update claim", err)
		return
	}
	ok(c, http.StatusOK, claim)
}

// DeleteClaim handles DELETE /api/v1/claims/:id
func (h *Handlers) DeleteClaim(c *gin.Context) {
	if err := h.services.Claims.Delete(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		h.fail(c, "delete claim", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitClaim handles POST /api/v1/claims/:id/submit
func (h *Handlers) SubmitClaim(c *gin.Context) {
	claim, err := h.services.Claims.Submit(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		h.fail(c, "submit claim", err)
		return
	}
	ok(c, http.StatusOK, claim)
}

// ActOnClaim handles POST /api/v1/claims/:id/act
func (h *Handlers) ActOnClaim(c *gin.Context) {
	var req ActRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "action is required")
		return
	}

	var action string
	switch strings.ToUpper(strings.TrimSpace(req.Action)) {
	case "APPROVE", entity.ActionApproved:
		action = entity.ActionApproved
	case "REJECT", entity.ActionRejected:
		action = entity.ActionRejected
	default:
		badRequest(c, "action must be APPROVE or REJECT")
		return
	}

	claim, err := h.services.Claims.Act(c.Request.Context(), c.Param("id"), actor(c), action, req.Comments)
	if err != nil {
		h.fail(c, "act on claim", err)
		return
	}
	ok(c, http.StatusOK, claim)
}

// ListPending handles GET /api/v1/approvals/pending
func (h *Handlers) ListPending(c *gin.Context) {
	claims, err := h.services.Claims.ListPending(c.Request.Context(), actor(c))
	if err != nil {
		h.fail(c, "list pending", err)
		return
	}
	ok(c, http.StatusOK, nonNil(claims))
}

// ApproverStats handles GET /api/v1/approvals/stats
func (h *Handlers) ApproverStats(c *gin.Context) {
	stats, err := h.services.Stats.ApproverStats(c.Request.Context(), actor(c))
	if err != nil {
		h.fail(c, "approver stats", err)
		return
	}
	ok(c, http.StatusOK, stats)
}

// ListStuckClaims handles GET /api/v1/companies/:id/stuck-claims
func (h *Handlers) ListStuckClaims(c *gin.Context) {
	claims, err := h.services.Claims.ListStuck(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		h.fail(c, "list stuck claims", err)
		return
	}
	ok(c, http.StatusOK, nonNil(claims))
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	var req PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	items, err := h.services.Inbox.Inbox(c.Request.Context(), actor(c), req.Limit)
	if err != nil {
		h.fail(c, "list notifications", err)
		return
	}
	if items == nil {
		items = []*entity.Notification{}
	}
	ok(c, http.StatusOK, items)
}

func nonNil(claims []*entity.Claim) []*entity.Claim {
	if claims == nil {
		return []*entity.Claim{}
	}
	return claims
}
