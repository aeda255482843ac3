package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/ratecache"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClaims struct {
	service.ClaimService

	created    service.ClaimInput
	actorSeen  string
	actionSeen string
	err        error
}

func (s *stubClaims) Create(ctx context.Context, actorID string, in service.ClaimInput) (*entity.Claim, error) {
	s.actorSeen, s.created = actorID, in
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Claim{ID: "c-1", OwnerID: actorID, Amount: in.Amount, CurrencyCode: in.CurrencyCode, Status: entity.StatusDraft}, nil
}

func (s *stubClaims) Get(ctx context.Context, claimID, actorID string) (*entity.Claim, error) {
	s.actorSeen = actorID
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Claim{ID: claimID, Status: entity.StatusSubmitted}, nil
}

func (s *stubClaims) Act(ctx context.Context, claimID, actorID, action, comments string) (*entity.Claim, error) {
	s.actorSeen, s.actionSeen = actorID, action
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Claim{ID: claimID, Status: entity.StatusApproved}, nil
}

func (s *stubClaims) ListPending(ctx context.Context, approverID string) ([]*entity.Claim, error) {
	s.actorSeen = approverID
	return nil, s.err
}

func (s *stubClaims) Delete(ctx context.Context, claimID, actorID string) error {
	return s.err
}

type stubCurrency struct{}

func (stubCurrency) Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(2))
}

func (stubCurrency) ConvertBatch(ctx context.Context, items []entity.MoneyItem, target string) []entity.ConvertedItem {
	out := make([]entity.ConvertedItem, len(items))
	for i, item := range items {
		out[i] = entity.ConvertedItem{MoneyItem: item, ConvertedAmount: item.Amount, TargetCurrency: target}
	}
	return out
}

type staticProvider struct{ err error }

func (p staticProvider) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	if p.err != nil {
		return nil, p.err
	}
	return map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.9")}, nil
}

type stubUsers map[string]*entity.User

func (u stubUsers) GetUser(ctx context.Context, id string) (*entity.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, port.ErrNotFound
}

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

func newTestServer(claims *stubClaims) *Server {
	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	return NewServer(cfg, Services{
		Claims:   claims,
		Currency: stubCurrency{},
		Rates:    ratecache.New(staticProvider{}, ratecache.Options{}),
		Users:    stubUsers{
			"emp":  {ID: "emp", CompanyID: "acme", Role: entity.RoleEmployee},
			"root": {ID: "root", CompanyID: "acme", Role: entity.RoleAdmin},
		},
	}, nopLogger{})
}

func do(t *testing.T, srv *Server, method, path, user, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHealthCheck(t *testing.T) {
	w, resp := do(t, newTestServer(&stubClaims{}), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestClaimsRequireUser(t *testing.T) {
	w, resp := do(t, newTestServer(&stubClaims{}), http.MethodGet, "/api/v1/claims/c-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, headerUserID)
}

func TestCreateClaim(t *testing.T) {
	claims := &stubClaims{}
	srv := newTestServer(claims)

	body := `{"description":"Taxi","category":"TRANSPORTATION","amount":"42.50","currency_code":"eur","expense_date":"2026-03-01"}`
	w, resp := do(t, srv, http.MethodPost, "/api/v1/claims", "emp", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)

	assert.Equal(t, "emp", claims.actorSeen)
	assert.Equal(t, "42.5", claims.created.Amount.String())
	require.NotNil(t, claims.created.ExpenseDate)
	assert.Equal(t, 2026, claims.created.ExpenseDate.Year())

	w, _ = do(t, srv, http.MethodPost, "/api/v1/claims", "emp", `{"amount":"1","expense_date":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, srv, http.MethodPost, "/api/v1/claims", "emp", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", errors.Mark(errors.New("amount must be positive"), service.ErrValidation), http.StatusBadRequest, "amount must be positive"},
		{"unauthorized", errors.Mark(errors.New("not yours"), service.ErrUnauthorized), http.StatusForbidden, "not yours"},
		{"not found", errors.Mark(errors.New("no such claim"), service.ErrNotFound), http.StatusNotFound, "no such claim"},
		{"conflict", errors.Mark(errors.New("claim changed"), service.ErrConflict), http.StatusConflict, "claim changed"},
		{"wrapped conflict", errors.Wrap(errors.Mark(errors.New("claim changed"), service.ErrConflict), "act"), http.StatusConflict, "claim changed"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, newTestServer(&stubClaims{err: tt.err}), http.MethodGet, "/api/v1/claims/c-1", "emp", "")
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.msg)
		})
	}
}

func TestActOnClaim(t *testing.T) {
	claims := &stubClaims{}
	srv := newTestServer(claims)

	w, resp := do(t, srv, http.MethodPost, "/api/v1/claims/c-1/act", "mgr", `{"action":"approve","comments":"fine"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, entity.ActionApproved, claims.actionSeen)
	assert.Equal(t, "mgr", claims.actorSeen)

	_, _ = do(t, srv, http.MethodPost, "/api/v1/claims/c-1/act", "mgr", `{"action":"REJECTED"}`)
	assert.Equal(t, entity.ActionRejected, claims.actionSeen)

	w, _ = do(t, srv, http.MethodPost, "/api/v1/claims/c-1/act", "mgr", `{"action":"escalate"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, srv, http.MethodPost, "/api/v1/claims/c-1/act", "mgr", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPendingReturnsEmptyArray(t *testing.T) {
	srv := newTestServer(&stubClaims{})
	w, _ := do(t, srv, http.MethodGet, "/api/v1/approvals/pending", "mgr", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())
}

func TestDeleteClaim(t *testing.T) {
	w, _ := do(t, newTestServer(&stubClaims{}), http.MethodDelete, "/api/v1/claims/c-1", "emp", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateEndpoints(t *testing.T) {
	srv := newTestServer(&stubClaims{})

	w, resp := do(t, srv, http.MethodGet, "/api/v1/rates/usd", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "USD", data["base"])
	assert.Equal(t, ratecache.SourceProvider, data["source"])
	rates := data["rates"].(map[string]interface{})
	assert.Equal(t, "0.9", rates["EUR"])
	assert.Equal(t, "1", rates["USD"])

	w, resp = do(t, srv, http.MethodGet, "/api/v1/rates", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 1)

	w, _ = do(t, srv, http.MethodGet, "/api/v1/rates/dollars", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, srv, http.MethodDelete, "/api/v1/rates", "root", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, resp = do(t, srv, http.MethodGet, "/api/v1/rates", "", "")
	assert.Empty(t, resp.Data)
}

func TestInvalidateRates_AdminOnly(t *testing.T) {
	srv := newTestServer(&stubClaims{})
	_, err := srv.services.Rates.GetRates(context.Background(), "USD")
	require.NoError(t, err)

	tests := []struct {
		name string
		user string
		want int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"employee", "emp", http.StatusForbidden},
		{"unknown user", "ghost", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, srv, http.MethodDelete, "/api/v1/rates", tt.user, "")
			assert.Equal(t, tt.want, w.Code)
			assert.False(t, resp.Success)
		})
	}

	_, resp := do(t, srv, http.MethodGet, "/api/v1/rates", "", "")
	assert.Len(t, resp.Data, 1, "cache survives rejected invalidations")
}

func TestConvert(t *testing.T) {
	srv := newTestServer(&stubClaims{})

	w, resp := do(t, srv, http.MethodPost, "/api/v1/rates/convert", "", `{"amount":"10","from":"usd","to":"EUR"}`)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "20", data["converted"])
	assert.Equal(t, "USD", data["from"])

	w, resp = do(t, srv, http.MethodPost, "/api/v1/rates/convert", "", `{"items":[{"key":"a","amount":"5","currency":"GBP"}],"target":"usd"}`)
	require.Equal(t, http.StatusOK, w.Code)
	items := resp.Data.([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "USD", items[0].(map[string]interface{})["target_currency"])

	w, _ = do(t, srv, http.MethodPost, "/api/v1/rates/convert", "", `{"amount":"10","from":"usd"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
