package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/internal/app/service/credit"
	"github.com/tradejournal/billing/internal/app/service/settlement"
	"github.com/tradejournal/billing/internal/app/service/statistics"
	"github.com/tradejournal/billing/internal/app/service/subscription"
	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/response"
	"github.com/tradejournal/billing/pkg/types"
)

func init() { gin.SetMode(gin.TestMode) }

var nopLog = zap.NewNop().Sugar()

// withUser stands in for the bearer auth middleware.
func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set(logctx.UserIDKey, userID)
		}
		c.Next()
	}
}

func noLimit(c *gin.Context) { c.Next() }

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type stubSettler struct {
	got *settlement.Request
	res *settlement.Result
	err error
}

func (s *stubSettler) Settle(_ context.Context, req *settlement.Request) (*settlement.Result, error) {
	s.got = req
	return s.res, s.err
}

func checkoutRouter(s Settler, userID string) *gin.Engine {
	r := gin.New()
	g := r.Group("/api/v1", withUser(userID))
	RegisterCheckoutRoutes(g, s, nopLog, noLimit)
	return r
}

func TestApiCheckout_PassesRequestThrough(t *testing.T) {
	s := &stubSettler{res: &settlement.Result{
		Success:         true,
		State:           types.SettlementStateDone,
		TransactionID:   "60123",
		DiscountApplied: decimal.RequireFromString("20"),
		FinalAmount:     decimal.RequireFromString("7.99"),
		Message:         "Payment successful",
	}}
	r := checkoutRouter(s, "user-1")

	w := doJSON(t, r, http.MethodPost, "/api/v1/checkout", map[string]any{
		"cardData":       map[string]string{"cardNumber": "4111111111111111", "expiryMonth": "12", "expiryYear": "30", "cvv": "123"},
		"amount":         "7.99",
		"planType":       "monthly",
		"billingAddress": map[string]string{"firstName": "A", "lastName": "B", "address": "1 Main", "city": "X", "state": "NY", "zip": "10001"},
		"discountCode":   "SAVE20",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var out CheckoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.True(t, out.Success)
	require.Equal(t, "60123", out.TransactionID)
	require.Equal(t, 20.0, out.DiscountApplied)
	require.Equal(t, 7.99, out.FinalAmount)
	require.Equal(t, types.SettlementStateDone, out.State)

	require.Equal(t, "user-1", s.got.UserID)
	require.Equal(t, types.PlanTypeMonthly, s.got.Plan)
	require.Equal(t, "SAVE20", s.got.DiscountCode)
	require.Equal(t, "7.99", s.got.ClientAmount)
	require.Equal(t, "4111111111111111", s.got.Card.CardNumber)
	require.Equal(t, "10001", s.got.BillingAddress.Zip)
}

func TestApiCheckout_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		res    *settlement.Result
		err    error
		status int
	}{
		{"unauthenticated", &settlement.Result{State: types.SettlementStateFailed, Reason: types.ReasonUnauthenticated}, nil, http.StatusUnauthorized},
		{"invalid input", &settlement.Result{State: types.SettlementStateFailed, Reason: types.ReasonInvalidPaymentInput}, nil, http.StatusBadRequest},
		{"declined", &settlement.Result{State: types.SettlementStateFailed, Reason: types.ReasonGatewayDeclined, Message: "This transaction has been declined."}, nil, http.StatusPaymentRequired},
		{"already subscribed", &settlement.Result{State: types.SettlementStateFailed, Reason: types.ReasonAlreadySubscribed}, nil, http.StatusConflict},
		{"discount exhausted", &settlement.Result{State: types.SettlementStateFailed, Reason: types.ReasonDiscountExhausted}, nil, http.StatusConflict},
		{"done with warning", &settlement.Result{Success: true, State: types.SettlementStateDoneWithWarning, Reason: types.ReasonPersistenceIncomplete}, nil, http.StatusOK},
		{"invalid plan", nil, fmt.Errorf("%w: %q", settlement.ErrInvalidPlan, "weekly"), http.StatusBadRequest},
		{"fault", nil, errors.New("connection refused to 10.0.0.1"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := checkoutRouter(&stubSettler{res: tt.res, err: tt.err}, "user-1")
			w := doJSON(t, r, http.MethodPost, "/api/v1/checkout", map[string]any{"planType": "monthly", "amount": "9.99"})
			require.Equal(t, tt.status, w.Code)
			if tt.err != nil {
				require.NotContains(t, w.Body.String(), "10.0.0.1")
			}
		})
	}
}

func TestApiCheckout_DeclineMessagePassedThrough(t *testing.T) {
	r := checkoutRouter(&stubSettler{res: &settlement.Result{
		State: types.SettlementStateFailed, Reason: types.ReasonGatewayDeclined, Message: "The credit card has expired.",
	}}, "user-1")
	w := doJSON(t, r, http.MethodPost, "/api/v1/checkout", map[string]any{"planType": "yearly"})
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	require.Contains(t, w.Body.String(), "The credit card has expired.")
}

func TestApiCheckout_MalformedBody(t *testing.T) {
	s := &stubSettler{}
	r := checkoutRouter(s, "user-1")
	w := doJSON(t, r, http.MethodPost, "/api/v1/checkout", "{not json")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Nil(t, s.got)
}

type stubSubscriptions struct {
	active   *models.Subscription
	err      error
	scanReq  *subscription.ScanRequest
	scanResp *subscription.ScanResponse
	scanErr  error
}

func (s *stubSubscriptions) GetActive(_ context.Context, _ string) (*models.Subscription, error) {
	return s.active, s.err
}

func (s *stubSubscriptions) Cancel(_ context.Context, _ string) (*models.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *s.active
	out.Status = types.SubscriptionStatusCanceled
	now := time.Now()
	out.CanceledAt = &now
	out.NextBillingDate = nil
	return &out, nil
}

func (s *stubSubscriptions) Scan(_ context.Context, req *subscription.ScanRequest) (*subscription.ScanResponse, error) {
	s.scanReq = req
	return s.scanResp, s.scanErr
}

func activeSub() *models.Subscription {
	next := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return &models.Subscription{
		ID:                "sub-1",
		UserID:            "user-1",
		Plan:              types.PlanTypeMonthly,
		Status:            types.SubscriptionStatusActive,
		Amount:            decimal.RequireFromString("9.99"),
		PaymentInstrument: "1111",
		NextBillingDate:   &next,
	}
}

func TestSubscriptionRoutes(t *testing.T) {
	newRouter := func(s SubscriptionStore) *gin.Engine {
		r := gin.New()
		RegisterSubscriptionRoutes(r.Group("/api/v1", withUser("user-1")), s, nopLog)
		return r
	}

	w := doJSON(t, newRouter(&stubSubscriptions{active: activeSub()}), http.MethodGet, "/api/v1/subscription", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got response.APIResponse[*SubscriptionItem]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "sub-1", got.Data.ID)
	require.Equal(t, types.SubscriptionStatusActive, got.Data.Status)

	w = doJSON(t, newRouter(&stubSubscriptions{err: subscription.ErrNoActiveSubscription}), http.MethodGet, "/api/v1/subscription", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"data":null`)

	w = doJSON(t, newRouter(&stubSubscriptions{active: activeSub()}), http.MethodPost, "/api/v1/subscription/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, types.SubscriptionStatusCanceled, got.Data.Status)
	require.NotNil(t, got.Data.CanceledAt)
	require.Nil(t, got.Data.NextBillingDate)

	w = doJSON(t, newRouter(&stubSubscriptions{err: subscription.ErrNoActiveSubscription}), http.MethodPost, "/api/v1/subscription/cancel", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, newRouter(&stubSubscriptions{err: errors.New("db down")}), http.MethodGet, "/api/v1/subscription", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "db down")
}

type stubLedger struct {
	row       *models.UserCredits
	remaining int
	err       error
}

func (s *stubLedger) Get(_ context.Context, _ string) (*models.UserCredits, error) {
	return s.row, s.err
}
func (s *stubLedger) Consume(_ context.Context, _ string) (int, error) { return s.remaining, s.err }

func TestCreditRoutes(t *testing.T) {
	newRouter := func(l CreditLedger) *gin.Engine {
		r := gin.New()
		RegisterCreditRoutes(r.Group("/api/v1", withUser("user-1")), l, nopLog, noLimit)
		return r
	}

	reset := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	w := doJSON(t, newRouter(&stubLedger{row: &models.UserCredits{UserID: "user-1", TotalCredits: 30, UsedCredits: 4, LastResetDate: reset}}), http.MethodGet, "/api/v1/credits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got response.APIResponse[CreditsResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, 30, got.Data.TotalCredits)
	require.Equal(t, 4, got.Data.UsedCredits)
	require.Equal(t, 26, got.Data.Available)
	require.True(t, reset.Equal(got.Data.LastResetDate))

	w = doJSON(t, newRouter(&stubLedger{remaining: 2}), http.MethodPost, "/api/v1/credits/consume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"remaining":2`)

	w = doJSON(t, newRouter(&stubLedger{err: credit.ErrCreditsExhausted}), http.MethodPost, "/api/v1/credits/consume", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, newRouter(&stubLedger{err: errors.New("db down")}), http.MethodPost, "/api/v1/credits/consume", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

type stubStats struct {
	res *statistics.BillingStatisticResponse
	err error
}

func (s *stubStats) GetBillingStatistic(_ context.Context, _ *statistics.BillingStatisticRequest) (*statistics.BillingStatisticResponse, error) {
	return s.res, s.err
}

func TestAdminRoutes(t *testing.T) {
	newRouter := func(store SubscriptionStore, stats BillingStatistics) *gin.Engine {
		r := gin.New()
		RegisterAdminRoutes(r.Group("/api/v1/admin"), store, stats, nopLog)
		return r
	}

	store := &stubSubscriptions{scanResp: &subscription.ScanResponse{Items: []*models.Subscription{activeSub()}, Total: 1}}
	w := doJSON(t, newRouter(store, &stubStats{}), http.MethodPost, "/api/v1/admin/list_subscriptions", ListSubscriptionsRequest{
		Filters: []*types.CommonFilter{{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{"active"}}},
		Size:    20,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var list response.APIResponse[ListSubscriptionsResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.EqualValues(t, 1, list.Data.Total)
	require.Equal(t, "sub-1", list.Data.Items[0].ID)
	require.Equal(t, 20, store.scanReq.Size)
	require.Equal(t, "status", store.scanReq.Filters[0].Field)

	store = &stubSubscriptions{scanErr: fmt.Errorf("%w: unsupported sort field %q", subscription.ErrInvalidScan, "password")}
	w = doJSON(t, newRouter(store, &stubStats{}), http.MethodPost, "/api/v1/admin/list_subscriptions", ListSubscriptionsRequest{SortBy: "password"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	stats := &stubStats{res: &statistics.BillingStatisticResponse{DataItems: map[statistics.StatisticType][]statistics.BillingStatisticResponseDataItem{
		statistics.StatisticTypeTotalActiveSubscriptions: {{Value: decimal.NewFromInt(3)}},
	}}}
	w = doJSON(t, newRouter(store, stats), http.MethodPost, "/api/v1/admin/get_billing_statistic", map[string]any{
		"data_items": []map[string]string{{"id": string(statistics.StatisticTypeTotalActiveSubscriptions)}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), string(statistics.StatisticTypeTotalActiveSubscriptions))

	w = doJSON(t, newRouter(store, &stubStats{err: fmt.Errorf("%w: unsupported filter", statistics.ErrInvalidRequest)}), http.MethodPost, "/api/v1/admin/get_billing_statistic", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	r := gin.New()
	RegisterHealthRoutes(r)
	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}
