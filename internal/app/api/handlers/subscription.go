package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	mw "github.com/tradejournal/billing/internal/app/api/middleware"
	"github.com/tradejournal/billing/internal/app/service/subscription"
	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/response"
	"github.com/tradejournal/billing/pkg/types"
)

type SubscriptionStore interface {
	GetActive(ctx context.Context, userID string) (*models.Subscription, error)
	Cancel(ctx context.Context, userID string) (*models.Subscription, error)
	Scan(ctx context.Context, req *subscription.ScanRequest) (*subscription.ScanResponse, error)
}

type SubscriptionItem struct {
	ID                string                   `json:"id"`
	UserID            string                   `json:"user_id"`
	PlanType          types.PlanType           `json:"plan_type"`
	Status            types.SubscriptionStatus `json:"status"`
	Amount            decimal.Decimal          `json:"amount"`
	PaymentInstrument string                   `json:"payment_instrument"`
	DiscountCodeID    *string                  `json:"discount_code_id"`
	TransactionID     *string                  `json:"transaction_id"`
	StartedAt         time.Time                `json:"started_at"`
	NextBillingDate   *time.Time               `json:"next_billing_date"`
	CanceledAt        *time.Time               `json:"canceled_at"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

func toSubscriptionItem(m *models.Subscription) *SubscriptionItem {
	return &SubscriptionItem{
		ID:                m.ID,
		UserID:            m.UserID,
		PlanType:          m.Plan,
		Status:            m.Status,
		Amount:            m.Amount,
		PaymentInstrument: m.PaymentInstrument,
		DiscountCodeID:    m.DiscountCodeID,
		TransactionID:     m.TransactionID,
		StartedAt:         m.StartedAt,
		NextBillingDate:   m.NextBillingDate,
		CanceledAt:        m.CanceledAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// @Summary      Get Active Subscription
// @Description  Returns the caller's active subscription, or null data when there is none.
// @Tags         Billing
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/subscription [get]
func ApiGetSubscription(store SubscriptionStore, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := store.GetActive(c.Request.Context(), mw.UserID(c))
		if errors.Is(err, subscription.ErrNoActiveSubscription) {
			c.JSON(http.StatusOK, response.OKT[*SubscriptionItem](nil))
			return
		}
		if err != nil {
			logctx.FromGin(c, log).Errorw("get subscription failed", "err", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toSubscriptionItem(sub)))
	}
}

// @Summary      Cancel Subscription
// @Description  Cancels the caller's active subscription.
// @Tags         Billing
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespSubscription
// @Failure      404  {object}  handlers.RespOK
// @Router       /api/v1/subscription/cancel [post]
func ApiCancelSubscription(store SubscriptionStore, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := store.Cancel(c.Request.Context(), mw.UserID(c))
		if errors.Is(err, subscription.ErrNoActiveSubscription) {
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "no active subscription"))
			return
		}
		if err != nil {
			logctx.FromGin(c, log).Errorw("cancel subscription failed", "err", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toSubscriptionItem(sub)))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, store SubscriptionStore, log *zap.SugaredLogger) {
	r.GET("/subscription", ApiGetSubscription(store, log))
	r.POST("/subscription/cancel", ApiCancelSubscription(store, log))
}
