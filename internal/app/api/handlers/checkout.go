package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mw "github.com/tradejournal/billing/internal/app/api/middleware"
	"github.com/tradejournal/billing/internal/app/service/settlement"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/types"
)

const genericCheckoutFailure = "Payment processing failed. Please try again later."

type Settler interface {
	Settle(ctx context.Context, req *settlement.Request) (*settlement.Result, error)
}

type CheckoutRequest struct {
	CardData       *settlement.CardInput      `json:"cardData"`
	Amount         string                     `json:"amount"`
	PlanType       types.PlanType             `json:"planType"`
	BillingAddress *settlement.BillingAddress `json:"billingAddress"`
	DiscountCode   string                     `json:"discountCode"`
}

type CheckoutResponse struct {
	Success           bool                    `json:"success"`
	TransactionID     string                  `json:"transactionId,omitempty"`
	DiscountApplied   float64                 `json:"discountApplied"`
	FinalAmount       float64                 `json:"finalAmount"`
	Message           string                  `json:"message"`
	State             types.SettlementState   `json:"state"`
	Reason            types.ReasonCode        `json:"reason,omitempty"`
	DiscountRejection types.DiscountRejection `json:"discountRejection,omitempty"`
	Warning           string                  `json:"warning,omitempty"`
}

func toCheckoutResponse(res *settlement.Result) *CheckoutResponse {
	return &CheckoutResponse{
		Success:           res.Success,
		TransactionID:     res.TransactionID,
		DiscountApplied:   res.DiscountApplied.InexactFloat64(),
		FinalAmount:       res.FinalAmount.InexactFloat64(),
		Message:           res.Message,
		State:             res.State,
		Reason:            res.Reason,
		DiscountRejection: res.DiscountRejection,
		Warning:           res.Warning,
	}
}

func checkoutStatus(res *settlement.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Reason {
	case types.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case types.ReasonGatewayDeclined:
		return http.StatusPaymentRequired
	case types.ReasonAlreadySubscribed, types.ReasonDiscountExhausted:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func failedCheckout(msg string) *CheckoutResponse {
	return &CheckoutResponse{Message: msg, State: types.SettlementStateFailed}
}

// @Summary      Checkout
// @Description  Prices the plan server-side, applies the discount code, charges the card unless the price is zero and activates the subscription.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CheckoutRequest true "Checkout request"
// @Success      200  {object}  handlers.CheckoutResponse
// @Failure      400  {object}  handlers.CheckoutResponse
// @Failure      402  {object}  handlers.CheckoutResponse
// @Failure      409  {object}  handlers.CheckoutResponse
// @Failure      500  {object}  handlers.CheckoutResponse
// @Router       /api/v1/checkout [post]
func ApiCheckout(svc Settler, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, failedCheckout("Invalid request body"))
			return
		}

		res, err := svc.Settle(c.Request.Context(), &settlement.Request{
			UserID:         mw.UserID(c),
			Plan:           req.PlanType,
			DiscountCode:   req.DiscountCode,
			Card:           req.CardData,
			BillingAddress: req.BillingAddress,
			ClientAmount:   req.Amount,
			ClientIP:       c.ClientIP(),
		})
		if err != nil {
			if errors.Is(err, settlement.ErrInvalidPlan) {
				c.JSON(http.StatusBadRequest, failedCheckout("Invalid plan type"))
				return
			}
			logctx.FromGin(c, log).Errorw("checkout failed", "err", err)
			c.JSON(http.StatusInternalServerError, failedCheckout(genericCheckoutFailure))
			return
		}
		c.JSON(checkoutStatus(res), toCheckoutResponse(res))
	}
}

func RegisterCheckoutRoutes(r gin.IRouter, svc Settler, log *zap.SugaredLogger, limit gin.HandlerFunc) {
	r.POST("/checkout", limit, ApiCheckout(svc, log))
}
