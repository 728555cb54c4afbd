package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mw "github.com/tradejournal/billing/internal/app/api/middleware"
	"github.com/tradejournal/billing/internal/app/service/credit"
	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/response"
)

type CreditLedger interface {
	Get(ctx context.Context, userID string) (*models.UserCredits, error)
	Consume(ctx context.Context, userID string) (int, error)
}

type CreditsResponse struct {
	TotalCredits  int       `json:"total_credits"`
	UsedCredits   int       `json:"used_credits"`
	Available     int       `json:"available"`
	LastResetDate time.Time `json:"last_reset_date"`
}

type ConsumeCreditResponse struct {
	Remaining int `json:"remaining"`
}

// @Summary      Get Credits
// @Description  Returns the caller's credit balance, creating the default allowance on first use.
// @Tags         Credits
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespCredits
// @Router       /api/v1/credits [get]
func ApiGetCredits(ledger CreditLedger, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		uc, err := ledger.Get(c.Request.Context(), mw.UserID(c))
		if err != nil {
			logctx.FromGin(c, log).Errorw("get credits failed", "err", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&CreditsResponse{
			TotalCredits:  uc.TotalCredits,
			UsedCredits:   uc.UsedCredits,
			Available:     uc.Available(),
			LastResetDate: uc.LastResetDate,
		}))
	}
}

// @Summary      Consume Credit
// @Description  Uses one credit. Returns 403 when none are left.
// @Tags         Credits
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespConsumeCredit
// @Failure      403  {object}  handlers.RespOK
// @Router       /api/v1/credits/consume [post]
func ApiConsumeCredit(ledger CreditLedger, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		remaining, err := ledger.Consume(c.Request.Context(), mw.UserID(c))
		if errors.Is(err, credit.ErrCreditsExhausted) {
			c.JSON(http.StatusForbidden, response.ErrorT[any](response.APIResponseCodeCreditsExhausted, nil))
			return
		}
		if err != nil {
			logctx.FromGin(c, log).Errorw("consume credit failed", "err", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ConsumeCreditResponse{Remaining: remaining}))
	}
}

func RegisterCreditRoutes(r gin.IRouter, ledger CreditLedger, log *zap.SugaredLogger, limit gin.HandlerFunc) {
	r.GET("/credits", ApiGetCredits(ledger, log))
	r.POST("/credits/consume", limit, ApiConsumeCredit(ledger, log))
}
