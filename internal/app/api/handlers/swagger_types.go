package handlers

import (
	"github.com/tradejournal/billing/internal/app/service/statistics"
	"github.com/tradejournal/billing/pkg/response"
)

// RespOK is a generic envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespSubscription struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    *SubscriptionItem        `json:"data"`
}

type RespCredits struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    CreditsResponse          `json:"data"`
}

type RespConsumeCredit struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ConsumeCreditResponse    `json:"data"`
}

// RespListSubscriptions wraps ListSubscriptionsResponse in the standard envelope.
type RespListSubscriptions struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    ListSubscriptionsResponse `json:"data"`
}

// RespBillingStatistic wraps BillingStatisticResponse in the standard envelope.
type RespBillingStatistic struct {
	Code    response.APIResponseCode            `json:"code"`
	Message string                              `json:"message"`
	Data    statistics.BillingStatisticResponse `json:"data"`
}
