package authorizenet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradejournal/billing/pkg/types"
)

// CardData is raw card input. It lives only for one charge call and must never
// be logged or persisted.
type CardData struct {
	Number      string
	ExpiryMonth string // "MM"
	ExpiryYear  string // "YY"
	CVV         string
}

type BillingAddress struct {
	FirstName string
	LastName  string
	Address   string
	City      string
	State     string
	Zip       string
}

type ChargeRequest struct {
	Card     CardData
	Amount   decimal.Decimal
	Plan     types.PlanType
	BillTo   BillingAddress
	UserID   string
	ClientIP string
	// ScheduleStart is the first date the recurring schedule bills.
	ScheduleStart time.Time
}

// ChargeResult is the business outcome of a charge. A decline is a result,
// not an error.
type ChargeResult struct {
	Approved       bool
	TransactionID  string
	Message        string
	SubscriptionID string
	// ScheduleWarning is set when the charge was approved but the recurring
	// schedule could not be registered.
	ScheduleWarning string
}

// wire types for the JSON flavour of the Authorize.Net API. Field order is
// significant: the API validates element order against its XML schema.

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type creditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardCode       string `json:"cardCode"`
}

type payment struct {
	CreditCard creditCard `json:"creditCard"`
}

type order struct {
	Description string `json:"description"`
}

type billTo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
}

type transactionRequest struct {
	TransactionType string  `json:"transactionType"`
	Amount          string  `json:"amount"`
	Payment         payment `json:"payment"`
	Order           order   `json:"order"`
	BillTo          billTo  `json:"billTo"`
	CustomerIP      string  `json:"customerIP,omitempty"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
}

type createTransactionEnvelope struct {
	CreateTransactionRequest createTransactionRequest `json:"createTransactionRequest"`
}

type interval struct {
	Length string `json:"length"`
	Unit   string `json:"unit"`
}

type paymentSchedule struct {
	Interval         interval `json:"interval"`
	StartDate        string   `json:"startDate"`
	TotalOccurrences string   `json:"totalOccurrences"`
}

type arbSubscription struct {
	Name            string          `json:"name"`
	PaymentSchedule paymentSchedule `json:"paymentSchedule"`
	Amount          string          `json:"amount"`
	Payment         payment         `json:"payment"`
	BillTo          billTo          `json:"billTo"`
}

type arbCreateSubscriptionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	Subscription           arbSubscription        `json:"subscription"`
}

type arbCreateSubscriptionEnvelope struct {
	ARBCreateSubscriptionRequest arbCreateSubscriptionRequest `json:"ARBCreateSubscriptionRequest"`
}

type apiMessage struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type apiMessages struct {
	ResultCode string       `json:"resultCode"`
	Message    []apiMessage `json:"message"`
}

type transactionError struct {
	ErrorCode string `json:"errorCode"`
	ErrorText string `json:"errorText"`
}

type transactionResponse struct {
	ResponseCode string             `json:"responseCode"`
	AuthCode     string             `json:"authCode"`
	TransID      string             `json:"transId"`
	Errors       []transactionError `json:"errors"`
}

type createTransactionResponse struct {
	TransactionResponse *transactionResponse `json:"transactionResponse"`
	Messages            apiMessages          `json:"messages"`
}

type arbCreateSubscriptionResponse struct {
	SubscriptionID string      `json:"subscriptionId"`
	Messages       apiMessages `json:"messages"`
}
