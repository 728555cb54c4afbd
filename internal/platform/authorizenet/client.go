// Package authorizenet charges cards through the Authorize.Net JSON API and
// registers the matching recurring (ARB) schedule.
package authorizenet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/pkg/config"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/metrics"
	"github.com/tradejournal/billing/pkg/tool"
)

const (
	SandboxEndpoint    = "https://apitest.authorize.net/xml/v1/request.api"
	ProductionEndpoint = "https://api.authorize.net/xml/v1/request.api"

	responseCodeApproved = "1"
	resultCodeOK         = "Ok"
	unlimitedOccurrences = "9999"

	MessageProcessingFailed = "Payment processing failed"
	MessageDeclined         = "Payment was declined"
)

var ErrNotConfigured = errors.New("payment gateway credentials are not configured")

type Client struct {
	loginID        string
	transactionKey string
	endpoint       string
	httpClient     *http.Client
	logger         *zap.SugaredLogger
}

func NewClient(cfg *config.Config, l *zap.SugaredLogger) *Client {
	g := cfg.Gateway
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = ProductionEndpoint
		if g.Sandbox {
			endpoint = SandboxEndpoint
		}
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		loginID:        g.APILoginID,
		transactionKey: g.TransactionKey,
		endpoint:       endpoint,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         l,
	}
}

func (c *Client) configured() bool {
	return c.loginID != "" && c.transactionKey != ""
}

func (c *Client) auth() merchantAuthentication {
	return merchantAuthentication{Name: c.loginID, TransactionKey: c.transactionKey}
}

// Charge runs an auth-capture transaction. Declines, timeouts and network
// faults come back as a non-approved result; the only error is ErrNotConfigured.
func (c *Client) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}
	lg := logctx.FromCtx(ctx, c.logger).With(
		"plan_type", req.Plan,
		"amount", req.Amount.StringFixed(2),
		"card_number_len", len(req.Card.Number),
		"cvv_len", len(req.Card.CVV),
		"card_last_four", tool.LastFour(req.Card.Number),
	)
	start := time.Now()
	defer metrics.ObserveBusinessProcess("gateway", "charge", start)

	body := createTransactionEnvelope{CreateTransactionRequest: createTransactionRequest{
		MerchantAuthentication: c.auth(),
		TransactionRequest: transactionRequest{
			TransactionType: "authCaptureTransaction",
			Amount:          req.Amount.StringFixed(2),
			Payment:         payment{CreditCard: toCreditCard(req.Card)},
			Order:           order{Description: description(req)},
			BillTo:          toBillTo(req.BillTo),
			CustomerIP:      req.ClientIP,
		},
	}}

	var resp createTransactionResponse
	if err := c.post(ctx, body, &resp); err != nil {
		lg.Errorw("gateway charge request failed", "err", err)
		return &ChargeResult{Message: MessageProcessingFailed}, nil
	}

	tr := resp.TransactionResponse
	if tr == nil || tr.ResponseCode != responseCodeApproved {
		msg := declineMessage(&resp)
		code := ""
		if tr != nil {
			code = tr.ResponseCode
		}
		lg.Infow("gateway declined charge", "response_code", code, "message", msg)
		return &ChargeResult{Message: msg}, nil
	}

	result := &ChargeResult{
		Approved:      true,
		TransactionID: tr.TransID,
		Message:       "Payment successful",
	}
	lg.Infow("gateway approved charge", "transaction_id", tr.TransID)

	subID, err := c.createSchedule(ctx, req)
	if err != nil {
		lg.Warnw("recurring schedule registration failed", "transaction_id", tr.TransID, "err", err)
		result.ScheduleWarning = fmt.Sprintf("recurring billing schedule was not created: %v", err)
		return result, nil
	}
	result.SubscriptionID = subID
	return result, nil
}

func (c *Client) createSchedule(ctx context.Context, req *ChargeRequest) (string, error) {
	start := req.ScheduleStart
	if start.IsZero() {
		start = time.Now().AddDate(0, 0, req.Plan.PeriodDays())
	}
	body := arbCreateSubscriptionEnvelope{ARBCreateSubscriptionRequest: arbCreateSubscriptionRequest{
		MerchantAuthentication: c.auth(),
		Subscription: arbSubscription{
			Name: description(req),
			PaymentSchedule: paymentSchedule{
				Interval:         interval{Length: fmt.Sprint(req.Plan.IntervalMonths()), Unit: "months"},
				StartDate:        start.UTC().Format("2006-01-02"),
				TotalOccurrences: unlimitedOccurrences,
			},
			Amount:  req.Amount.StringFixed(2),
			Payment: payment{CreditCard: toCreditCard(req.Card)},
			BillTo:  toBillTo(req.BillTo),
		},
	}}

	var resp arbCreateSubscriptionResponse
	if err := c.post(ctx, body, &resp); err != nil {
		return "", err
	}
	if resp.Messages.ResultCode != resultCodeOK || resp.SubscriptionID == "" {
		if len(resp.Messages.Message) > 0 {
			return "", errors.New(resp.Messages.Message[0].Text)
		}
		return "", errors.New("no subscription id returned")
	}
	return resp.SubscriptionID, nil
}

func (c *Client) post(ctx context.Context, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	// the API prefixes JSON responses with a UTF-8 byte order mark
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// declineMessage picks the most specific text the gateway returned.
func declineMessage(resp *createTransactionResponse) string {
	if tr := resp.TransactionResponse; tr != nil && len(tr.Errors) > 0 && tr.Errors[0].ErrorText != "" {
		return tr.Errors[0].ErrorText
	}
	if len(resp.Messages.Message) > 0 && resp.Messages.Message[0].Text != "" {
		return resp.Messages.Message[0].Text
	}
	return MessageDeclined
}

func toCreditCard(card CardData) creditCard {
	return creditCard{
		CardNumber:     card.Number,
		ExpirationDate: "20" + card.ExpiryYear + "-" + card.ExpiryMonth,
		CardCode:       card.CVV,
	}
}

func toBillTo(a BillingAddress) billTo {
	return billTo{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Address:   a.Address,
		City:      a.City,
		State:     a.State,
		Zip:       a.Zip,
	}
}

func description(req *ChargeRequest) string {
	return fmt.Sprintf("Trading journal %s subscription", req.Plan)
}

var Module = fx.Options(
	fx.Provide(NewClient),
)
