// Package settlement turns a checkout request into an active subscription:
// resolve the discount, price the plan, charge the card unless the price is
// zero, then persist subscription, credits and discount usage in that order.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/internal/app/service/credit"
	"github.com/tradejournal/billing/internal/app/service/discount"
	"github.com/tradejournal/billing/internal/app/service/pricing"
	"github.com/tradejournal/billing/internal/app/service/subscription"
	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/internal/platform/authorizenet"
	"github.com/tradejournal/billing/internal/platform/rabbitmq"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/metrics"
	"github.com/tradejournal/billing/pkg/tool"
	"github.com/tradejournal/billing/pkg/types"
)

var ErrInvalidPlan = errors.New("invalid plan type")

// settleTimeout bounds a detached settlement. The gateway client has its own
// shorter timeout.
const settleTimeout = 2 * time.Minute

// maxLoggedCode is the settlement_logs.discount_code column width.
const maxLoggedCode = 64

type DiscountResolver interface {
	Resolve(ctx context.Context, code string) (*discount.Resolution, error)
	Redeem(ctx context.Context, discountID string) (types.DiscountRejection, error)
}

type Gateway interface {
	Charge(ctx context.Context, req *authorizenet.ChargeRequest) (*authorizenet.ChargeResult, error)
}

type Subscriptions interface {
	GetActive(ctx context.Context, userID string) (*models.Subscription, error)
	Activate(ctx context.Context, sub *models.Subscription, reason types.SubscriptionChangeReason) error
	Publish(ctx context.Context, routingKey string, sub *models.Subscription)
}

type Credits interface {
	Initialize(ctx context.Context, userID string, allowance int) error
}

type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type OutcomeLog interface {
	Save(ctx context.Context, entry *models.SettlementLog)
}

type Deps struct {
	Discounts     DiscountResolver
	Gateway       Gateway
	Subscriptions Subscriptions
	Credits       Credits
	Tx            Transactor
	Outcomes      OutcomeLog
	Log           *zap.SugaredLogger
}

// Request is one checkout attempt. Card and BillingAddress are only read on
// the paid path.
type Request struct {
	UserID         string
	Plan           types.PlanType
	DiscountCode   string
	Card           *CardInput
	BillingAddress *BillingAddress
	// ClientAmount is what the client believes it owes. It is checked for
	// shape and compared, never charged.
	ClientAmount string
	ClientIP     string
}

type Result struct {
	Success           bool
	State             types.SettlementState
	Reason            types.ReasonCode
	TransactionID     string
	SubscriptionID    string
	DiscountApplied   decimal.Decimal
	DiscountRejection types.DiscountRejection
	FinalAmount       decimal.Decimal
	Message           string
	Warning           string
}

type Service struct {
	d   Deps
	now func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{d: d, now: time.Now}
}

// attempt carries one settlement through its states.
type attempt struct {
	req      *Request
	res      *Result
	start    time.Time
	path     string
	discount *discount.Resolution
	warnings []string
}

func (a *attempt) fail(reason types.ReasonCode, msg string) *Result {
	a.res.State = types.SettlementStateFailed
	a.res.Reason = reason
	a.res.Message = msg
	return a.res
}

// Settle runs one checkout. Business outcomes (bad input, decline, rejected
// discount) come back as a Result; an error means an unexpected fault and
// nothing is reported to the caller beyond a generic failure.
func (s *Service) Settle(ctx context.Context, req *Request) (*Result, error) {
	if !req.Plan.Valid() {
		return nil, ErrInvalidPlan
	}
	// Once submitted a settlement runs to completion: a caller that goes
	// away after the charge must not abort the writes that follow it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	a := &attempt{
		req:   req,
		start: time.Now(),
		res: &Result{
			State:           types.SettlementStateStart,
			DiscountApplied: decimal.Zero,
			FinalAmount:     decimal.Zero,
		},
	}
	res, err := s.settle(ctx, a)
	s.finish(ctx, a, err)
	return res, err
}

func (s *Service) settle(ctx context.Context, a *attempt) (*Result, error) {
	req := a.req
	if req.UserID == "" {
		return a.fail(types.ReasonUnauthenticated, "Authentication required"), nil
	}
	lg := logctx.FromCtx(ctx, s.d.Log)

	a.res.State = types.SettlementStateValidating
	var clientAmount *decimal.Decimal
	if req.ClientAmount != "" {
		amt, err := decimal.NewFromString(strings.TrimSpace(req.ClientAmount))
		if err != nil || amt.IsNegative() {
			return a.fail(types.ReasonInvalidPaymentInput, "Invalid amount"), nil
		}
		clientAmount = &amt
	}

	_, err := s.d.Subscriptions.GetActive(ctx, req.UserID)
	switch {
	case err == nil:
		return a.fail(types.ReasonAlreadySubscribed, "You already have an active subscription"), nil
	case !errors.Is(err, subscription.ErrNoActiveSubscription):
		return nil, err
	}

	a.discount, err = s.d.Discounts.Resolve(ctx, req.DiscountCode)
	if err != nil {
		return nil, err
	}
	a.res.DiscountRejection = a.discount.Rejection
	if a.discount.Applied() {
		a.res.DiscountApplied = a.discount.Percentage
	}

	amount, err := pricing.Calculate(req.Plan, a.res.DiscountApplied)
	if err != nil {
		return nil, err
	}
	a.res.FinalAmount = amount
	if clientAmount != nil && !clientAmount.Equal(amount) {
		lg.Warnw("client amount differs from server amount",
			"client_amount", clientAmount.StringFixed(2), "final_amount", amount.StringFixed(2))
	}

	if pricing.IsFree(amount) {
		a.path = "free"
		return s.settleFree(ctx, a)
	}
	a.path = "paid"
	return s.settlePaid(ctx, a)
}

func (s *Service) settleFree(ctx context.Context, a *attempt) (*Result, error) {
	a.res.State = types.SettlementStateFreePath
	now := s.now()
	sub := s.newSubscription(a, now, types.FreeInstrument)

	a.res.State = types.SettlementStatePersisting
	var rejection types.DiscountRejection
	err := s.d.Tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.d.Subscriptions.Activate(ctx, sub, types.SubscriptionChangeReasonFreePurchase); err != nil {
			return err
		}
		if err := s.d.Credits.Initialize(ctx, a.req.UserID, credit.PremiumAllowance); err != nil {
			return err
		}
		if !a.discount.Applied() {
			return nil
		}
		r, err := s.d.Discounts.Redeem(ctx, a.discount.DiscountID)
		if err != nil {
			return err
		}
		if r != types.DiscountRejectionNone {
			rejection = r
			return errDiscountRejected
		}
		return nil
	})
	switch {
	case errors.Is(err, errDiscountRejected):
		a.res.DiscountRejection = rejection
		a.res.DiscountApplied = decimal.Zero
		return a.fail(types.ReasonDiscountExhausted, rejection.Message()), nil
	case errors.Is(err, subscription.ErrActiveSubscriptionExists):
		return a.fail(types.ReasonAlreadySubscribed, "You already have an active subscription"), nil
	case err != nil:
		return nil, fmt.Errorf("free settlement: %w", err)
	}

	s.d.Subscriptions.Publish(ctx, rabbitmq.RoutingKeySubscriptionActivated, sub)
	a.res.Success = true
	a.res.State = types.SettlementStateDone
	a.res.SubscriptionID = sub.ID
	a.res.Message = "Subscription activated with a 100% discount"
	return a.res, nil
}

var errDiscountRejected = errors.New("discount redemption rejected")

func (s *Service) settlePaid(ctx context.Context, a *attempt) (*Result, error) {
	req := a.req
	if msg := validatePaymentInput(req.Card, req.BillingAddress); msg != "" {
		return a.fail(types.ReasonInvalidPaymentInput, msg), nil
	}

	a.res.State = types.SettlementStateCharging
	now := s.now()
	charge, err := s.d.Gateway.Charge(ctx, &authorizenet.ChargeRequest{
		Card: authorizenet.CardData{
			Number:      req.Card.CardNumber,
			ExpiryMonth: req.Card.ExpiryMonth,
			ExpiryYear:  req.Card.ExpiryYear,
			CVV:         req.Card.CVV,
		},
		Amount: a.res.FinalAmount,
		Plan:   req.Plan,
		BillTo: authorizenet.BillingAddress{
			FirstName: req.BillingAddress.FirstName,
			LastName:  req.BillingAddress.LastName,
			Address:   req.BillingAddress.Address,
			City:      req.BillingAddress.City,
			State:     req.BillingAddress.State,
			Zip:       req.BillingAddress.Zip,
		},
		UserID:        req.UserID,
		ClientIP:      req.ClientIP,
		ScheduleStart: pricing.NextBillingDate(req.Plan, now),
	})
	if err != nil {
		return nil, fmt.Errorf("charge: %w", err)
	}
	if !charge.Approved {
		return a.fail(types.ReasonGatewayDeclined, charge.Message), nil
	}
	a.res.TransactionID = charge.TransactionID

	// Money has moved. From here on every failure is a warning: later steps
	// still run where that is safe, and nothing is rolled back.
	a.res.State = types.SettlementStatePersisting
	sub := s.newSubscription(a, now, tool.LastFour(req.Card.CardNumber))
	sub.TransactionID = &charge.TransactionID
	if charge.SubscriptionID != "" {
		sub.GatewaySubscriptionID = &charge.SubscriptionID
	}
	persisted := s.persistPaid(ctx, a, sub)

	if charge.ScheduleWarning != "" {
		a.warnings = append(a.warnings, charge.ScheduleWarning)
	}
	a.res.Success = true
	if len(a.warnings) == 0 {
		a.res.State = types.SettlementStateDone
		a.res.Message = "Payment successful"
	} else {
		a.res.State = types.SettlementStateDoneWithWarning
		a.res.Reason = types.ReasonScheduleIncomplete
		if !persisted {
			a.res.Reason = types.ReasonPersistenceIncomplete
		}
		a.res.Message = "Payment successful, but your subscription needs attention. Please contact support."
		a.res.Warning = strings.Join(a.warnings, "; ")
	}
	return a.res, nil
}

// persistPaid writes subscription, credits and discount usage in that order.
// A failed subscription write stops the sequence so a discount is never
// burned without a subscription to show for it. Returns false if any step failed.
func (s *Service) persistPaid(ctx context.Context, a *attempt, sub *models.Subscription) bool {
	lg := logctx.FromCtx(ctx, s.d.Log).With("transaction_id", a.res.TransactionID)

	if err := s.d.Subscriptions.Activate(ctx, sub, types.SubscriptionChangeReasonPurchase); err != nil {
		lg.Errorw("charged but subscription was not saved", "err", err)
		a.warnings = append(a.warnings, "subscription could not be saved")
		return false
	}
	a.res.SubscriptionID = sub.ID
	s.d.Subscriptions.Publish(ctx, rabbitmq.RoutingKeySubscriptionActivated, sub)

	ok := true
	if err := s.d.Credits.Initialize(ctx, a.req.UserID, credit.PremiumAllowance); err != nil {
		lg.Errorw("charged but credits were not initialized", "err", err)
		a.warnings = append(a.warnings, "credits could not be initialized")
		ok = false
	}
	if a.discount.Applied() {
		r, err := s.d.Discounts.Redeem(ctx, a.discount.DiscountID)
		switch {
		case err != nil:
			lg.Errorw("charged but discount usage was not recorded", "discount_code", a.discount.Code, "err", err)
			a.warnings = append(a.warnings, "discount usage could not be recorded")
			ok = false
		case r != types.DiscountRejectionNone:
			lg.Warnw("discount redeemed past its limit", "discount_code", a.discount.Code, "reason", r)
			a.warnings = append(a.warnings, "discount usage was rejected: "+string(r))
			ok = false
		}
	}
	return ok
}

func (s *Service) newSubscription(a *attempt, now time.Time, instrument string) *models.Subscription {
	next := pricing.NextBillingDate(a.req.Plan, now)
	sub := &models.Subscription{
		UserID:            a.req.UserID,
		Plan:              a.req.Plan,
		Amount:            a.res.FinalAmount,
		PaymentInstrument: instrument,
		StartedAt:         now,
		NextBillingDate:   &next,
	}
	if a.discount.Applied() {
		id := a.discount.DiscountID
		sub.DiscountCodeID = &id
	}
	return sub
}

// finish records the outcome in logs, metrics and the settlement log.
func (s *Service) finish(ctx context.Context, a *attempt, err error) {
	res := a.res
	if err != nil {
		res.State = types.SettlementStateFailed
	}
	path := a.path
	if path == "" {
		path = "none"
	}
	metrics.ObserveBusinessProcess("settlement", path, a.start)
	metrics.IncSettlement(string(a.req.Plan), string(res.State), string(res.Reason))

	code := a.req.DiscountCode
	if r := []rune(code); len(r) > maxLoggedCode {
		code = string(r[:maxLoggedCode])
	}
	lg := logctx.FromCtx(ctx, s.d.Log).With(
		"plan_type", a.req.Plan,
		"path", path,
		"state", res.State,
		"reason", res.Reason,
		"final_amount", res.FinalAmount.StringFixed(2),
		"discount_code", code,
		"discount_rejection", res.DiscountRejection,
		"transaction_id", res.TransactionID,
	)
	switch {
	case err != nil:
		lg.Errorw("settlement fault", "err", err)
	case res.State == types.SettlementStateDoneWithWarning:
		lg.Errorw("settlement done with warning", "warning", res.Warning)
	default:
		lg.Infow("settlement finished")
	}

	if s.d.Outcomes == nil || a.req.UserID == "" {
		return
	}
	entry := &models.SettlementLog{
		UserID:            a.req.UserID,
		Plan:              a.req.Plan,
		State:             res.State,
		Reason:            res.Reason,
		FinalAmount:       res.FinalAmount,
		DiscountCode:      code,
		DiscountRejection: res.DiscountRejection,
		TransactionID:     res.TransactionID,
		Message:           res.Message,
		Warning:           res.Warning,
	}
	if err != nil {
		entry.Message = err.Error()
	}
	s.d.Outcomes.Save(ctx, entry)
}
