package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/internal/platform/db/dbtest"
	"github.com/tradejournal/billing/pkg/dbctx"
	"github.com/tradejournal/billing/pkg/types"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func newSub(userID string, plan types.PlanType, amount string) *models.Subscription {
	next := time.Now().AddDate(0, 0, plan.PeriodDays())
	return &models.Subscription{
		UserID:            userID,
		Plan:              plan,
		Amount:            decimal.RequireFromString(amount),
		PaymentInstrument: "1111",
		NextBillingDate:   &next,
	}
}

func TestActivate_SingleActivePerUser(t *testing.T) {
	db := dbtest.New(t)
	s := NewService(db, zap.NewNop().Sugar(), &recordingPublisher{})
	ctx := context.Background()

	first := newSub("u1", types.PlanTypeMonthly, "9.99")
	require.NoError(t, s.Activate(ctx, first, types.SubscriptionChangeReasonPurchase))
	require.NotEmpty(t, first.ID)
	require.Equal(t, types.SubscriptionStatusActive, first.Status)

	err := s.Activate(ctx, newSub("u1", types.PlanTypeYearly, "99.99"), types.SubscriptionChangeReasonPurchase)
	require.ErrorIs(t, err, ErrActiveSubscriptionExists)

	// another user is unaffected
	require.NoError(t, s.Activate(ctx, newSub("u2", types.PlanTypeYearly, "99.99"), types.SubscriptionChangeReasonPurchase))

	got, err := s.GetActive(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)
	require.True(t, got.Amount.Equal(decimal.RequireFromString("9.99")))
}

func TestCancel(t *testing.T) {
	db := dbtest.New(t)
	pub := &recordingPublisher{}
	s := NewService(db, zap.NewNop().Sugar(), pub)
	ctx := context.Background()

	_, err := s.Cancel(ctx, "u1")
	require.ErrorIs(t, err, ErrNoActiveSubscription)

	require.NoError(t, s.Activate(ctx, newSub("u1", types.PlanTypeMonthly, "9.99"), types.SubscriptionChangeReasonPurchase))
	canceled, err := s.Cancel(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	require.Nil(t, canceled.NextBillingDate)

	_, err = s.GetActive(ctx, "u1")
	require.ErrorIs(t, err, ErrNoActiveSubscription)

	var stored models.Subscription
	require.NoError(t, db.First(&stored, "id = ?", canceled.ID).Error)
	require.Equal(t, types.SubscriptionStatusCanceled, stored.Status)
	require.NotNil(t, stored.CanceledAt)

	// the canceled row does not block a new subscription
	require.NoError(t, s.Activate(ctx, newSub("u1", types.PlanTypeYearly, "99.99"), types.SubscriptionChangeReasonPurchase))

	require.Eventually(t, func() bool {
		keys := pub.published()
		return len(keys) == 1 && keys[0] == "subscription.canceled"
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		var n int64
		db.Model(&models.SubscriptionLog{}).Where("user_id = ?", "u1").Count(&n)
		return n == 3
	}, 2*time.Second, 20*time.Millisecond)
}

func TestScan(t *testing.T) {
	db := dbtest.New(t)
	s := NewService(db, zap.NewNop().Sugar(), nil)
	ctx := context.Background()

	for i, u := range []string{"a", "b", "c"} {
		plan := types.PlanTypeMonthly
		if i == 2 {
			plan = types.PlanTypeYearly
		}
		require.NoError(t, s.Activate(ctx, newSub(u, plan, "9.99"), types.SubscriptionChangeReasonPurchase))
	}

	res, err := s.Scan(ctx, &ScanRequest{
		Filters: []*types.CommonFilter{{Field: "plan_type", Operator: types.CommonFilterOperatorEq, Values: []any{"monthly"}}},
		SortBy:  "user_id", SortOrder: "asc",
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Total)
	require.Len(t, res.Items, 2)
	require.Equal(t, "a", res.Items[0].UserID)

	_, err = s.Scan(ctx, &ScanRequest{Filters: []*types.CommonFilter{{Field: "1=1; --", Operator: types.CommonFilterOperatorEq, Values: []any{1}}}})
	require.Error(t, err)
	_, err = s.Scan(ctx, &ScanRequest{SortBy: "password"})
	require.Error(t, err)
}

func TestActivate_LogFollowsEnclosingTransaction(t *testing.T) {
	db := dbtest.New(t)
	s := NewService(db, zap.NewNop().Sugar(), nil)
	tx := dbctx.NewTransactor(db)
	ctx := context.Background()

	errAbort := errors.New("abort")
	err := tx.Transaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Activate(ctx, newSub("u-rolled", types.PlanTypeYearly, "0.00"), types.SubscriptionChangeReasonFreePurchase))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	err = tx.Transaction(ctx, func(ctx context.Context) error {
		return s.Activate(ctx, newSub("u-kept", types.PlanTypeYearly, "0.00"), types.SubscriptionChangeReasonFreePurchase)
	})
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&models.SubscriptionLog{}).Where("user_id = ?", "u-kept").Count(&n).Error)
	require.EqualValues(t, 1, n)

	require.NoError(t, db.Model(&models.SubscriptionLog{}).Where("user_id = ?", "u-rolled").Count(&n).Error)
	require.Zero(t, n)
	require.NoError(t, db.Model(&models.Subscription{}).Where("user_id = ?", "u-rolled").Count(&n).Error)
	require.Zero(t, n)
}
