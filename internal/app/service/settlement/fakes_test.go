package settlement

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradejournal/billing/internal/app/service/discount"
	"github.com/tradejournal/billing/internal/app/service/subscription"
	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/internal/platform/authorizenet"
	"github.com/tradejournal/billing/pkg/tool"
	"github.com/tradejournal/billing/pkg/types"
)

type fakeCode struct {
	id        string
	pct       decimal.Decimal
	expiresAt *time.Time
	maxUses   *int
	uses      int
}

// memStore is an in-memory stand-in for the postgres tables. Transaction
// serializes callers and restores a snapshot when fn fails. Writes fail on a
// done context like a gorm statement would.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	codes         map[string]*fakeCode // by code
	subs          map[string]*models.Subscription
	credits       map[string]int
	published     []string
	failActivate  error
	failCredits   error
	failRedeemErr error
}

func newMemStore() *memStore {
	return &memStore{
		codes:   map[string]*fakeCode{},
		subs:    map[string]*models.Subscription{},
		credits: map[string]int{},
	}
}

func (m *memStore) addCode(code string, pct int64, maxUses *int, expiresAt *time.Time) *fakeCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &fakeCode{id: tool.GenerateUUIDV7(), pct: decimal.NewFromInt(pct), maxUses: maxUses, expiresAt: expiresAt}
	m.codes[code] = c
	return c
}

func (m *memStore) uses(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[code].uses
}

func (m *memStore) sub(userID string) *models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[userID]
}

func (m *memStore) creditsFor(userID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[userID]
	return c, ok
}

func (m *memStore) rejection(c *fakeCode, now time.Time) types.DiscountRejection {
	switch {
	case c.expiresAt != nil && !c.expiresAt.After(now):
		return types.DiscountRejectionExpired
	case c.maxUses != nil && c.uses >= *c.maxUses:
		return types.DiscountRejectionExhausted
	}
	return types.DiscountRejectionNone
}

func (m *memStore) Resolve(_ context.Context, code string) (*discount.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := &discount.Resolution{Code: code, Percentage: decimal.Zero}
	if code == "" {
		return res, nil
	}
	c, ok := m.codes[code]
	if !ok {
		res.Rejection = types.DiscountRejectionNotFound
		return res, nil
	}
	if res.Rejection = m.rejection(c, time.Now()); res.Rejection != types.DiscountRejectionNone {
		return res, nil
	}
	res.DiscountID, res.Percentage = c.id, c.pct
	return res, nil
}

func (m *memStore) Redeem(ctx context.Context, id string) (types.DiscountRejection, error) {
	if err := ctx.Err(); err != nil {
		return types.DiscountRejectionNone, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRedeemErr != nil {
		return types.DiscountRejectionNone, m.failRedeemErr
	}
	for _, c := range m.codes {
		if c.id != id {
			continue
		}
		if r := m.rejection(c, time.Now()); r != types.DiscountRejectionNone {
			return r, nil
		}
		c.uses++
		return types.DiscountRejectionNone, nil
	}
	return types.DiscountRejectionNotFound, nil
}

func (m *memStore) GetActive(_ context.Context, userID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[userID]; ok && s.Active() {
		return s, nil
	}
	return nil, subscription.ErrNoActiveSubscription
}

func (m *memStore) Activate(ctx context.Context, sub *models.Subscription, _ types.SubscriptionChangeReason) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failActivate != nil {
		return m.failActivate
	}
	if s, ok := m.subs[sub.UserID]; ok && s.Active() {
		return subscription.ErrActiveSubscriptionExists
	}
	sub.ID = tool.GenerateUUIDV7()
	sub.Status = types.SubscriptionStatusActive
	cp := *sub
	m.subs[sub.UserID] = &cp
	return nil
}

func (m *memStore) Publish(_ context.Context, routingKey string, _ *models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, routingKey)
}

func (m *memStore) Initialize(ctx context.Context, userID string, allowance int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCredits != nil {
		return m.failCredits
	}
	if _, ok := m.credits[userID]; !ok {
		m.credits[userID] = allowance
	}
	return nil
}

func (m *memStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	subs := maps.Clone(m.subs)
	credits := maps.Clone(m.credits)
	uses := map[string]int{}
	for k, c := range m.codes {
		uses[k] = c.uses
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.subs, m.credits = subs, credits
		for k, c := range m.codes {
			c.uses = uses[k]
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

type fakeGateway struct {
	mu     sync.Mutex
	result *authorizenet.ChargeResult
	err    error
	calls  []*authorizenet.ChargeRequest
	// afterCharge runs once the charge has been decided.
	afterCharge func()
}

func (g *fakeGateway) Charge(_ context.Context, req *authorizenet.ChargeRequest) (*authorizenet.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.afterCharge != nil {
		defer g.afterCharge()
	}
	if g.err != nil {
		return nil, g.err
	}
	if g.result != nil {
		return g.result, nil
	}
	return &authorizenet.ChargeResult{Approved: true, TransactionID: "tx-1", SubscriptionID: "arb-1", Message: "Payment successful"}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordedOutcomes struct {
	mu      sync.Mutex
	entries []*models.SettlementLog
}

func (r *recordedOutcomes) Save(_ context.Context, e *models.SettlementLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

var errStoreDown = errors.New("store unavailable")
