package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradejournal/billing/pkg/types"
)

// Subscription is a user's plan subscription. Rows are never deleted; a
// cancellation only flips Status and sets CanceledAt.
//
// At most one active row per user is allowed, enforced by a partial unique index.
type Subscription struct {
	ID     string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string                   `gorm:"column:user_id;type:varchar(64);not null;index;uniqueIndex:idx_subscriptions_one_active,where:status = 'active'" json:"user_id"`
	Plan   types.PlanType           `gorm:"column:plan_type;type:varchar(16);not null" json:"plan_type"`
	Status types.SubscriptionStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	Amount decimal.Decimal          `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	// PaymentInstrument is the card's last four digits or "FREE".
	PaymentInstrument     string     `gorm:"column:payment_instrument;type:varchar(8);not null" json:"payment_instrument"`
	DiscountCodeID        *string    `gorm:"column:discount_code_id;type:uuid;default:null" json:"discount_code_id"`
	TransactionID         *string    `gorm:"column:transaction_id;type:varchar(64);default:null" json:"transaction_id"`
	GatewaySubscriptionID *string    `gorm:"column:gateway_subscription_id;type:varchar(64);default:null" json:"gateway_subscription_id"`
	StartedAt             time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	NextBillingDate       *time.Time `gorm:"column:next_billing_date;default:null" json:"next_billing_date"`
	CanceledAt            *time.Time `gorm:"column:canceled_at;default:null" json:"canceled_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

func (s *Subscription) Active() bool {
	return s != nil && s.Status == types.SubscriptionStatusActive
}
