package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountCode is an administratively managed percentage discount.
type DiscountCode struct {
	ID         string          `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Code       string          `gorm:"column:code;type:varchar(64);not null;uniqueIndex" json:"code"`
	Percentage decimal.Decimal `gorm:"column:percentage;type:numeric(5,2);not null" json:"percentage"`
	Active     bool            `gorm:"column:active;not null;default:true" json:"active"`
	ExpiresAt  *time.Time      `gorm:"column:expires_at;default:null" json:"expires_at"`
	MaxUses    *int            `gorm:"column:max_uses;default:null" json:"max_uses"`
	UsesCount  int             `gorm:"column:uses_count;not null;default:0" json:"uses_count"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (DiscountCode) TableName() string {
	return "discount_codes"
}

func (d *DiscountCode) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !d.ExpiresAt.After(now)
}

func (d *DiscountCode) Exhausted() bool {
	return d.MaxUses != nil && d.UsesCount >= *d.MaxUses
}
