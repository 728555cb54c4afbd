package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/tradejournal/billing/pkg/types"
)

// SettlementLog is one row per checkout attempt. It must never carry card data.
type SettlementLog struct {
	ID                string                  `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID            string                  `gorm:"column:user_id;type:varchar(64);index" json:"user_id"`
	TraceID           string                  `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	Plan              types.PlanType          `gorm:"column:plan_type;type:varchar(16)" json:"plan_type"`
	State             types.SettlementState   `gorm:"column:state;type:varchar(32);not null;index" json:"state"`
	Reason            types.ReasonCode        `gorm:"column:reason;type:varchar(64)" json:"reason"`
	FinalAmount       decimal.Decimal         `gorm:"column:final_amount;type:numeric(12,2)" json:"final_amount"`
	DiscountCode      string                  `gorm:"column:discount_code;type:varchar(64)" json:"discount_code"`
	DiscountRejection types.DiscountRejection `gorm:"column:discount_rejection;type:varchar(32)" json:"discount_rejection"`
	TransactionID     string                  `gorm:"column:transaction_id;type:varchar(64)" json:"transaction_id"`
	Message           string                  `gorm:"column:message;type:text" json:"message"`
	Warning           string                  `gorm:"column:warning;type:text" json:"warning"`
	Extra             datatypes.JSONMap       `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt         time.Time               `gorm:"index" json:"created_at"`
}

func (SettlementLog) TableName() string {
	return "settlement_logs"
}
