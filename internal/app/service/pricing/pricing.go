// Package pricing computes what a plan costs after a percentage discount.
// Every function here is pure.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradejournal/billing/pkg/types"
)

var (
	monthlyPrice = decimal.RequireFromString("9.99")
	yearlyPrice  = decimal.RequireFromString("99.99")

	hundred = decimal.NewFromInt(100)
)

// BasePrice returns the undiscounted price of one plan period.
func BasePrice(plan types.PlanType) (decimal.Decimal, error) {
	switch plan {
	case types.PlanTypeMonthly:
		return monthlyPrice, nil
	case types.PlanTypeYearly:
		return yearlyPrice, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown plan type %q", plan)
	}
}

// Calculate returns max(0, base*(100-pct)/100) rounded half-up to the cent.
// Percentages outside [0,100] are clamped.
func Calculate(plan types.PlanType, pct decimal.Decimal) (decimal.Decimal, error) {
	base, err := BasePrice(plan)
	if err != nil {
		return decimal.Zero, err
	}
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	amount := base.Mul(hundred.Sub(pct)).Div(hundred)
	return decimal.Max(decimal.Zero, amount).Round(2), nil
}

// IsFree reports whether a rounded amount takes the free path.
func IsFree(amount decimal.Decimal) bool {
	return amount.Round(2).IsZero()
}

// NextBillingDate is the start of the next paid period.
func NextBillingDate(plan types.PlanType, from time.Time) time.Time {
	return from.AddDate(0, 0, plan.PeriodDays())
}
