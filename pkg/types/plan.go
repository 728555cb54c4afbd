package types

type PlanType string

const (
	PlanTypeMonthly PlanType = "monthly"
	PlanTypeYearly  PlanType = "yearly"
)

func (p PlanType) Valid() bool {
	return p == PlanTypeMonthly || p == PlanTypeYearly
}

// IntervalMonths is the recurring billing interval registered with the card gateway.
func (p PlanType) IntervalMonths() int {
	if p == PlanTypeYearly {
		return 12
	}
	return 1
}

// PeriodDays is the length of one paid period used for next_billing_date.
func (p PlanType) PeriodDays() int {
	if p == PlanTypeYearly {
		return 365
	}
	return 30
}
