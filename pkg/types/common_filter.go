package types

import (
	"fmt"
	"slices"

	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq        CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq     CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt        CommonFilterOperator = "lt"
	CommonFilterOperatorLte       CommonFilterOperator = "lte"
	CommonFilterOperatorGt        CommonFilterOperator = "gt"
	CommonFilterOperatorGte       CommonFilterOperator = "gte"
	CommonFilterOperatorDateRange CommonFilterOperator = "date_range"
	CommonFilterOperatorRange     CommonFilterOperator = "range"
	CommonFilterOperatorIn        CommonFilterOperator = "in"
)

// CommonFilter is one admin query condition on a whitelisted column.
type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
}

func (f *CommonFilter) arity() (int, bool) {
	switch f.Operator {
	case CommonFilterOperatorEq, CommonFilterOperatorNotEq,
		CommonFilterOperatorLt, CommonFilterOperatorLte,
		CommonFilterOperatorGt, CommonFilterOperatorGte:
		return 1, true
	case CommonFilterOperatorRange, CommonFilterOperatorDateRange:
		return 2, true
	case CommonFilterOperatorIn:
		return 1, true
	}
	return 0, false
}

// Build writes the condition. Field must have been checked by Filters.Validate.
func (f *CommonFilter) Build(builder clause.Builder) {
	col := clause.Column{Name: f.Field}
	switch f.Operator {
	case CommonFilterOperatorEq:
		clause.Eq{Column: col, Value: f.Values[0]}.Build(builder)
	case CommonFilterOperatorNotEq:
		clause.Neq{Column: col, Value: f.Values[0]}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: col, Value: f.Values[0]}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: col, Value: f.Values[0]}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: col, Value: f.Values[0]}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: col, Value: f.Values[0]}.Build(builder)
	case CommonFilterOperatorRange:
		clause.And(clause.Gte{Column: col, Value: f.Values[0]}, clause.Lte{Column: col, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorDateRange:
		// end date is exclusive
		clause.And(clause.Gte{Column: col, Value: f.Values[0]}, clause.Lt{Column: col, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: col, Values: f.Values}.Build(builder)
	}
}

// Filters joins conditions with AND.
type Filters []*CommonFilter

// Validate rejects nil filters, fields outside allowed, unknown operators and
// missing values.
func (fs Filters) Validate(allowed []string) error {
	for _, f := range fs {
		if f == nil {
			return fmt.Errorf("nil filter")
		}
		if !slices.Contains(allowed, f.Field) {
			return fmt.Errorf("unsupported filter field %q", f.Field)
		}
		n, ok := f.arity()
		if !ok {
			return fmt.Errorf("unsupported filter operator %q", f.Operator)
		}
		if len(f.Values) < n {
			return fmt.Errorf("filter on %q needs %d value(s)", f.Field, n)
		}
	}
	return nil
}

func (fs Filters) Build(builder clause.Builder) {
	if len(fs) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, f := range fs {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		f.Build(builder)
	}
}
