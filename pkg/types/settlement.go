package types

// SettlementState is the state of a single settlement attempt.
//
//	start -> validating -> (free_path | charging) -> persisting -> done
//
// failed is reachable from validating and charging; persisting failures end
// in done_with_warning because money may already have moved.
type SettlementState string

const (
	SettlementStateStart           SettlementState = "start"
	SettlementStateValidating      SettlementState = "validating"
	SettlementStateFreePath        SettlementState = "free_path"
	SettlementStateCharging        SettlementState = "charging"
	SettlementStatePersisting      SettlementState = "persisting"
	SettlementStateDone            SettlementState = "done"
	SettlementStateDoneWithWarning SettlementState = "done_with_warning"
	SettlementStateFailed          SettlementState = "failed"
)

func (s SettlementState) Succeeded() bool {
	return s == SettlementStateDone || s == SettlementStateDoneWithWarning
}

// ReasonCode classifies why a settlement did not end in a clean done state.
type ReasonCode string

const (
	ReasonUnauthenticated       ReasonCode = "UNAUTHENTICATED"
	ReasonInvalidPaymentInput   ReasonCode = "INVALID_PAYMENT_INPUT"
	ReasonAlreadySubscribed     ReasonCode = "ALREADY_SUBSCRIBED"
	ReasonGatewayDeclined       ReasonCode = "GATEWAY_DECLINED"
	ReasonDiscountExhausted     ReasonCode = "DISCOUNT_EXHAUSTED"
	ReasonPersistenceIncomplete ReasonCode = "PERSISTENCE_INCOMPLETE"
	ReasonScheduleIncomplete    ReasonCode = "SCHEDULE_INCOMPLETE"
)

// DiscountRejection is the reason a discount code could not be applied.
type DiscountRejection string

const (
	DiscountRejectionNone      DiscountRejection = ""
	DiscountRejectionNotFound  DiscountRejection = "NOT_FOUND"
	DiscountRejectionExpired   DiscountRejection = "EXPIRED"
	DiscountRejectionExhausted DiscountRejection = "EXHAUSTED"
)

func (r DiscountRejection) Message() string {
	switch r {
	case DiscountRejectionNotFound:
		return "Discount code not found"
	case DiscountRejectionExpired:
		return "Discount code has expired"
	case DiscountRejectionExhausted:
		return "Discount code has reached its usage limit"
	default:
		return ""
	}
}
