package types

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonPurchase     SubscriptionChangeReason = "purchase"
	SubscriptionChangeReasonFreePurchase SubscriptionChangeReason = "free_purchase"
	SubscriptionChangeReasonCancel       SubscriptionChangeReason = "cancel"
)

// FreeInstrument is stored as the masked payment instrument of subscriptions
// settled without a card charge.
const FreeInstrument = "FREE"
