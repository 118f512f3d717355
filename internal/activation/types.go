// Package activation closes pending payment transactions and drives
// subscription state. Every state transition happens inside one atomic unit
// of work keyed by the external transaction reference, so gateway
// redeliveries and racing notifications converge on a single committed
// outcome.
package activation

import (
	"errors"
	"time"

	"railpay/internal/common/money"
)

// TransactionStatus tracks a payment transaction through its lifecycle.
// A transaction is created pending when the payment is initiated and closed
// exactly once, as completed or failed.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// SubscriptionStatus values. Subscriptions are never deleted; revoked is the
// terminal state set by an operator action.
type SubscriptionStatus string

const (
	SubActive        SubscriptionStatus = "active"
	SubPaymentFailed SubscriptionStatus = "payment_failed"
	SubSuspended     SubscriptionStatus = "suspended"
	SubRevoked       SubscriptionStatus = "revoked"
)

// BillingCycle of a plan. Anything other than one-time renews on a fixed
// 30-day cycle; billing is not calendar-month aware.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleOneTime BillingCycle = "one-time"
)

const (
	// billingPeriod is the fixed renewal period for recurring plans.
	billingPeriod = 30 * 24 * time.Hour

	// failureThreshold is the failed renewal count at which a
	// subscription is suspended rather than left payment_failed.
	failureThreshold = 3
)

// Transaction is one payment attempt, keyed by the gateway-stable external
// reference. ExternalTxRef is the idempotency key.
type Transaction struct {
	ID             string            `json:"id"`
	ExternalTxRef  string            `json:"external_tx_ref"`
	UserID         string            `json:"user_id"`
	SubscriptionID *string           `json:"subscription_id,omitempty"`
	Status         TransactionStatus `json:"status"`
	Amount         money.Money       `json:"amount"`
	Provider       string            `json:"provider"`
	ProviderRef    string            `json:"provider_ref"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Plan is a subscription product. Segment ties the plan to a passenger
// segment for settlement reporting.
type Plan struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Price        money.Money  `json:"price"`
	BillingCycle BillingCycle `json:"billing_cycle"`
	Features     []string     `json:"features"`
	Segment      string       `json:"segment"`
}

// Subscription is a user's enrollment in a plan.
type Subscription struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	PlanID          string             `json:"plan_id"`
	Status          SubscriptionStatus `json:"status"`
	StartDate       time.Time          `json:"start_date"`
	NextBillingDate *time.Time         `json:"next_billing_date,omitempty"`
	FailedAttempts  int                `json:"failed_attempts"`
	PhoneNumber     string             `json:"phone_number"`
	PaymentMethod   string             `json:"payment_method"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// UsageEvent is an append-only audit trail entry. Rows are never updated or
// deleted.
type UsageEvent struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	UserID         string         `json:"user_id"`
	EventType      string         `json:"event_type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Usage event types written by the engine.
const (
	EventSubscriptionActivated = "subscription_activated"
	EventSubscriptionRenewed   = "subscription_renewed"
	EventRenewalPaymentFailed  = "renewal_payment_failed"
)

var (
	// ErrUnknownPlan means the event referenced a plan id that does not
	// exist. The transaction is closed as failed; no subscription is
	// touched.
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrUnknownSubscription means a renewal referenced a subscription id
	// that does not exist.
	ErrUnknownSubscription = errors.New("unknown subscription")
)
