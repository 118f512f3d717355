// Package providers maps gateway-specific webhook payloads onto the
// canonical payment event consumed by the activation engine. Each gateway
// implements Provider; the webhook handler dispatches by provider id so the
// engine never sees gateway field names or success sentinels.
package providers

import (
	"errors"
	"fmt"
	"net/http"

	"railpay/internal/common/money"
)

// Event status after normalization.
type EventStatus string

const (
	StatusSucceeded EventStatus = "succeeded"
	StatusFailed    EventStatus = "failed"
)

// EventMetadata carries the activation context attached by the client that
// initiated the payment.
type EventMetadata struct {
	UserID         string `json:"user_id"`
	PlanID         string `json:"plan_id"`
	IsRenewal      bool   `json:"renewal"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	PaymentMethod  string `json:"payment_method,omitempty"`
}

// PaymentEvent is the canonical shape of a payment-completion notification.
// ExternalTxRef is the caller-assigned idempotency key: unique per
// real-world payment attempt, stable across gateway redeliveries.
type PaymentEvent struct {
	Provider        string        `json:"provider"`
	ProviderRef     string        `json:"provider_ref"`
	ExternalTxRef   string        `json:"external_tx_ref"`
	Amount          money.Money   `json:"amount"`
	PayerIdentifier string        `json:"payer_identifier"`
	Status          EventStatus   `json:"status"`
	Metadata        EventMetadata `json:"metadata"`
}

var (
	// ErrInvalidSignature means the authentication tag did not match.
	// Nothing beyond verification may run for such a payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload means a required field was absent or unusable
	// after normalization.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrIgnoredEvent marks event types the pipeline does not process
	// (acknowledged to the gateway, never activated).
	ErrIgnoredEvent = errors.New("ignored webhook event")
)

// Provider verifies and normalizes one gateway family's notifications.
// Verify must be pure and run against the raw body before any parsing
// with side effects.
type Provider interface {
	Name() string
	Verify(header http.Header, body []byte) error
	Normalize(body []byte) (*PaymentEvent, error)
}

// Registry holds the configured providers keyed by provider id.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry from the given providers.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Names lists the registered provider ids.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// MissingField builds the normalization error for an absent required field.
func MissingField(name string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformedPayload, name)
}

// ValidateEvent checks the fields every provider must supply.
func ValidateEvent(ev *PaymentEvent) error {
	switch {
	case ev.ExternalTxRef == "":
		return MissingField("transaction reference")
	case !ev.Amount.IsPositive():
		return MissingField("amount")
	case ev.PayerIdentifier == "":
		return MissingField("payer identifier")
	case ev.Metadata.UserID == "":
		return MissingField("user_id")
	case ev.Metadata.PlanID == "":
		return MissingField("plan_id")
	}
	return nil
}
