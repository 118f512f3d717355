// Package flutterwave handles charge.completed notifications from the
// Flutterwave gateway (MTN, Airtel and Zamtel mobile money plus cards).
package flutterwave

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"railpay/internal/common/money"
	"railpay/internal/providers"
)

const (
	// SignatureHeader carries the shared secret configured in the
	// Flutterwave dashboard.
	SignatureHeader = "verif-hash"

	eventChargeCompleted = "charge.completed"
)

// Adapter implements providers.Provider for Flutterwave.
type Adapter struct {
	secretHash      string
	defaultCurrency money.Currency
}

// New creates a Flutterwave adapter with the dashboard secret hash.
func New(secretHash string, defaultCurrency money.Currency) *Adapter {
	return &Adapter{secretHash: secretHash, defaultCurrency: defaultCurrency}
}

// Name returns the provider id used in webhook routes.
func (a *Adapter) Name() string { return "flutterwave" }

// Verify compares the verif-hash header against the configured secret.
// Flutterwave sends the secret verbatim rather than a body digest.
func (a *Adapter) Verify(header http.Header, _ []byte) error {
	if a.secretHash == "" {
		return fmt.Errorf("%w: secret hash not configured", providers.ErrInvalidSignature)
	}
	signature := header.Get(SignatureHeader)
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", providers.ErrInvalidSignature, SignatureHeader)
	}
	if subtle.ConstantTimeCompare([]byte(signature), []byte(a.secretHash)) != 1 {
		return providers.ErrInvalidSignature
	}
	return nil
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Status   string  `json:"status"`
		TxRef    string  `json:"tx_ref"`
		FlwRef   string  `json:"flw_ref"`
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
		Customer struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"customer"`
		Meta struct {
			UserID         string `json:"user_id"`
			PlanID         string `json:"plan_id"`
			Renewal        bool   `json:"renewal"`
			SubscriptionID string `json:"subscription_id"`
			PaymentMethod  string `json:"payment_method"`
		} `json:"meta"`
	} `json:"data"`
}

// Normalize maps a charge.completed payload onto the canonical event.
// Events other than charge.completed are acknowledged but not processed.
func (a *Adapter) Normalize(body []byte) (*providers.PaymentEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedPayload, err)
	}

	if payload.Event != eventChargeCompleted {
		return nil, fmt.Errorf("%w: %s", providers.ErrIgnoredEvent, payload.Event)
	}

	var status providers.EventStatus
	switch strings.ToLower(payload.Data.Status) {
	case "successful":
		status = providers.StatusSucceeded
	case "failed":
		status = providers.StatusFailed
	default:
		return nil, fmt.Errorf("%w: charge status %q", providers.ErrIgnoredEvent, payload.Data.Status)
	}

	currency := a.defaultCurrency
	if payload.Data.Currency != "" {
		currency = money.Currency(payload.Data.Currency)
	}

	ev := &providers.PaymentEvent{
		Provider:        a.Name(),
		ProviderRef:     payload.Data.FlwRef,
		ExternalTxRef:   payload.Data.TxRef,
		Amount:          money.NewFromMajor(payload.Data.Amount, currency),
		PayerIdentifier: payload.Data.Customer.PhoneNumber,
		Status:          status,
		Metadata: providers.EventMetadata{
			UserID:         payload.Data.Meta.UserID,
			PlanID:         payload.Data.Meta.PlanID,
			IsRenewal:      payload.Data.Meta.Renewal,
			SubscriptionID: payload.Data.Meta.SubscriptionID,
			PaymentMethod:  payload.Data.Meta.PaymentMethod,
		},
	}

	if err := providers.ValidateEvent(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
