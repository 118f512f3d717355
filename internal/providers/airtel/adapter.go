// Package airtel handles payment notifications from the Airtel Money API.
package airtel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"railpay/internal/common/money"
	"railpay/internal/providers"
)

// SignatureHeader carries the hex HMAC-SHA256 digest of the raw body.
const SignatureHeader = "x-airtel-signature"

// Adapter implements providers.Provider for Airtel Money.
type Adapter struct {
	clientSecret    string
	defaultCurrency money.Currency
}

// New creates an Airtel adapter with the client secret used as HMAC secret.
func New(clientSecret string, defaultCurrency money.Currency) *Adapter {
	return &Adapter{clientSecret: clientSecret, defaultCurrency: defaultCurrency}
}

// Name returns the provider id used in webhook routes.
func (a *Adapter) Name() string { return "airtel-money" }

// Verify recomputes the body digest and compares it to the header.
func (a *Adapter) Verify(header http.Header, body []byte) error {
	if a.clientSecret == "" {
		return fmt.Errorf("%w: client secret not configured", providers.ErrInvalidSignature)
	}
	signature := header.Get(SignatureHeader)
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", providers.ErrInvalidSignature, SignatureHeader)
	}

	mac := hmac.New(sha256.New, []byte(a.clientSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return providers.ErrInvalidSignature
	}
	return nil
}

type webhookPayload struct {
	Transaction struct {
		ID            string  `json:"id"`
		Status        string  `json:"status"`
		Amount        float64 `json:"amount"`
		Currency      string  `json:"currency"`
		MSISDN        string  `json:"msisdn"`
		AirtelMoneyID string  `json:"airtel_money_id"`
		Message       string  `json:"message"`
	} `json:"transaction"`
}

// Normalize maps an Airtel Money notification onto the canonical event.
// Airtel nests everything under transaction and ships the activation
// metadata as a JSON document in the message field.
func (a *Adapter) Normalize(body []byte) (*providers.PaymentEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedPayload, err)
	}

	tx := payload.Transaction

	var status providers.EventStatus
	switch tx.Status {
	case "SUCCESS":
		status = providers.StatusSucceeded
	case "FAILED":
		status = providers.StatusFailed
	default:
		return nil, fmt.Errorf("%w: status %q", providers.ErrIgnoredEvent, tx.Status)
	}

	var meta providers.EventMetadata
	if tx.Message != "" {
		if err := json.Unmarshal([]byte(tx.Message), &meta); err != nil {
			return nil, fmt.Errorf("%w: message metadata: %v", providers.ErrMalformedPayload, err)
		}
	}

	currency := a.defaultCurrency
	if tx.Currency != "" {
		currency = money.Currency(tx.Currency)
	}

	ev := &providers.PaymentEvent{
		Provider:        a.Name(),
		ProviderRef:     tx.AirtelMoneyID,
		ExternalTxRef:   tx.ID,
		Amount:          money.NewFromMajor(tx.Amount, currency),
		PayerIdentifier: tx.MSISDN,
		Status:          status,
		Metadata:        meta,
	}

	if err := providers.ValidateEvent(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
