// Package mtnmomo handles payment notifications from the MTN MoMo direct
// API. MTN signs the raw body with HMAC-SHA256 and ships the activation
// metadata as a JSON document inside payerMessage.
package mtnmomo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"railpay/internal/common/money"
	"railpay/internal/providers"
)

// SignatureHeader carries the hex HMAC-SHA256 digest of the raw body.
const SignatureHeader = "x-mtn-signature"

// Adapter implements providers.Provider for MTN MoMo.
type Adapter struct {
	apiKey          string
	defaultCurrency money.Currency
}

// New creates an MTN MoMo adapter with the API key used as HMAC secret.
func New(apiKey string, defaultCurrency money.Currency) *Adapter {
	return &Adapter{apiKey: apiKey, defaultCurrency: defaultCurrency}
}

// Name returns the provider id used in webhook routes.
func (a *Adapter) Name() string { return "mtn-momo" }

// Verify recomputes the body digest and compares it to the header.
func (a *Adapter) Verify(header http.Header, body []byte) error {
	if a.apiKey == "" {
		return fmt.Errorf("%w: API key not configured", providers.ErrInvalidSignature)
	}
	signature := header.Get(SignatureHeader)
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", providers.ErrInvalidSignature, SignatureHeader)
	}

	mac := hmac.New(sha256.New, []byte(a.apiKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return providers.ErrInvalidSignature
	}
	return nil
}

// flexAmount accepts MTN's amount field as either a JSON number or a
// quoted decimal string.
type flexAmount float64

func (f *flexAmount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexAmount(v)
	return nil
}

type webhookPayload struct {
	Status                 string     `json:"status"`
	ExternalID             string     `json:"externalId"`
	Amount                 flexAmount `json:"amount"`
	Currency               string     `json:"currency"`
	FinancialTransactionID string     `json:"financialTransactionId"`
	PayerMessage           string     `json:"payerMessage"`
	Payer                  struct {
		PartyID string `json:"partyId"`
	} `json:"payer"`
}

// Normalize maps an MTN MoMo notification onto the canonical event.
func (a *Adapter) Normalize(body []byte) (*providers.PaymentEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedPayload, err)
	}

	var status providers.EventStatus
	switch payload.Status {
	case "SUCCESSFUL":
		status = providers.StatusSucceeded
	case "FAILED":
		status = providers.StatusFailed
	default:
		return nil, fmt.Errorf("%w: status %q", providers.ErrIgnoredEvent, payload.Status)
	}

	var meta providers.EventMetadata
	if payload.PayerMessage != "" {
		if err := json.Unmarshal([]byte(payload.PayerMessage), &meta); err != nil {
			return nil, fmt.Errorf("%w: payerMessage metadata: %v", providers.ErrMalformedPayload, err)
		}
	}

	currency := a.defaultCurrency
	if payload.Currency != "" {
		currency = money.Currency(payload.Currency)
	}

	ev := &providers.PaymentEvent{
		Provider:        a.Name(),
		ProviderRef:     payload.FinancialTransactionID,
		ExternalTxRef:   payload.ExternalID,
		Amount:          money.NewFromMajor(float64(payload.Amount), currency),
		PayerIdentifier: payload.Payer.PartyID,
		Status:          status,
		Metadata:        meta,
	}

	if err := providers.ValidateEvent(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
