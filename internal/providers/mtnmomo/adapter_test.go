package mtnmomo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"railpay/internal/common/money"
	"railpay/internal/providers"
)

const testKey = "momo-api-key"

func sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

const successBody = `{
	"status": "SUCCESSFUL",
	"externalId": "SR-CMT-20260109-0815",
	"amount": "25.00",
	"currency": "ZMW",
	"financialTransactionId": "MOMO-77231",
	"payerMessage": "{\"user_id\":\"usr_010\",\"plan_id\":\"sentinel_commuter\"}",
	"payer": {"partyIdType": "MSISDN", "partyId": "260961112222"}
}`

func TestVerify(t *testing.T) {
	adapter := New(testKey, money.ZMW)
	body := []byte(successBody)

	t.Run("accepts valid digest", func(t *testing.T) {
		header := http.Header{}
		header.Set(SignatureHeader, sign(testKey, body))
		if err := adapter.Verify(header, body); err != nil {
			t.Fatalf("Verify() = %v, want nil", err)
		}
	})

	t.Run("rejects digest from wrong key", func(t *testing.T) {
		header := http.Header{}
		header.Set(SignatureHeader, sign("other-key", body))
		if err := adapter.Verify(header, body); !errors.Is(err, providers.ErrInvalidSignature) {
			t.Fatalf("Verify() = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("rejects tampered body", func(t *testing.T) {
		header := http.Header{}
		header.Set(SignatureHeader, sign(testKey, body))
		tampered := []byte(`{"status":"SUCCESSFUL","amount":"9999.00"}`)
		if err := adapter.Verify(header, tampered); !errors.Is(err, providers.ErrInvalidSignature) {
			t.Fatalf("Verify() = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("rejects missing header", func(t *testing.T) {
		if err := adapter.Verify(http.Header{}, body); !errors.Is(err, providers.ErrInvalidSignature) {
			t.Fatalf("Verify() = %v, want ErrInvalidSignature", err)
		}
	})
}

func TestNormalize(t *testing.T) {
	adapter := New(testKey, money.ZMW)

	t.Run("maps successful payment", func(t *testing.T) {
		ev, err := adapter.Normalize([]byte(successBody))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if ev.Provider != "mtn-momo" {
			t.Errorf("Provider = %q, want mtn-momo", ev.Provider)
		}
		if ev.ExternalTxRef != "SR-CMT-20260109-0815" {
			t.Errorf("ExternalTxRef = %q", ev.ExternalTxRef)
		}
		if ev.ProviderRef != "MOMO-77231" {
			t.Errorf("ProviderRef = %q", ev.ProviderRef)
		}
		if got := ev.Amount.AmountMinor; got != 2500 {
			t.Errorf("AmountMinor = %d, want 2500", got)
		}
		if ev.PayerIdentifier != "260961112222" {
			t.Errorf("PayerIdentifier = %q", ev.PayerIdentifier)
		}
		if ev.Metadata.UserID != "usr_010" || ev.Metadata.PlanID != "sentinel_commuter" {
			t.Errorf("Metadata = %+v", ev.Metadata)
		}
	})

	t.Run("accepts numeric amount", func(t *testing.T) {
		body := `{"status":"SUCCESSFUL","externalId":"SR-1","amount":95.5,"currency":"ZMW","financialTransactionId":"M-1","payerMessage":"{\"user_id\":\"u\",\"plan_id\":\"p\"}","payer":{"partyId":"260960000001"}}`
		ev, err := adapter.Normalize([]byte(body))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if got := ev.Amount.AmountMinor; got != 9550 {
			t.Errorf("AmountMinor = %d, want 9550", got)
		}
	})

	t.Run("maps failed payment", func(t *testing.T) {
		body := `{"status":"FAILED","externalId":"SR-2","amount":"25.00","currency":"ZMW","payerMessage":"{\"user_id\":\"u\",\"plan_id\":\"p\",\"renewal\":true}","payer":{"partyId":"260960000002"}}`
		ev, err := adapter.Normalize([]byte(body))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if ev.Status != providers.StatusFailed {
			t.Errorf("Status = %q, want failed", ev.Status)
		}
		if !ev.Metadata.IsRenewal {
			t.Error("IsRenewal = false, want true")
		}
	})

	t.Run("ignores pending status", func(t *testing.T) {
		body := `{"status":"PENDING","externalId":"SR-3","amount":"25.00","payer":{"partyId":"260960000003"}}`
		if _, err := adapter.Normalize([]byte(body)); !errors.Is(err, providers.ErrIgnoredEvent) {
			t.Fatalf("Normalize() = %v, want ErrIgnoredEvent", err)
		}
	})

	t.Run("rejects unparseable payerMessage", func(t *testing.T) {
		body := `{"status":"SUCCESSFUL","externalId":"SR-4","amount":"25.00","payerMessage":"thanks for riding","payer":{"partyId":"260960000004"}}`
		if _, err := adapter.Normalize([]byte(body)); !errors.Is(err, providers.ErrMalformedPayload) {
			t.Fatalf("Normalize() = %v, want ErrMalformedPayload", err)
		}
	})

	t.Run("rejects missing externalId", func(t *testing.T) {
		body := `{"status":"SUCCESSFUL","amount":"25.00","payerMessage":"{\"user_id\":\"u\",\"plan_id\":\"p\"}","payer":{"partyId":"260960000005"}}`
		if _, err := adapter.Normalize([]byte(body)); !errors.Is(err, providers.ErrMalformedPayload) {
			t.Fatalf("Normalize() = %v, want ErrMalformedPayload", err)
		}
	})
}
