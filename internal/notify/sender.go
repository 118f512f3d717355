package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Sender delivers one SMS through one provider.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// HTTPSender posts messages as JSON to a provider gateway endpoint.
type HTTPSender struct {
	name     string
	endpoint string
	apiKey   string
	senderID string
	client   *http.Client
}

// NewHTTPSender creates a sender for one configured provider endpoint.
func NewHTTPSender(name, endpoint, apiKey, senderID string) *HTTPSender {
	return &HTTPSender{
		name:     name,
		endpoint: endpoint,
		apiKey:   apiKey,
		senderID: senderID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSender) Name() string { return s.name }

func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]string{
		"to":      msg.Recipient,
		"message": msg.Body,
		"from":    s.senderID,
	})
	if err != nil {
		return fmt.Errorf("marshaling sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending sms via %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms provider %s returned %d", s.name, resp.StatusCode)
	}
	return nil
}

// NoopSender logs instead of sending. Used in development when no provider
// is configured.
type NoopSender struct {
	logger *slog.Logger
}

// NewNoopSender creates the development sender.
func NewNoopSender(logger *slog.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

func (s *NoopSender) Name() string { return "noop" }

func (s *NoopSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("sms suppressed (noop sender)", "recipient", msg.Recipient, "kind", msg.Kind)
	return nil
}
