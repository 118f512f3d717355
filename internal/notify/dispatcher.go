package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"railpay/internal/common/database"
	"railpay/internal/common/metrics"
)

// Attempt records one delivery attempt and its outcome.
type Attempt struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Provider  string    `json:"provider"`
	Kind      Kind      `json:"kind"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	AttemptSent   = "sent"
	AttemptFailed = "failed"
)

// AttemptStore persists delivery attempts for observability.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt *Attempt) error
}

// PostgresAttemptStore writes attempts to notification_attempts.
type PostgresAttemptStore struct {
	db *database.DB
}

// NewPostgresAttemptStore creates the production attempt store.
func NewPostgresAttemptStore(db *database.DB) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db}
}

func (s *PostgresAttemptStore) RecordAttempt(ctx context.Context, attempt *Attempt) error {
	query := `
		INSERT INTO notification_attempts (id, recipient, provider, kind, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.Exec(ctx, query,
		attempt.ID, attempt.Recipient, attempt.Provider, attempt.Kind,
		attempt.Status, attempt.Error, attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording notification attempt: %w", err)
	}
	return nil
}

// Dispatcher walks the configured senders in priority order, one attempt
// each, stopping at the first success. Errors never escape Dispatch.
type Dispatcher struct {
	senders  []Sender
	attempts AttemptStore
	logger   *slog.Logger
}

// NewDispatcher creates the dispatcher. A nil attempt store disables
// persistence.
func NewDispatcher(senders []Sender, attempts AttemptStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{senders: senders, attempts: attempts, logger: logger}
}

// Dispatch delivers one message. Every attempt is recorded; a delivery
// failure on all providers is logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	for _, sender := range d.senders {
		err := sender.Send(ctx, msg)
		d.record(ctx, msg, sender.Name(), err)
		if err == nil {
			return
		}
		d.logger.Warn("sms attempt failed",
			"provider", sender.Name(),
			"kind", msg.Kind,
			"error", err,
		)
	}
	d.logger.Error("sms delivery exhausted all providers",
		"recipient", msg.Recipient,
		"kind", msg.Kind,
	)
}

// HandleQueued adapts Dispatch to the queue subscriber callback.
func (d *Dispatcher) HandleQueued(ctx context.Context, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		d.logger.Error("dropping malformed queued notification", "error", err)
		return nil
	}
	d.Dispatch(ctx, msg)
	return nil
}

func (d *Dispatcher) record(ctx context.Context, msg Message, provider string, sendErr error) {
	outcome := AttemptSent
	errText := ""
	if sendErr != nil {
		outcome = AttemptFailed
		errText = sendErr.Error()
	}
	metrics.IncNotificationAttempt(provider, outcome)

	if d.attempts == nil {
		return
	}
	attempt := &Attempt{
		ID:        ulid.Make().String(),
		Recipient: msg.Recipient,
		Provider:  provider,
		Kind:      msg.Kind,
		Status:    outcome,
		Error:     errText,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.attempts.RecordAttempt(ctx, attempt); err != nil {
		d.logger.Error("recording notification attempt failed", "error", err)
	}
}
