package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"railpay/internal/common/database"
	"railpay/internal/common/money"
	"railpay/internal/providers"
)

// TxStore is the row-locked data access the engine uses inside one unit of
// work. Implementations must scope every call to the same database
// transaction.
type TxStore interface {
	// EnsureTransaction locates or creates the transaction row for the
	// event's external reference and returns it locked. Concurrent calls
	// with the same reference serialize on the row lock.
	EnsureTransaction(ctx context.Context, ev *providers.PaymentEvent) (*Transaction, error)

	// GetPlan returns the plan or database.ErrNotFound.
	GetPlan(ctx context.Context, planID string) (*Plan, error)

	// GetSubscriptionForUpdate returns the subscription locked, or
	// database.ErrNotFound.
	GetSubscriptionForUpdate(ctx context.Context, id string) (*Subscription, error)

	// FindActiveSubscription returns the user's active subscription for
	// the plan locked, or database.ErrNotFound.
	FindActiveSubscription(ctx context.Context, userID, planID string) (*Subscription, error)

	CreateSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// CompleteTransaction closes the transaction as completed and links
	// the subscription.
	CompleteTransaction(ctx context.Context, txID, subscriptionID string, at time.Time) error

	// FailTransaction closes the transaction as failed.
	FailTransaction(ctx context.Context, txID string, at time.Time) error

	// BumpRenewalFailure increments failed_attempts and flips the status
	// to suspended at the threshold, in a single statement, returning the
	// updated subscription.
	BumpRenewalFailure(ctx context.Context, subscriptionID string, threshold int) (*Subscription, error)

	AppendUsageEvent(ctx context.Context, event *UsageEvent) error
}

// Store begins units of work for the engine.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
}

// PostgresStore implements Store on the shared pgx pool.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates the production store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTx runs fn inside a database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxStore{tx: tx})
	})
}

type pgTxStore struct {
	tx pgx.Tx
}

func (s *pgTxStore) EnsureTransaction(ctx context.Context, ev *providers.PaymentEvent) (*Transaction, error) {
	insert := `
		INSERT INTO transactions (
			id, external_tx_ref, user_id, status, amount_minor, currency,
			provider, provider_ref, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (external_tx_ref) DO NOTHING
	`
	metadata := map[string]any{
		"plan_id": ev.Metadata.PlanID,
		"renewal": ev.Metadata.IsRenewal,
	}
	_, err := s.tx.Exec(ctx, insert,
		ulid.Make().String(),
		ev.ExternalTxRef,
		ev.Metadata.UserID,
		TxPending,
		ev.Amount.AmountMinor,
		ev.Amount.Currency,
		ev.Provider,
		ev.ProviderRef,
		metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring transaction: %w", err)
	}

	query := `
		SELECT id, external_tx_ref, user_id, subscription_id, status,
			   amount_minor, currency, provider, provider_ref, metadata,
			   created_at, completed_at
		FROM transactions
		WHERE external_tx_ref = $1
		FOR UPDATE
	`
	return scanTransaction(s.tx.QueryRow(ctx, query, ev.ExternalTxRef))
}

func (s *pgTxStore) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	query := `
		SELECT id, name, price_minor, currency, billing_cycle, features, segment
		FROM subscription_plans
		WHERE id = $1
	`
	var (
		p          Plan
		priceMinor int64
		currency   string
	)
	err := s.tx.QueryRow(ctx, query, planID).Scan(
		&p.ID, &p.Name, &priceMinor, &currency, &p.BillingCycle, &p.Features, &p.Segment,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("getting plan: %w", err)
	}
	p.Price = money.New(priceMinor, money.Currency(currency))
	return &p, nil
}

const subscriptionColumns = `id, user_id, plan_id, status, start_date,
	next_billing_date, failed_attempts, phone_number, payment_method,
	metadata, created_at, updated_at`

func (s *pgTxStore) GetSubscriptionForUpdate(ctx context.Context, id string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 FOR UPDATE`
	return scanSubscription(s.tx.QueryRow(ctx, query, id))
}

func (s *pgTxStore) FindActiveSubscription(ctx context.Context, userID, planID string) (*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND plan_id = $2 AND status = $3
		FOR UPDATE
	`
	return scanSubscription(s.tx.QueryRow(ctx, query, userID, planID, SubActive))
}

func (s *pgTxStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, plan_id, status, start_date, next_billing_date,
			failed_attempts, phone_number, payment_method, metadata,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.tx.Exec(ctx, query,
		sub.ID, sub.UserID, sub.PlanID, sub.Status, sub.StartDate,
		sub.NextBillingDate, sub.FailedAttempts, sub.PhoneNumber,
		sub.PaymentMethod, sub.Metadata, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("active subscription exists for user %s plan %s: %w",
				sub.UserID, sub.PlanID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating subscription: %w", err)
	}
	return nil
}

func (s *pgTxStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $2, next_billing_date = $3, failed_attempts = $4,
		    updated_at = $5
		WHERE id = $1
	`
	tag, err := s.tx.Exec(ctx, query,
		sub.ID, sub.Status, sub.NextBillingDate, sub.FailedAttempts, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (s *pgTxStore) CompleteTransaction(ctx context.Context, txID, subscriptionID string, at time.Time) error {
	query := `
		UPDATE transactions
		SET status = $2, subscription_id = $3, completed_at = $4
		WHERE id = $1 AND status = $5
	`
	tag, err := s.tx.Exec(ctx, query, txID, TxCompleted, subscriptionID, at, TxPending)
	if err != nil {
		return fmt.Errorf("completing transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not pending: %w", txID, database.ErrConflict)
	}
	return nil
}

func (s *pgTxStore) FailTransaction(ctx context.Context, txID string, at time.Time) error {
	query := `
		UPDATE transactions
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status = $4
	`
	_, err := s.tx.Exec(ctx, query, txID, TxFailed, at, TxPending)
	if err != nil {
		return fmt.Errorf("failing transaction: %w", err)
	}
	return nil
}

func (s *pgTxStore) BumpRenewalFailure(ctx context.Context, subscriptionID string, threshold int) (*Subscription, error) {
	// Counter bump and status flip happen in one statement so two failure
	// events for the same subscription can never both observe the old
	// count.
	query := `
		UPDATE subscriptions
		SET failed_attempts = failed_attempts + 1,
		    status = CASE
				WHEN failed_attempts + 1 >= $2 THEN 'suspended'
				ELSE 'payment_failed'
			END,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + subscriptionColumns
	return scanSubscription(s.tx.QueryRow(ctx, query, subscriptionID, threshold))
}

func (s *pgTxStore) AppendUsageEvent(ctx context.Context, event *UsageEvent) error {
	query := `
		INSERT INTO usage_events (id, subscription_id, user_id, event_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.tx.Exec(ctx, query,
		event.ID, event.SubscriptionID, event.UserID, event.EventType,
		event.Metadata, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending usage event: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t           Transaction
		amountMinor int64
		currency    string
	)
	err := row.Scan(
		&t.ID, &t.ExternalTxRef, &t.UserID, &t.SubscriptionID, &t.Status,
		&amountMinor, &currency, &t.Provider, &t.ProviderRef, &t.Metadata,
		&t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	t.Amount = money.New(amountMinor, money.Currency(currency))
	return &t, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &sub.StartDate,
		&sub.NextBillingDate, &sub.FailedAttempts, &sub.PhoneNumber,
		&sub.PaymentMethod, &sub.Metadata, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning subscription: %w", err)
	}
	return &sub, nil
}
