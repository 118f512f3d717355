package activation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"railpay/internal/common/database"
	"railpay/internal/common/metrics"
	"railpay/internal/providers"
)

// Result of processing one payment event.
type Result string

const (
	ResultActivated        Result = "activated"
	ResultRenewed          Result = "renewed"
	ResultAlreadyProcessed Result = "already_processed"
	ResultFailed           Result = "failed"
)

// Outcome reports what the engine committed for an event.
type Outcome struct {
	Result       Result        `json:"result"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Plan         *Plan         `json:"-"`
}

// Notifier receives post-commit delivery requests. Implementations must not
// block and must swallow their own errors; the engine never waits on them.
type Notifier interface {
	SubscriptionActivated(ctx context.Context, sub *Subscription, plan *Plan, renewed bool)
	RenewalFailed(ctx context.Context, sub *Subscription, suspended bool)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) SubscriptionActivated(context.Context, *Subscription, *Plan, bool) {}
func (NopNotifier) RenewalFailed(context.Context, *Subscription, bool)                {}

// Service is the activation engine.
type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the engine. A nil notifier disables notifications.
func NewService(store Store, notifier Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Process routes a canonical payment event to activation or failure
// recording based on its status.
func (s *Service) Process(ctx context.Context, ev *providers.PaymentEvent) (*Outcome, error) {
	switch ev.Status {
	case providers.StatusSucceeded:
		return s.Activate(ctx, ev)
	case providers.StatusFailed:
		return s.RecordFailure(ctx, ev)
	default:
		return nil, fmt.Errorf("unhandled event status %q", ev.Status)
	}
}

// Activate commits exactly one subscription state transition for the
// event's external reference. Redelivered events observe the completed
// transaction row and commit as a no-op.
func (s *Service) Activate(ctx context.Context, ev *providers.PaymentEvent) (*Outcome, error) {
	out := &Outcome{}
	var procErr error

	err := s.store.InTx(ctx, func(ctx context.Context, tx TxStore) error {
		txn, err := tx.EnsureTransaction(ctx, ev)
		if err != nil {
			return err
		}
		if txn.Status == TxCompleted {
			out.Result = ResultAlreadyProcessed
			return nil
		}

		now := s.now().UTC()

		plan, err := tx.GetPlan(ctx, ev.Metadata.PlanID)
		if err != nil {
			if !database.IsNotFound(err) {
				return err
			}
			// Unknown plan closes the transaction as failed; the
			// failure must commit so redeliveries stay no-ops.
			if err := tx.FailTransaction(ctx, txn.ID, now); err != nil {
				return err
			}
			out.Result = ResultFailed
			procErr = fmt.Errorf("%w: %s", ErrUnknownPlan, ev.Metadata.PlanID)
			return nil
		}
		out.Plan = plan

		var sub *Subscription
		if ev.Metadata.IsRenewal && ev.Metadata.SubscriptionID != "" {
			sub, err = tx.GetSubscriptionForUpdate(ctx, ev.Metadata.SubscriptionID)
			if err != nil {
				if !database.IsNotFound(err) {
					return err
				}
				if err := tx.FailTransaction(ctx, txn.ID, now); err != nil {
					return err
				}
				out.Result = ResultFailed
				procErr = fmt.Errorf("%w: %s", ErrUnknownSubscription, ev.Metadata.SubscriptionID)
				return nil
			}
			s.extend(sub, now)
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
			out.Result = ResultRenewed
		} else {
			// A repeat purchase of an already-active plan extends
			// the existing subscription instead of violating the
			// one-active-per-user-per-plan constraint.
			existing, err := tx.FindActiveSubscription(ctx, ev.Metadata.UserID, plan.ID)
			switch {
			case err == nil:
				sub = existing
				s.extend(sub, now)
				if err := tx.UpdateSubscription(ctx, sub); err != nil {
					return err
				}
				out.Result = ResultRenewed
			case database.IsNotFound(err):
				sub = s.newSubscription(ev, plan, now)
				if err := tx.CreateSubscription(ctx, sub); err != nil {
					return err
				}
				out.Result = ResultActivated
			default:
				return err
			}
		}

		if err := tx.CompleteTransaction(ctx, txn.ID, sub.ID, now); err != nil {
			return err
		}

		eventType := EventSubscriptionActivated
		if out.Result == ResultRenewed {
			eventType = EventSubscriptionRenewed
		}
		if err := tx.AppendUsageEvent(ctx, &UsageEvent{
			ID:             ulid.Make().String(),
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			EventType:      eventType,
			Metadata: map[string]any{
				"external_tx_ref": ev.ExternalTxRef,
				"provider":        ev.Provider,
				"amount_minor":    ev.Amount.AmountMinor,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}

		out.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	if procErr != nil {
		metrics.IncActivation(string(ResultFailed))
		return out, procErr
	}

	metrics.IncActivation(string(out.Result))
	switch out.Result {
	case ResultActivated, ResultRenewed:
		s.logger.Info("subscription activated",
			"result", out.Result,
			"subscription_id", out.Subscription.ID,
			"plan_id", out.Subscription.PlanID,
			"external_tx_ref", ev.ExternalTxRef,
		)
		s.notifier.SubscriptionActivated(ctx, out.Subscription, out.Plan, out.Result == ResultRenewed)
	case ResultAlreadyProcessed:
		s.logger.Info("duplicate payment event ignored", "external_tx_ref", ev.ExternalTxRef)
	}
	return out, nil
}

// RecordFailure closes the transaction as failed and, for renewals, bumps
// the failure counter, suspending the subscription at the threshold.
func (s *Service) RecordFailure(ctx context.Context, ev *providers.PaymentEvent) (*Outcome, error) {
	out := &Outcome{Result: ResultFailed}

	err := s.store.InTx(ctx, func(ctx context.Context, tx TxStore) error {
		txn, err := tx.EnsureTransaction(ctx, ev)
		if err != nil {
			return err
		}
		if txn.Status != TxPending {
			out.Result = ResultAlreadyProcessed
			return nil
		}

		now := s.now().UTC()
		if err := tx.FailTransaction(ctx, txn.ID, now); err != nil {
			return err
		}

		if !ev.Metadata.IsRenewal || ev.Metadata.SubscriptionID == "" {
			return nil
		}

		sub, err := tx.BumpRenewalFailure(ctx, ev.Metadata.SubscriptionID, failureThreshold)
		if err != nil {
			if database.IsNotFound(err) {
				s.logger.Warn("renewal failure for unknown subscription",
					"subscription_id", ev.Metadata.SubscriptionID,
					"external_tx_ref", ev.ExternalTxRef,
				)
				return nil
			}
			return err
		}

		if err := tx.AppendUsageEvent(ctx, &UsageEvent{
			ID:             ulid.Make().String(),
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			EventType:      EventRenewalPaymentFailed,
			Metadata: map[string]any{
				"external_tx_ref": ev.ExternalTxRef,
				"failed_attempts": sub.FailedAttempts,
				"status":          sub.Status,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}

		out.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Subscription != nil {
		metrics.IncRenewalFailure(string(out.Subscription.Status))
		s.logger.Warn("renewal payment failed",
			"subscription_id", out.Subscription.ID,
			"failed_attempts", out.Subscription.FailedAttempts,
			"status", out.Subscription.Status,
		)
		s.notifier.RenewalFailed(ctx, out.Subscription, out.Subscription.Status == SubSuspended)
	}
	return out, nil
}

// extend pushes the next billing date 30 days past whichever is later, now
// or the current next billing date, so a late renewal never shortens an
// already-paid period. Clears the failure counter and reinstates suspended
// or payment_failed subscriptions.
func (s *Service) extend(sub *Subscription, now time.Time) {
	base := now
	if sub.NextBillingDate != nil && sub.NextBillingDate.After(now) {
		base = *sub.NextBillingDate
	}
	next := base.Add(billingPeriod)
	sub.NextBillingDate = &next
	sub.FailedAttempts = 0
	sub.Status = SubActive
	sub.UpdatedAt = now
}

func (s *Service) newSubscription(ev *providers.PaymentEvent, plan *Plan, now time.Time) *Subscription {
	sub := &Subscription{
		ID:            ulid.Make().String(),
		UserID:        ev.Metadata.UserID,
		PlanID:        plan.ID,
		Status:        SubActive,
		StartDate:     now,
		PhoneNumber:   ev.PayerIdentifier,
		PaymentMethod: ev.Metadata.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sub.PaymentMethod == "" {
		sub.PaymentMethod = ev.Provider
	}
	if plan.BillingCycle != CycleOneTime {
		next := now.Add(billingPeriod)
		sub.NextBillingDate = &next
	}
	return sub
}
