// Package notify delivers user-facing SMS messages for activation outcomes.
// Delivery is fire-and-forget: messages are published to a queue after the
// engine commits, and nothing here can unwind or block an activation.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"railpay/internal/activation"
	natsclient "railpay/internal/common/nats"
)

// SubjectSMS is the queue subject for outbound SMS messages.
const SubjectSMS = "notify.sms"

// Kind of notification, recorded with every delivery attempt.
type Kind string

const (
	KindWelcome       Kind = "welcome"
	KindRenewal       Kind = "renewal"
	KindPaymentFailed Kind = "payment_failed"
	KindSuspended     Kind = "suspended"
)

// Message is one outbound SMS.
type Message struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	Kind      Kind   `json:"kind"`
}

// Queue carries messages from the activation engine to the dispatcher.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
}

// NATSQueue publishes messages to JetStream so delivery survives a process
// restart between commit and send.
type NATSQueue struct {
	client *natsclient.Client
}

// NewNATSQueue wraps the shared NATS client.
func NewNATSQueue(client *natsclient.Client) *NATSQueue {
	return &NATSQueue{client: client}
}

func (q *NATSQueue) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	return q.client.Publish(ctx, SubjectSMS, data)
}

// InlineQueue hands messages straight to a dispatcher on a goroutine. Used
// when NATS is not configured (development, tests).
type InlineQueue struct {
	dispatcher *Dispatcher
}

// NewInlineQueue creates the in-process fallback queue.
func NewInlineQueue(dispatcher *Dispatcher) *InlineQueue {
	return &InlineQueue{dispatcher: dispatcher}
}

func (q *InlineQueue) Publish(ctx context.Context, msg Message) error {
	go q.dispatcher.Dispatch(context.WithoutCancel(ctx), msg)
	return nil
}

// Notifier composes activation outcome messages and enqueues them. It
// implements the engine's post-commit notification hook; publish errors are
// logged and swallowed.
type Notifier struct {
	queue  Queue
	logger *slog.Logger
}

// NewNotifier creates the notifier.
func NewNotifier(queue Queue, logger *slog.Logger) *Notifier {
	return &Notifier{queue: queue, logger: logger}
}

// SubscriptionActivated sends the welcome or renewal confirmation text.
func (n *Notifier) SubscriptionActivated(ctx context.Context, sub *activation.Subscription, plan *activation.Plan, renewed bool) {
	validity := "Valid for 30 days."
	if sub.NextBillingDate != nil {
		validity = fmt.Sprintf("Next billing: %s.", sub.NextBillingDate.Format("02/01/2006"))
	}

	msg := Message{Recipient: sub.PhoneNumber, Kind: KindWelcome}
	if renewed {
		msg.Kind = KindRenewal
		msg.Body = fmt.Sprintf("Your %s subscription has been renewed. %s - Sentinel Railways", plan.Name, validity)
	} else {
		msg.Body = fmt.Sprintf("Welcome to %s! Your subscription is now active. %s Start booking now! - Sentinel Railways", plan.Name, validity)
	}
	n.enqueue(ctx, msg)
}

// RenewalFailed sends the payment-failed or suspension text.
func (n *Notifier) RenewalFailed(ctx context.Context, sub *activation.Subscription, suspended bool) {
	msg := Message{Recipient: sub.PhoneNumber, Kind: KindPaymentFailed}
	if suspended {
		msg.Kind = KindSuspended
		msg.Body = "Your subscription has been suspended after repeated payment failures. Contact support to reactivate. - Sentinel Railways"
	} else {
		msg.Body = "Payment failed. Please try again or contact support. - Sentinel Railways"
	}
	n.enqueue(ctx, msg)
}

func (n *Notifier) enqueue(ctx context.Context, msg Message) {
	if msg.Recipient == "" {
		return
	}
	if err := n.queue.Publish(ctx, msg); err != nil {
		n.logger.Error("enqueueing notification failed",
			"kind", msg.Kind,
			"recipient", msg.Recipient,
			"error", err,
		)
	}
}
