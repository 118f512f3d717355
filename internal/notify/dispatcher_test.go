package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"railpay/internal/activation"
)

type stubSender struct {
	name  string
	err   error
	calls int
}

func (s *stubSender) Name() string { return s.name }

func (s *stubSender) Send(context.Context, Message) error {
	s.calls++
	return s.err
}

type memAttemptStore struct {
	attempts []*Attempt
}

func (s *memAttemptStore) RecordAttempt(_ context.Context, a *Attempt) error {
	s.attempts = append(s.attempts, a)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchStopsAtFirstSuccess(t *testing.T) {
	primary := &stubSender{name: "africas-talking"}
	secondary := &stubSender{name: "twilio"}
	store := &memAttemptStore{}
	d := NewDispatcher([]Sender{primary, secondary}, store, discardLogger())

	d.Dispatch(context.Background(), Message{Recipient: "+260971234567", Body: "hi", Kind: KindWelcome})

	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary calls = %d, want 0 after primary success", secondary.calls)
	}
	if len(store.attempts) != 1 || store.attempts[0].Status != AttemptSent {
		t.Errorf("attempts = %+v, want one sent", store.attempts)
	}
}

func TestDispatchFallsBackInPriorityOrder(t *testing.T) {
	primary := &stubSender{name: "africas-talking", err: errors.New("gateway timeout")}
	secondary := &stubSender{name: "twilio"}
	store := &memAttemptStore{}
	d := NewDispatcher([]Sender{primary, secondary}, store, discardLogger())

	d.Dispatch(context.Background(), Message{Recipient: "+260971234567", Body: "hi", Kind: KindRenewal})

	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, secondary.calls)
	}
	if len(store.attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(store.attempts))
	}
	if store.attempts[0].Status != AttemptFailed || store.attempts[0].Provider != "africas-talking" {
		t.Errorf("first attempt = %+v", store.attempts[0])
	}
	if store.attempts[1].Status != AttemptSent || store.attempts[1].Provider != "twilio" {
		t.Errorf("second attempt = %+v", store.attempts[1])
	}
}

func TestDispatchOneAttemptPerProvider(t *testing.T) {
	failing := &stubSender{name: "africas-talking", err: errors.New("down")}
	alsoFailing := &stubSender{name: "twilio", err: errors.New("down")}
	d := NewDispatcher([]Sender{failing, alsoFailing}, nil, discardLogger())

	// Must not panic, error, or retry when every provider fails.
	d.Dispatch(context.Background(), Message{Recipient: "+260971234567", Body: "hi", Kind: KindSuspended})

	if failing.calls != 1 || alsoFailing.calls != 1 {
		t.Errorf("calls = %d/%d, want exactly one each", failing.calls, alsoFailing.calls)
	}
}

func TestHandleQueuedDropsMalformedPayload(t *testing.T) {
	sender := &stubSender{name: "noop"}
	d := NewDispatcher([]Sender{sender}, nil, discardLogger())

	if err := d.HandleQueued(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("HandleQueued() = %v, want nil (malformed messages are dropped)", err)
	}
	if sender.calls != 0 {
		t.Errorf("sender calls = %d, want 0", sender.calls)
	}
}

type capturingQueue struct {
	messages []Message
}

func (q *capturingQueue) Publish(_ context.Context, msg Message) error {
	q.messages = append(q.messages, msg)
	return nil
}

func TestNotifierComposesActivationTexts(t *testing.T) {
	queue := &capturingQueue{}
	n := NewNotifier(queue, discardLogger())

	next := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	sub := &activation.Subscription{PhoneNumber: "+260971234567", NextBillingDate: &next}
	plan := &activation.Plan{Name: "Sentinel Trader"}

	n.SubscriptionActivated(context.Background(), sub, plan, false)
	n.SubscriptionActivated(context.Background(), sub, plan, true)
	n.RenewalFailed(context.Background(), sub, false)
	n.RenewalFailed(context.Background(), sub, true)

	if len(queue.messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(queue.messages))
	}
	wantKinds := []Kind{KindWelcome, KindRenewal, KindPaymentFailed, KindSuspended}
	for i, want := range wantKinds {
		if queue.messages[i].Kind != want {
			t.Errorf("message %d kind = %q, want %q", i, queue.messages[i].Kind, want)
		}
	}
	welcome := queue.messages[0].Body
	if want := "Welcome to Sentinel Trader! Your subscription is now active. Next billing: 08/02/2026. Start booking now! - Sentinel Railways"; welcome != want {
		t.Errorf("welcome body = %q, want %q", welcome, want)
	}
}

func TestNotifierSkipsEmptyRecipient(t *testing.T) {
	queue := &capturingQueue{}
	n := NewNotifier(queue, discardLogger())

	n.SubscriptionActivated(context.Background(), &activation.Subscription{}, &activation.Plan{Name: "x"}, false)

	if len(queue.messages) != 0 {
		t.Errorf("messages = %d, want 0 for empty recipient", len(queue.messages))
	}
}
