package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"railpay/internal/activation"
	"railpay/internal/common/database"
	"railpay/internal/common/money"
	"railpay/internal/providers"
	"railpay/internal/providers/flutterwave"
)

const flwSecret = "test-secret-hash"

// memStore is a minimal in-memory activation.Store for handler tests.
type memStore struct {
	failTx       bool
	transactions map[string]*activation.Transaction
	plans        map[string]*activation.Plan
	subs         map[string]*activation.Subscription
}

func newMemStore(plans ...*activation.Plan) *memStore {
	s := &memStore{
		transactions: make(map[string]*activation.Transaction),
		plans:        make(map[string]*activation.Plan),
		subs:         make(map[string]*activation.Subscription),
	}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return s
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx activation.TxStore) error) error {
	if s.failTx {
		return errors.New("connection refused")
	}
	return fn(ctx, &memTx{store: s})
}

type memTx struct {
	store *memStore
}

func (t *memTx) EnsureTransaction(_ context.Context, ev *providers.PaymentEvent) (*activation.Transaction, error) {
	if existing, ok := t.store.transactions[ev.ExternalTxRef]; ok {
		return existing, nil
	}
	txn := &activation.Transaction{
		ID:            ulid.Make().String(),
		ExternalTxRef: ev.ExternalTxRef,
		UserID:        ev.Metadata.UserID,
		Status:        activation.TxPending,
		Amount:        ev.Amount,
		Provider:      ev.Provider,
		CreatedAt:     time.Now(),
	}
	t.store.transactions[ev.ExternalTxRef] = txn
	return txn, nil
}

func (t *memTx) GetPlan(_ context.Context, planID string) (*activation.Plan, error) {
	p, ok := t.store.plans[planID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (t *memTx) GetSubscriptionForUpdate(_ context.Context, id string) (*activation.Subscription, error) {
	sub, ok := t.store.subs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return sub, nil
}

func (t *memTx) FindActiveSubscription(_ context.Context, userID, planID string) (*activation.Subscription, error) {
	for _, sub := range t.store.subs {
		if sub.UserID == userID && sub.PlanID == planID && sub.Status == activation.SubActive {
			return sub, nil
		}
	}
	return nil, database.ErrNotFound
}

func (t *memTx) CreateSubscription(_ context.Context, sub *activation.Subscription) error {
	t.store.subs[sub.ID] = sub
	return nil
}

func (t *memTx) UpdateSubscription(_ context.Context, sub *activation.Subscription) error {
	t.store.subs[sub.ID] = sub
	return nil
}

func (t *memTx) CompleteTransaction(_ context.Context, txID, subscriptionID string, at time.Time) error {
	for _, txn := range t.store.transactions {
		if txn.ID == txID {
			txn.Status = activation.TxCompleted
			txn.SubscriptionID = &subscriptionID
			txn.CompletedAt = &at
		}
	}
	return nil
}

func (t *memTx) FailTransaction(_ context.Context, txID string, at time.Time) error {
	for _, txn := range t.store.transactions {
		if txn.ID == txID && txn.Status == activation.TxPending {
			txn.Status = activation.TxFailed
			txn.CompletedAt = &at
		}
	}
	return nil
}

func (t *memTx) BumpRenewalFailure(_ context.Context, subscriptionID string, threshold int) (*activation.Subscription, error) {
	sub, ok := t.store.subs[subscriptionID]
	if !ok {
		return nil, database.ErrNotFound
	}
	sub.FailedAttempts++
	if sub.FailedAttempts >= threshold {
		sub.Status = activation.SubSuspended
	} else {
		sub.Status = activation.SubPaymentFailed
	}
	return sub, nil
}

func (t *memTx) AppendUsageEvent(context.Context, *activation.UsageEvent) error { return nil }

func newTestHandler(store activation.Store) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := activation.NewService(store, nil, logger)
	registry := providers.NewRegistry(flutterwave.New(flwSecret, money.ZMW))
	return NewHandler(registry, engine, nil, logger)
}

func testRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Mount("/api/webhooks", h.Routes())
	r.Post("/api/webhooks-test", h.TestActivation)
	r.Get("/health", h.Health)
	return r
}

func flwBody(ref string) string {
	return `{"event":"charge.completed","data":{"status":"successful","tx_ref":"` + ref + `","flw_ref":"F-1","amount":120,"currency":"ZMW","customer":{"phone_number":"+260971234567"},"meta":{"user_id":"usr_001","plan_id":"sentinel_trader"}}}`
}

func postWebhook(t *testing.T, router http.Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/flutterwave", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(flutterwave.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func traderPlan() *activation.Plan {
	return &activation.Plan{
		ID:           "sentinel_trader",
		Name:         "Sentinel Trader",
		Price:        money.New(12000, money.ZMW),
		BillingCycle: activation.CycleMonthly,
	}
}

func TestReceiveActivatesSubscription(t *testing.T) {
	store := newMemStore(traderPlan())
	router := testRouter(newTestHandler(store))

	rec := postWebhook(t, router, flwBody("SR-1"), flwSecret)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var resp gatewayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("response status = %q, want success", resp.Status)
	}
	if len(store.subs) != 1 {
		t.Errorf("subscriptions = %d, want 1", len(store.subs))
	}
	if store.transactions["SR-1"].Status != activation.TxCompleted {
		t.Errorf("transaction status = %q, want completed", store.transactions["SR-1"].Status)
	}
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	store := newMemStore(traderPlan())
	router := testRouter(newTestHandler(store))

	rec := postWebhook(t, router, flwBody("SR-2"), "wrong-secret")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(store.transactions) != 0 {
		t.Error("transaction created for unauthenticated payload")
	}
}

func TestReceiveRejectsMissingSignature(t *testing.T) {
	store := newMemStore(traderPlan())
	router := testRouter(newTestHandler(store))

	rec := postWebhook(t, router, flwBody("SR-3"), "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestReceiveDuplicateReturnsSuccess(t *testing.T) {
	store := newMemStore(traderPlan())
	router := testRouter(newTestHandler(store))

	if rec := postWebhook(t, router, flwBody("SR-4"), flwSecret); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", rec.Code)
	}
	rec := postWebhook(t, router, flwBody("SR-4"), flwSecret)

	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", rec.Code)
	}
	var resp gatewayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "success" || !strings.Contains(resp.Message, "already processed") {
		t.Errorf("response = %+v, want success/already processed", resp)
	}
	if len(store.subs) != 1 {
		t.Errorf("subscriptions = %d, want 1 after replay", len(store.subs))
	}
}

func TestReceiveUnknownPlanStillAcknowledged(t *testing.T) {
	store := newMemStore()
	router := testRouter(newTestHandler(store))

	rec := postWebhook(t, router, flwBody("SR-5"), flwSecret)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (recorded as failed, gateway must not retry)", rec.Code)
	}
	var resp gatewayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "error" {
		t.Errorf("response status = %q, want error", resp.Status)
	}
	if store.transactions["SR-5"].Status != activation.TxFailed {
		t.Errorf("transaction status = %q, want failed", store.transactions["SR-5"].Status)
	}
}

func TestReceivePersistenceErrorReturns5xx(t *testing.T) {
	store := newMemStore(traderPlan())
	store.failTx = true
	router := testRouter(newTestHandler(store))

	rec := postWebhook(t, router, flwBody("SR-6"), flwSecret)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 so the gateway retries", rec.Code)
	}
}

func TestReceiveIgnoredEventAcknowledged(t *testing.T) {
	store := newMemStore(traderPlan())
	router := testRouter(newTestHandler(store))

	body := `{"event":"transfer.completed","data":{}}`
	rec := postWebhook(t, router, body, flwSecret)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp gatewayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "received" {
		t.Errorf("response status = %q, want received", resp.Status)
	}
	if len(store.transactions) != 0 {
		t.Error("transaction created for ignored event")
	}
}

func TestReceiveMalformedPayloadRejected(t *testing.T) {
	store := newMemStore(traderPlan())
	router := testRouter(newTestHandler(store))

	body := `{"event":"charge.completed","data":{"status":"successful","amount":120,"meta":{}}}`
	rec := postWebhook(t, router, body, flwSecret)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReceiveUnknownProvider(t *testing.T) {
	router := testRouter(newTestHandler(newMemStore()))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paypal", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	router := testRouter(newTestHandler(newMemStore()))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "ok" || resp["timestamp"] == "" {
		t.Errorf("health = %v", resp)
	}
}

func TestTestActivationEndpoint(t *testing.T) {
	store := newMemStore(traderPlan())
	router := testRouter(newTestHandler(store))

	body := `{"external_tx_ref":"TEST-1","user_id":"usr_dev","plan_id":"sentinel_trader","phone_number":"+260970000000","amount":120}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks-test", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	if len(store.subs) != 1 {
		t.Errorf("subscriptions = %d, want 1", len(store.subs))
	}
}
