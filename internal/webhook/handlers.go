// Package webhook is the HTTP boundary for gateway payment notifications.
// The response contract matters for correctness: 401 only for
// authentication failure, 200 for anything authenticated and parsed (even
// when activation fails, so the gateway stops redelivering an event that
// was durably recorded), and 5xx only for persistence errors so the
// gateway retries.
package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"railpay/internal/activation"
	"railpay/internal/common/api"
	"railpay/internal/common/database"
	"railpay/internal/common/metrics"
	"railpay/internal/common/money"
	"railpay/internal/providers"
)

// maxBodySize caps webhook payloads at 1 MiB.
const maxBodySize = 1 << 20

// Handler serves the webhook endpoints.
type Handler struct {
	registry *providers.Registry
	engine   *activation.Service
	db       *database.DB
	logger   *slog.Logger
}

// NewHandler creates the webhook handler.
func NewHandler(registry *providers.Registry, engine *activation.Service, db *database.DB, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, engine: engine, db: db, logger: logger}
}

// Routes returns the webhook routes. Test routes are mounted separately so
// production builds never expose them.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.Receive)
	return r
}

// gatewayResponse is the body the payment gateways expect.
type gatewayResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, code int, status, message string) {
	api.WriteJSON(w, code, gatewayResponse{Status: status, Message: message})
}

// Receive handles POST /{provider}.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	provider, ok := h.registry.Get(providerID)
	if !ok {
		metrics.IncWebhook(providerID, "unknown_provider")
		api.NotFound(w, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		metrics.IncWebhook(providerID, "read_error")
		api.BadRequest(w, "reading request body failed")
		return
	}

	// Authentication runs against the raw body before anything else.
	if err := provider.Verify(r.Header, body); err != nil {
		metrics.IncWebhook(providerID, "rejected")
		h.logger.Warn("webhook signature rejected", "provider", providerID, "error", err)
		api.Unauthorized(w, "invalid signature")
		return
	}

	ev, err := provider.Normalize(body)
	if err != nil {
		switch {
		case errors.Is(err, providers.ErrIgnoredEvent):
			metrics.IncWebhook(providerID, "ignored")
			respond(w, http.StatusOK, "received", "event acknowledged")
		case errors.Is(err, providers.ErrMalformedPayload):
			metrics.IncWebhook(providerID, "malformed")
			h.logger.Warn("webhook payload rejected", "provider", providerID, "error", err)
			api.BadRequest(w, "malformed payload")
		default:
			metrics.IncWebhook(providerID, "error")
			api.InternalError(w, "normalization failed")
		}
		return
	}

	h.process(w, r, providerID, ev)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request, providerID string, ev *providers.PaymentEvent) {
	out, err := h.engine.Process(r.Context(), ev)
	if err != nil {
		switch {
		case errors.Is(err, activation.ErrUnknownPlan), errors.Is(err, activation.ErrUnknownSubscription):
			// Durably recorded as failed; a 200 stops redelivery.
			metrics.IncWebhook(providerID, "activation_failed")
			h.logger.Error("activation failed",
				"provider", providerID,
				"external_tx_ref", ev.ExternalTxRef,
				"error", err,
			)
			respond(w, http.StatusOK, "error", err.Error())
		default:
			// Nothing committed; the gateway should retry.
			metrics.IncWebhook(providerID, "persistence_error")
			h.logger.Error("webhook processing failed",
				"provider", providerID,
				"external_tx_ref", ev.ExternalTxRef,
				"error", err,
			)
			api.ServiceUnavailable(w, "temporarily unable to process event")
		}
		return
	}

	metrics.IncWebhook(providerID, "accepted")
	switch out.Result {
	case activation.ResultAlreadyProcessed:
		respond(w, http.StatusOK, "success", "event already processed")
	case activation.ResultFailed:
		respond(w, http.StatusOK, "received", "payment failure recorded")
	default:
		respond(w, http.StatusOK, "success", "subscription "+string(out.Result))
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	api.WriteJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// TestActivationRequest is the synthetic payload for manual testing.
type TestActivationRequest struct {
	ExternalTxRef string  `json:"external_tx_ref" validate:"required"`
	UserID        string  `json:"user_id" validate:"required"`
	PlanID        string  `json:"plan_id" validate:"required"`
	PhoneNumber   string  `json:"phone_number" validate:"required"`
	Amount        float64 `json:"amount" validate:"gt=0"`
	Failed        bool    `json:"failed"`
}

// TestActivation handles POST /test. Mounted only outside production; it
// feeds a synthetic event straight into the engine, bypassing signature
// verification.
func (h *Handler) TestActivation(w http.ResponseWriter, r *http.Request) {
	var req TestActivationRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	status := providers.StatusSucceeded
	if req.Failed {
		status = providers.StatusFailed
	}
	ev := &providers.PaymentEvent{
		Provider:        "test",
		ProviderRef:     "TEST-" + req.ExternalTxRef,
		ExternalTxRef:   req.ExternalTxRef,
		Amount:          money.NewFromMajor(req.Amount, money.ZMW),
		PayerIdentifier: req.PhoneNumber,
		Status:          status,
		Metadata: providers.EventMetadata{
			UserID: req.UserID,
			PlanID: req.PlanID,
		},
	}

	h.process(w, r, "test", ev)
}
