package settlement

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"railpay/internal/common/api"
	"railpay/internal/common/money"
)

// Handler serves the settlement endpoints.
type Handler struct {
	calc   *Calculator
	source SubscriberSource
	now    func() time.Time
}

// NewHandler creates the handler. A nil source disables derive=true.
func NewHandler(calc *Calculator, source SubscriberSource) *Handler {
	return &Handler{calc: calc, source: source, now: time.Now}
}

// Routes returns the settlement routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/compute", h.Compute)
	r.Get("/export", h.Export)
	return r
}

// ComputeRequest carries the reconciliation inputs. With derive=true the
// counts and revenue come from the subscription store instead of the body.
type ComputeRequest struct {
	Counts                   SegmentCounts `json:"counts"`
	SubscriptionRevenueMinor int64         `json:"subscription_revenue_minor" validate:"min=0"`
	Derive                   bool          `json:"derive"`
}

// ComputeResponse is the reconciliation output.
type ComputeResponse struct {
	Records []ReconciliationRecord `json:"records"`
	Summary SettlementSummary      `json:"summary"`
}

// Compute handles POST /compute.
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	counts := req.Counts
	revenue := money.New(req.SubscriptionRevenueMinor, money.ZMW)
	if req.Derive {
		var err error
		counts, revenue, err = h.derive(r)
		if err != nil {
			api.ServiceUnavailable(w, err.Error())
			return
		}
	}

	records := h.calc.Reconcile(counts)
	api.WriteData(w, http.StatusOK, ComputeResponse{
		Records: records,
		Summary: h.calc.Summarize(records, revenue, h.now()),
	})
}

// Export handles GET /export?format=csv|sap|oracle&week=N. Counts are
// derived from the subscription store.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	week := 1
	if raw := r.URL.Query().Get("week"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 53 {
			api.BadRequest(w, "week must be an integer between 1 and 53")
			return
		}
		week = parsed
	}

	counts, revenue, err := h.derive(r)
	if err != nil {
		api.ServiceUnavailable(w, err.Error())
		return
	}

	now := h.now()
	records := h.calc.Reconcile(counts)
	summary := h.calc.Summarize(records, revenue, now)

	var (
		filename string
		writeErr error
	)
	buf := &writerCounter{w: w}
	switch format {
	case "csv":
		filename = fmt.Sprintf("Settlement_W%d_%s.csv", week, now.UTC().Format("2006-01-02"))
		h.streamHeaders(w, filename)
		writeErr = WriteSettlementCSV(buf, records, summary, week, now)
	case "sap":
		filename = fmt.Sprintf("SAP_Import_W%d_%s.csv", week, now.UTC().Format("2006-01-02"))
		h.streamHeaders(w, filename)
		writeErr = WriteSAPJournalCSV(buf, records, week, now)
	case "oracle":
		filename = fmt.Sprintf("Oracle_Import_W%d_%s.csv", week, now.UTC().Format("2006-01-02"))
		h.streamHeaders(w, filename)
		writeErr = WriteOracleGLCSV(buf, records, week, now)
	default:
		api.BadRequest(w, "format must be one of csv, sap, oracle")
		return
	}

	if writeErr != nil && buf.written == 0 {
		api.InternalError(w, "export failed")
	}
}

func (h *Handler) streamHeaders(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

func (h *Handler) derive(r *http.Request) (SegmentCounts, money.Money, error) {
	if h.source == nil {
		return SegmentCounts{}, money.Money{}, fmt.Errorf("subscriber store not configured")
	}
	counts, err := h.source.CountActiveBySegment(r.Context())
	if err != nil {
		return SegmentCounts{}, money.Money{}, err
	}
	revenue, err := h.source.ActiveSubscriptionRevenue(r.Context())
	if err != nil {
		return SegmentCounts{}, money.Money{}, err
	}
	return counts, revenue, nil
}

// writerCounter tracks whether any bytes reached the client so a failed
// export after streaming began is not followed by a second status code.
type writerCounter struct {
	w       http.ResponseWriter
	written int
}

func (c *writerCounter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += n
	return n, err
}
