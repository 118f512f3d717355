package settlement

import (
	"time"

	"railpay/internal/common/money"
)

const (
	// DefaultCommissionBP is the documented 10% booking commission.
	DefaultCommissionBP = 1000

	// DefaultVATBP is the Zambian VAT rate applied to platform earnings.
	DefaultVATBP = 1600

	// railwayShareBP is the railway's fixed 90% share of gross ticket
	// sales. Fixed by settlement policy, not derived from the commission
	// rate.
	railwayShareBP = 9000
)

// SegmentCounts holds active subscriber counts per segment, supplied by the
// subscriber registry or derived from the subscription store.
type SegmentCounts struct {
	Traders   int64 `json:"traders" validate:"min=0"`
	Tourists  int64 `json:"tourists" validate:"min=0"`
	Domestic  int64 `json:"domestic" validate:"min=0"`
	Commuters int64 `json:"commuters" validate:"min=0"`
}

// For returns the count for one segment.
func (c SegmentCounts) For(seg Segment) int64 {
	switch seg {
	case SegmentTraders:
		return c.Traders
	case SegmentTourists:
		return c.Tourists
	case SegmentDomestic:
		return c.Domestic
	case SegmentCommuters:
		return c.Commuters
	}
	return 0
}

// ReconciliationRecord is the derived revenue split for one segment. Records
// are recomputed per period, never mutated.
type ReconciliationRecord struct {
	Segment        Segment     `json:"segment"`
	Name           string      `json:"name"`
	Subscribers    int64       `json:"subscribers"`
	Bookings       int64       `json:"bookings"`
	AvgTicketPrice money.Money `json:"avg_ticket_price"`
	GrossSales     money.Money `json:"gross_sales"`
	CommissionBP   int64       `json:"commission_rate_bp"`
	Commission     money.Money `json:"commission"`
	ProviderNet    money.Money `json:"provider_net"`
}

// SettlementSummary aggregates the split across segments. RailwayPayout is
// 90% of gross by fixed policy while commission defaults to 10%; when the
// configured commission rate differs, RateMismatch flags that the two sides
// of the split no longer reconcile exactly.
type SettlementSummary struct {
	TotalVolume         money.Money `json:"total_volume"`
	RailwayPayout       money.Money `json:"railway_payout"`
	SubscriptionRevenue money.Money `json:"subscription_revenue"`
	CommissionRevenue   money.Money `json:"commission_revenue"`
	PlatformEarnings    money.Money `json:"platform_earnings"`
	TaxWithholding      money.Money `json:"tax_withholding"`
	NetPlatformEarnings money.Money `json:"net_platform_earnings"`
	RateMismatch        bool        `json:"rate_mismatch"`
	SettlementDate      time.Time   `json:"settlement_date"`
}

// Calculator computes the revenue split over the rate table. It is pure;
// the same inputs always yield the same outputs.
type Calculator struct {
	rates        []SegmentRate
	commissionBP int64
	vatBP        int64
}

// NewCalculator creates a calculator with the default rate table.
// Non-positive rates fall back to the documented defaults.
func NewCalculator(commissionBP, vatBP int64) *Calculator {
	if commissionBP <= 0 {
		commissionBP = DefaultCommissionBP
	}
	if vatBP <= 0 {
		vatBP = DefaultVATBP
	}
	return &Calculator{
		rates:        DefaultRates(),
		commissionBP: commissionBP,
		vatBP:        vatBP,
	}
}

// Reconcile computes one record per segment in reporting order.
func (c *Calculator) Reconcile(counts SegmentCounts) []ReconciliationRecord {
	records := make([]ReconciliationRecord, 0, len(c.rates))
	for _, rate := range c.rates {
		subscribers := counts.For(rate.Segment)
		bookings := subscribers * rate.BookingsPerPeriod
		gross := rate.AvgTicketPrice.Multiply(bookings)
		commission := gross.Percentage(c.commissionBP)

		records = append(records, ReconciliationRecord{
			Segment:        rate.Segment,
			Name:           rate.Name,
			Subscribers:    subscribers,
			Bookings:       bookings,
			AvgTicketPrice: rate.AvgTicketPrice,
			GrossSales:     gross,
			CommissionBP:   c.commissionBP,
			Commission:     commission,
			ProviderNet:    gross.MustSub(commission),
		})
	}
	return records
}

// Summarize aggregates records into the settlement summary. asOf anchors
// the settlement date, which falls on the next Friday.
func (c *Calculator) Summarize(records []ReconciliationRecord, subscriptionRevenue money.Money, asOf time.Time) SettlementSummary {
	totalVolume := money.Zero(money.ZMW)
	totalCommission := money.Zero(money.ZMW)
	for _, r := range records {
		totalVolume = totalVolume.MustAdd(r.GrossSales)
		totalCommission = totalCommission.MustAdd(r.Commission)
	}

	platformEarnings := subscriptionRevenue.MustAdd(totalCommission)
	tax := platformEarnings.Percentage(c.vatBP)

	return SettlementSummary{
		TotalVolume:         totalVolume,
		RailwayPayout:       totalVolume.Percentage(railwayShareBP),
		SubscriptionRevenue: subscriptionRevenue,
		CommissionRevenue:   totalCommission,
		PlatformEarnings:    platformEarnings,
		TaxWithholding:      tax,
		NetPlatformEarnings: platformEarnings.MustSub(tax),
		RateMismatch:        c.commissionBP != DefaultCommissionBP,
		SettlementDate:      NextSettlementDate(asOf),
	}
}

// NextSettlementDate returns the next Friday after asOf. Settlement runs
// weekly on Fridays; if asOf is a Friday the date is the following one.
func NextSettlementDate(asOf time.Time) time.Time {
	days := (int(time.Friday) - int(asOf.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	year, month, day := asOf.AddDate(0, 0, days).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
