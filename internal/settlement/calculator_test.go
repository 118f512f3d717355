package settlement

import (
	"testing"
	"time"

	"railpay/internal/common/money"
)

func TestReconcileTraderScenario(t *testing.T) {
	calc := NewCalculator(DefaultCommissionBP, DefaultVATBP)

	records := calc.Reconcile(SegmentCounts{Traders: 250})
	if len(records) != 4 {
		t.Fatalf("records = %d, want 4", len(records))
	}

	traders := records[0]
	if traders.Segment != SegmentTraders {
		t.Fatalf("first record segment = %q, want traders", traders.Segment)
	}
	if traders.Bookings != 1000 {
		t.Errorf("Bookings = %d, want 1000", traders.Bookings)
	}
	if got := traders.GrossSales.Format2(); got != "120000.00" {
		t.Errorf("GrossSales = %s, want 120000.00", got)
	}
	if got := traders.Commission.Format2(); got != "12000.00" {
		t.Errorf("Commission = %s, want 12000.00", got)
	}
	if got := traders.ProviderNet.Format2(); got != "108000.00" {
		t.Errorf("ProviderNet = %s, want 108000.00", got)
	}

	for _, r := range records[1:] {
		if r.Subscribers != 0 || !r.GrossSales.IsZero() {
			t.Errorf("empty segment %s = %+v, want zeroes", r.Segment, r)
		}
	}
}

func TestReconcileAllSegments(t *testing.T) {
	calc := NewCalculator(DefaultCommissionBP, DefaultVATBP)

	records := calc.Reconcile(SegmentCounts{Traders: 10, Tourists: 5, Domestic: 8, Commuters: 100})

	wantBookings := map[Segment]int64{
		SegmentTraders:   40,   // 10 x 4
		SegmentTourists:  5,    // 5 x 1
		SegmentDomestic:  16,   // 8 x 2
		SegmentCommuters: 2000, // 100 x 20
	}
	for _, r := range records {
		if r.Bookings != wantBookings[r.Segment] {
			t.Errorf("%s bookings = %d, want %d", r.Segment, r.Bookings, wantBookings[r.Segment])
		}
		wantGross := r.AvgTicketPrice.Multiply(r.Bookings)
		if !r.GrossSales.Equal(wantGross) {
			t.Errorf("%s gross = %s, want %s", r.Segment, r.GrossSales, wantGross)
		}
		if !r.Commission.MustAdd(r.ProviderNet).Equal(r.GrossSales) {
			t.Errorf("%s commission+net = %s, want gross %s",
				r.Segment, r.Commission.MustAdd(r.ProviderNet), r.GrossSales)
		}
	}
}

func TestSummarizeConservation(t *testing.T) {
	calc := NewCalculator(DefaultCommissionBP, DefaultVATBP)
	asOf := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)

	inputs := []SegmentCounts{
		{Traders: 250},
		{Traders: 10, Tourists: 5, Domestic: 8, Commuters: 100},
		{Commuters: 1},
		{Traders: 3333, Tourists: 777, Domestic: 123, Commuters: 99999},
	}
	for _, counts := range inputs {
		records := calc.Reconcile(counts)
		summary := calc.Summarize(records, money.Zero(money.ZMW), asOf)

		var grossSum int64
		for _, r := range records {
			grossSum += r.GrossSales.AmountMinor
		}
		if grossSum != summary.TotalVolume.AmountMinor {
			t.Errorf("counts %+v: segment gross sum = %d, total volume = %d", counts, grossSum, summary.TotalVolume.AmountMinor)
		}

		// With zero subscription revenue and the default 10% rate the
		// 90% payout plus platform earnings must reconcile to gross
		// within one minor unit.
		reconciled := summary.RailwayPayout.AmountMinor + summary.PlatformEarnings.AmountMinor
		diff := summary.TotalVolume.AmountMinor - reconciled
		if diff < -1 || diff > 1 {
			t.Errorf("counts %+v: payout %d + earnings %d drifts %d from volume %d",
				counts, summary.RailwayPayout.AmountMinor, summary.PlatformEarnings.AmountMinor,
				diff, summary.TotalVolume.AmountMinor)
		}
	}
}

func TestSummarizeTaxAndNet(t *testing.T) {
	calc := NewCalculator(DefaultCommissionBP, DefaultVATBP)
	asOf := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)

	records := calc.Reconcile(SegmentCounts{Traders: 250})
	subscriptionRevenue := money.New(5000000, money.ZMW) // 50,000.00
	summary := calc.Summarize(records, subscriptionRevenue, asOf)

	// platform earnings = 50,000 + 12,000 commission = 62,000.00
	if got := summary.PlatformEarnings.Format2(); got != "62000.00" {
		t.Errorf("PlatformEarnings = %s, want 62000.00", got)
	}
	// 16% VAT on 62,000 = 9,920.00
	if got := summary.TaxWithholding.Format2(); got != "9920.00" {
		t.Errorf("TaxWithholding = %s, want 9920.00", got)
	}
	if got := summary.NetPlatformEarnings.Format2(); got != "52080.00" {
		t.Errorf("NetPlatformEarnings = %s, want 52080.00", got)
	}
	if summary.RateMismatch {
		t.Error("RateMismatch = true at the default rate")
	}
}

func TestSummarizeFlagsRateMismatch(t *testing.T) {
	calc := NewCalculator(1250, DefaultVATBP)
	records := calc.Reconcile(SegmentCounts{Traders: 10})
	summary := calc.Summarize(records, money.Zero(money.ZMW), time.Now())

	if !summary.RateMismatch {
		t.Error("RateMismatch = false with 12.5% commission against the fixed 90% payout")
	}
}

func TestNextSettlementDate(t *testing.T) {
	tests := []struct {
		name string
		asOf time.Time
		want time.Time
	}{
		{
			name: "wednesday rolls to friday",
			asOf: time.Date(2026, 1, 7, 15, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "friday rolls to next friday",
			asOf: time.Date(2026, 1, 9, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "saturday rolls to coming friday",
			asOf: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextSettlementDate(tt.asOf); !got.Equal(tt.want) {
				t.Errorf("NextSettlementDate(%v) = %v, want %v", tt.asOf, got, tt.want)
			}
		})
	}
}
