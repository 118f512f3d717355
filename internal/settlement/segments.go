// Package settlement computes the weekly railway revenue split and renders
// it into the tabular formats the railway ERPs ingest.
package settlement

import (
	"railpay/internal/common/money"
)

// Segment identifies a passenger segment.
type Segment string

const (
	SegmentTraders   Segment = "traders"
	SegmentTourists  Segment = "tourists"
	SegmentDomestic  Segment = "domestic"
	SegmentCommuters Segment = "commuters"
)

// SegmentRate is one row of the immutable per-segment rate table, derived
// from market research on booking behavior per segment.
type SegmentRate struct {
	Segment           Segment
	Name              string
	BookingsPerPeriod int64
	AvgTicketPrice    money.Money
}

// DefaultRates returns the rate table in reporting order.
func DefaultRates() []SegmentRate {
	return []SegmentRate{
		{SegmentTraders, "Small-Scale Traders", 4, money.New(12000, money.ZMW)},
		{SegmentTourists, "International Tourists", 1, money.New(28000, money.ZMW)},
		{SegmentDomestic, "Domestic Leisure", 2, money.New(9500, money.ZMW)},
		{SegmentCommuters, "Daily Commuters", 20, money.New(2500, money.ZMW)},
	}
}

// ERP account lookups. Unknown segments fall through to the generic codes.

func GLAccount(seg Segment) string {
	switch seg {
	case SegmentTraders:
		return "4100-TRADER-REV"
	case SegmentTourists:
		return "4200-TOURIST-REV"
	case SegmentDomestic:
		return "4300-DOMESTIC-REV"
	case SegmentCommuters:
		return "4400-COMMUTER-REV"
	}
	return "4000-REVENUE"
}

func CostCenter(seg Segment) string {
	switch seg {
	case SegmentTraders:
		return "CC-TRADER"
	case SegmentTourists:
		return "CC-TOURIST"
	case SegmentDomestic:
		return "CC-DOMESTIC"
	case SegmentCommuters:
		return "CC-COMMUTER"
	}
	return "CC-GENERAL"
}

func ProductCode(seg Segment) string {
	switch seg {
	case SegmentTraders:
		return "PROD-TRADER"
	case SegmentTourists:
		return "PROD-TOURIST"
	case SegmentDomestic:
		return "PROD-DOMESTIC"
	case SegmentCommuters:
		return "PROD-COMMUTER"
	}
	return "PROD-GENERAL"
}

func SegmentCode(seg Segment) string {
	switch seg {
	case SegmentTraders:
		return "TRD"
	case SegmentTourists:
		return "TOU"
	case SegmentDomestic:
		return "DOM"
	case SegmentCommuters:
		return "COM"
	}
	return "GEN"
}
