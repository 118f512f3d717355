package settlement

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ERP constants used across export formats.
const (
	companyCode  = "TAZARA"
	setOfBooksID = "1"
	createdBy    = "SENTINEL_SYSTEM"
	payablesGL   = "2100-PAYABLES"
	payablesSeg1 = "2100"
)

// WriteSettlementCSV renders the generic settlement CSV: one row per
// segment plus a synthetic TOTAL row. Output is byte-identical for the same
// inputs and generatedAt, so two export runs can be diffed for audit.
func WriteSettlementCSV(w io.Writer, records []ReconciliationRecord, summary SettlementSummary, weekNumber int, generatedAt time.Time) error {
	cw := csv.NewWriter(w)

	header := []string{
		"Transaction_Date", "Week_Number", "Reference_ID", "Description",
		"Segment", "Subscribers", "Bookings", "Gross", "Commission",
		"Net_Payout", "Tax_Withholding", "Status", "Settlement_Date",
		"GL_Account",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing settlement header: %w", err)
	}

	txDate := generatedAt.UTC().Format("2006-01-02")
	settleDate := summary.SettlementDate.Format("2 January 2006")
	week := strconv.Itoa(weekNumber)

	var totalSubscribers, totalBookings int64
	for i, r := range records {
		totalSubscribers += r.Subscribers
		totalBookings += r.Bookings

		row := []string{
			txDate,
			week,
			fmt.Sprintf("SETTLE-W%02d-%03d", weekNumber, i+1),
			r.Name,
			SegmentCode(r.Segment),
			strconv.FormatInt(r.Subscribers, 10),
			strconv.FormatInt(r.Bookings, 10),
			r.GrossSales.Format2(),
			r.Commission.Format2(),
			r.ProviderNet.Format2(),
			r.Commission.Percentage(DefaultVATBP).Format2(),
			"Pending",
			settleDate,
			GLAccount(r.Segment),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing settlement row: %w", err)
		}
	}

	totalRow := []string{
		txDate,
		week,
		fmt.Sprintf("SETTLE-W%02d-TOTAL", weekNumber),
		"TOTAL SETTLEMENT",
		"ALL",
		strconv.FormatInt(totalSubscribers, 10),
		strconv.FormatInt(totalBookings, 10),
		summary.TotalVolume.Format2(),
		summary.CommissionRevenue.Format2(),
		summary.RailwayPayout.Format2(),
		summary.TaxWithholding.Format2(),
		"Pending",
		settleDate,
		"4000-REVENUE",
	}
	if err := cw.Write(totalRow); err != nil {
		return fmt.Errorf("writing settlement total row: %w", err)
	}

	cw.Flush()
	return cw.Error()
}

// WriteSAPJournalCSV renders SAP FI journal rows: per segment, a debit for
// the railway net and a credit for the commission payable, so the pair sums
// to that segment's gross sales.
func WriteSAPJournalCSV(w io.Writer, records []ReconciliationRecord, weekNumber int, generatedAt time.Time) error {
	cw := csv.NewWriter(w)

	header := []string{
		"Document_Type", "Company_Code", "Posting_Date", "Document_Date",
		"Reference", "Currency", "GL_Account", "Cost_Center", "Amount",
		"Debit_Credit", "Text", "Assignment", "Trading_Partner",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing sap header: %w", err)
	}

	date := generatedAt.UTC().Format("2006-01-02")
	for i, r := range records {
		reference := fmt.Sprintf("SENT-W%d-%d", weekNumber, i+1)
		costCenter := CostCenter(r.Segment)

		debit := []string{
			"SA", companyCode, date, date, reference,
			string(r.GrossSales.Currency),
			GLAccount(r.Segment), costCenter,
			r.ProviderNet.Format2(), "D",
			r.Name + " - Railway Revenue",
			reference, "SENTINEL",
		}
		credit := []string{
			"SA", companyCode, date, date, reference,
			string(r.GrossSales.Currency),
			payablesGL, costCenter,
			r.Commission.Format2(), "C",
			r.Name + " - Sentinel Commission",
			reference, "SENTINEL",
		}
		if err := cw.Write(debit); err != nil {
			return fmt.Errorf("writing sap debit row: %w", err)
		}
		if err := cw.Write(credit); err != nil {
			return fmt.Errorf("writing sap credit row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteOracleGLCSV renders Oracle GL interface rows with the
// account/cost-center/product segment coding.
func WriteOracleGLCSV(w io.Writer, records []ReconciliationRecord, weekNumber int, generatedAt time.Time) error {
	cw := csv.NewWriter(w)

	header := []string{
		"Status", "Set_of_Books_ID", "Accounting_Date", "Currency_Code",
		"Date_Created", "Created_By", "Actual_Flag",
		"User_JE_Category_Name", "User_JE_Source_Name",
		"Segment1", "Segment2", "Segment3",
		"Entered_DR", "Entered_CR",
		"Reference1", "Reference2", "Reference3",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing oracle header: %w", err)
	}

	date := generatedAt.UTC().Format("2006-01-02")
	weekRef := fmt.Sprintf("Week %d", weekNumber)
	for i, r := range records {
		reference := fmt.Sprintf("SENT-W%d-%d", weekNumber, i+1)
		costCenter := CostCenter(r.Segment)
		product := ProductCode(r.Segment)

		debit := []string{
			"NEW", setOfBooksID, date,
			string(r.GrossSales.Currency),
			date, createdBy, "A", "Revenue", "Sentinel",
			GLAccount(r.Segment), costCenter, product,
			r.ProviderNet.Format2(), "",
			reference, r.Name, weekRef,
		}
		credit := []string{
			"NEW", setOfBooksID, date,
			string(r.GrossSales.Currency),
			date, createdBy, "A", "Payables", "Sentinel",
			payablesSeg1, costCenter, product,
			"", r.Commission.Format2(),
			reference, r.Name, weekRef,
		}
		if err := cw.Write(debit); err != nil {
			return fmt.Errorf("writing oracle debit row: %w", err)
		}
		if err := cw.Write(credit); err != nil {
			return fmt.Errorf("writing oracle credit row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
