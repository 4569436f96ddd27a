// Package feature computes the model input vectors for score
// optimization: pair-local features for the duplicate model and
// row-local features for the tabular rule models.
package feature

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/similarity"
)

// PairFeatureNames is the fixed order of the duplicate-model features.
var PairFeatureNames = []string{
	"amount_diff",
	"date_diff",
	"vendor_similarity",
	"invoice_similarity",
	"risk_avg",
	"amount_date",
	"vendor_amount",
	"risk_amount",
	"risk_date",
}

// PairFeatures builds the duplicate-model feature vector for two lines
// and their upstream risk scores.
func PairFeatures(a, b *domain.LineItem, riskA, riskB float64) []float64 {
	amountDiff, _ := a.Amount.Abs().Sub(b.Amount.Abs()).Abs().Float64()
	dateDiff := math.Abs(DayDiff(a.InvoiceDate, b.InvoiceDate))
	vendorSim := similarity.Ratio(a.SupplierName, b.SupplierName)
	invoiceSim := similarity.Ratio(a.InvoiceNumber, b.InvoiceNumber)
	riskAvg := (riskA + riskB) / 2

	return []float64{
		amountDiff,
		dateDiff,
		vendorSim,
		invoiceSim,
		riskAvg,
		amountDiff * dateDiff,
		vendorSim * amountDiff,
		riskAvg * amountDiff,
		riskAvg * dateDiff,
	}
}

// DayDiff is the signed whole-day distance from a to b. A zero date on
// either side yields 0 rather than a spurious epoch-sized gap.
func DayDiff(a, b time.Time) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	return b.Sub(a).Hours() / 24
}

// DateParts extracts (quarter, day, month) from a date. A zero date
// maps to all zeros.
func DateParts(t time.Time) (quarter, day, month float64) {
	if t.IsZero() {
		return 0, 0, 0
	}
	m := int(t.Month())
	return float64((m-1)/3 + 1), float64(t.Day()), float64(m)
}

// LogAmount is log2 of the absolute amount, with zero and negative
// magnitudes mapping to 0.
func LogAmount(amount float64) float64 {
	amount = math.Abs(amount)
	if amount == 0 {
		return 0
	}
	v := math.Log2(amount)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

// RowFeatures builds the tabular-rule feature vector for one line:
// date parts of the invoice, posted and due dates, the log amount and
// the credit period.
func RowFeatures(line *domain.LineItem) []float64 {
	out := make([]float64, 0, 11)
	for _, t := range []time.Time{line.InvoiceDate, line.PostedDate, line.DueDate} {
		q, d, m := DateParts(t)
		out = append(out, q, d, m)
	}
	amount, _ := line.Amount.Float64()
	out = append(out, LogAmount(amount), float64(line.CreditPeriod))
	return out
}

// RowFeatureNames is the fixed order of the tabular-rule features,
// aligned to RowFeatures.
var RowFeatureNames = []string{
	"invoice_quarter", "invoice_day", "invoice_month",
	"posted_quarter", "posted_day", "posted_month",
	"due_quarter", "due_day", "due_month",
	"log_amount", "credit_period",
}

// RowValues maps each row feature name to its value so artifacts can
// assemble vectors by name rather than position.
func RowValues(line *domain.LineItem) map[string]float64 {
	vals := RowFeatures(line)
	out := make(map[string]float64, len(vals))
	for i, name := range RowFeatureNames {
		out[name] = vals[i]
	}
	return out
}

// RowCategoricals maps each encodable source column to its raw value.
func RowCategoricals(line *domain.LineItem) map[string]string {
	return map[string]string{
		"supplier_id":    line.SupplierID,
		"supplier_name":  line.SupplierName,
		"invoice_number": line.InvoiceNumber,
	}
}
