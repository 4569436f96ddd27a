package feature

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestPairFeatures(t *testing.T) {
	a := &domain.LineItem{
		InvoiceNumber: "INV-100",
		SupplierName:  "ACME CORP",
		Amount:        decimal.NewFromFloat(150),
		InvoiceDate:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	b := &domain.LineItem{
		InvoiceNumber: "INV-100",
		SupplierName:  "ACME CORP",
		Amount:        decimal.NewFromFloat(-100),
		InvoiceDate:   time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC),
	}

	got := PairFeatures(a, b, 0.5, 0.7)
	if len(got) != len(PairFeatureNames) {
		t.Fatalf("feature count = %d, want %d", len(got), len(PairFeatureNames))
	}

	want := map[string]float64{
		"amount_diff":        50, // |150| - |-100|
		"date_diff":          5,
		"vendor_similarity":  1,
		"invoice_similarity": 1,
		"risk_avg":           0.6,
		"amount_date":        250,
		"vendor_amount":      50,
		"risk_amount":        30,
		"risk_date":          3,
	}
	for i, name := range PairFeatureNames {
		if math.Abs(got[i]-want[name]) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, got[i], want[name])
		}
	}
}

func TestDateParts(t *testing.T) {
	tests := []struct {
		date    time.Time
		quarter float64
		day     float64
		month   float64
	}{
		{time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), 1, 15, 1},
		{time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), 1, 31, 3},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 2, 1, 4},
		{time.Date(2026, 12, 9, 0, 0, 0, 0, time.UTC), 4, 9, 12},
		{time.Time{}, 0, 0, 0},
	}
	for _, tt := range tests {
		q, d, m := DateParts(tt.date)
		if q != tt.quarter || d != tt.day || m != tt.month {
			t.Errorf("DateParts(%v) = (%v,%v,%v), want (%v,%v,%v)",
				tt.date, q, d, m, tt.quarter, tt.day, tt.month)
		}
	}
}

func TestLogAmount(t *testing.T) {
	if got := LogAmount(8); got != 3 {
		t.Errorf("LogAmount(8) = %v, want 3", got)
	}
	if got := LogAmount(-8); got != 3 {
		t.Errorf("LogAmount(-8) = %v, want 3 (absolute value)", got)
	}
	if got := LogAmount(0); got != 0 {
		t.Errorf("LogAmount(0) = %v, want 0", got)
	}
}

func TestRowFeatures(t *testing.T) {
	line := &domain.LineItem{
		Amount:       decimal.NewFromFloat(1024),
		CreditPeriod: 45,
		InvoiceDate:  time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC),
		PostedDate:   time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC),
	}

	got := RowFeatures(line)
	if len(got) != len(RowFeatureNames) {
		t.Fatalf("feature count = %d, want %d", len(got), len(RowFeatureNames))
	}
	if got[0] != 3 || got[1] != 4 || got[2] != 7 {
		t.Errorf("invoice date parts = %v, want (3,4,7)", got[:3])
	}
	// Zero due date contributes zero parts.
	if got[6] != 0 || got[7] != 0 || got[8] != 0 {
		t.Errorf("due date parts = %v, want zeros", got[6:9])
	}
	if got[9] != 10 {
		t.Errorf("log_amount = %v, want 10", got[9])
	}
	if got[10] != 45 {
		t.Errorf("credit_period = %v, want 45", got[10])
	}
}

func TestOneHotEncoder(t *testing.T) {
	e := &OneHotEncoder{Categories: []string{"NET30", "NET60", "NET90"}}

	if got := e.Encode("NET60"); got[0] != 0 || got[1] != 1 || got[2] != 0 {
		t.Errorf("Encode(NET60) = %v", got)
	}
	if got := e.Encode("NET120"); got[0] != 0 || got[1] != 0 || got[2] != 0 {
		t.Errorf("unseen category should encode to zeros, got %v", got)
	}
	if e.Width() != 3 {
		t.Errorf("Width = %d, want 3", e.Width())
	}
}

func TestTargetEncoder(t *testing.T) {
	e := &TargetEncoder{
		Mapping: map[string]float64{"SUP-1": 0.8, "SUP-2": 0.2},
		Prior:   0.35,
	}
	if got := e.Encode("SUP-1"); got != 0.8 {
		t.Errorf("Encode(SUP-1) = %v, want 0.8", got)
	}
	if got := e.Encode("SUP-9"); got != 0.35 {
		t.Errorf("unseen value should fall back to the prior, got %v", got)
	}
}

func TestFrequencyEncoder(t *testing.T) {
	e := &FrequencyEncoder{Mapping: map[string]float64{"GL-4000": 0.6}}
	if got := e.Encode("GL-4000"); got != 0.6 {
		t.Errorf("Encode(GL-4000) = %v, want 0.6", got)
	}
	if got := e.Encode("GL-9999"); got != 0 {
		t.Errorf("unseen code should encode to 0, got %v", got)
	}
}

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{Mean: []float64{10, 0}, Scale: []float64{2, 0}}

	got := s.Transform([]float64{14, 5, 7})
	if got[0] != 2 {
		t.Errorf("scaled[0] = %v, want 2", got[0])
	}
	if got[1] != 5 {
		t.Errorf("zero scale should center only, got %v", got[1])
	}
	if got[2] != 7 {
		t.Errorf("position beyond fitted params should pass through, got %v", got[2])
	}
}

func TestDayDiff(t *testing.T) {
	a := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC)
	if got := DayDiff(a, b); got != 10 {
		t.Errorf("DayDiff = %v, want 10", got)
	}
	if got := DayDiff(time.Time{}, b); got != 0 {
		t.Errorf("zero date should yield 0, got %v", got)
	}
}
