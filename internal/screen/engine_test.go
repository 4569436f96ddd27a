package screen

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestLoadScreenCompileError(t *testing.T) {
	e := newTestEngine(t)

	err := e.LoadScreen(domain.ScreenRule{
		Rule:       domain.RuleLatePayment,
		Expression: "amount >>> broken",
		Enabled:    true,
	})
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestValidateScreenDoesNotLoad(t *testing.T) {
	e := newTestEngine(t)

	err := e.ValidateScreen(domain.ScreenRule{
		Rule:       domain.RuleLatePayment,
		Expression: "days_posted_after_due > 0.0",
	})
	if err != nil {
		t.Fatalf("ValidateScreen: %v", err)
	}
	if e.Count() != 0 {
		t.Errorf("Count = %d, want 0 after validate only", e.Count())
	}
}

func TestApplyFillsMissingFlags(t *testing.T) {
	e := newTestEngine(t)
	if err := e.LoadScreens([]domain.ScreenRule{
		{
			Rule:       domain.RuleLatePayment,
			Expression: "days_posted_after_due > 0.0",
			Enabled:    true,
		},
		{
			Rule:       domain.RuleUnfavorablePaymentTerms,
			Expression: "credit_period < 15",
			Enabled:    true,
		},
		{
			Rule:       domain.RuleNonPOInvoice,
			Expression: "amount > 0.0",
			Enabled:    false, // disabled screens are not loaded
		},
	}); err != nil {
		t.Fatalf("LoadScreens: %v", err)
	}
	if e.Count() != 2 {
		t.Fatalf("Count = %d, want 2", e.Count())
	}

	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		Lines: []domain.LineItem{
			{
				Amount:       decimal.NewFromFloat(100),
				CreditPeriod: 10,
				DueDate:      due,
				PostedDate:   due.AddDate(0, 0, 14), // paid late
			},
			{
				Amount:       decimal.NewFromFloat(100),
				CreditPeriod: 45,
				DueDate:      due,
				PostedDate:   due.AddDate(0, 0, -3),
			},
		},
	}

	filled := e.Apply(batch, 0)
	if filled != 2 {
		t.Fatalf("Apply filled %d screens, want 2", filled)
	}

	if !batch.Lines[0].Flag(domain.RuleLatePayment) {
		t.Error("late-posted line should be flagged LATE_PAYMENT")
	}
	if batch.Lines[1].Flag(domain.RuleLatePayment) {
		t.Error("early-posted line should not be flagged LATE_PAYMENT")
	}
	if !batch.Lines[0].Flag(domain.RuleUnfavorablePaymentTerms) {
		t.Error("short credit period should be flagged UNFAVORABLE_PAYMENT_TERMS")
	}
	if !batch.HasColumn(domain.RuleLatePayment) {
		t.Error("screened column should be registered on the batch")
	}
	if batch.HasColumn(domain.RuleNonPOInvoice) {
		t.Error("disabled screen should not register a column")
	}
}

func TestApplyPostedDateHorizon(t *testing.T) {
	e := newTestEngine(t)
	if err := e.LoadScreen(domain.ScreenRule{
		Rule:       domain.RuleUnfavorablePaymentTerms,
		Expression: "credit_period < 15",
		Enabled:    true,
	}); err != nil {
		t.Fatal(err)
	}

	received := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		ReceivedAt: received,
		Lines: []domain.LineItem{
			{CreditPeriod: 10, PostedDate: received.AddDate(0, 0, -30)},
			{CreditPeriod: 10, PostedDate: received.AddDate(-2, 0, 0)},
			{CreditPeriod: 10}, // no posted date is never aged out
		},
	}

	if filled := e.Apply(batch, 365); filled != 1 {
		t.Fatalf("Apply filled %d screens, want 1", filled)
	}
	if !batch.Lines[0].Flag(domain.RuleUnfavorablePaymentTerms) {
		t.Error("recently posted line should be screened")
	}
	if batch.Lines[1].Flag(domain.RuleUnfavorablePaymentTerms) {
		t.Error("line posted beyond the horizon should keep its flag unset")
	}
	if !batch.Lines[2].Flag(domain.RuleUnfavorablePaymentTerms) {
		t.Error("line without a posted date should be screened")
	}
}

func TestApplyNeverOverwritesProvidedColumns(t *testing.T) {
	e := newTestEngine(t)
	if err := e.LoadScreen(domain.ScreenRule{
		Rule:       domain.RuleSuspiciousKeyword,
		Expression: "true",
		Enabled:    true,
	}); err != nil {
		t.Fatal(err)
	}

	batch := &domain.Batch{
		RuleColumns: []string{domain.RuleSuspiciousKeyword},
		Lines: []domain.LineItem{
			{RuleFlags: map[string]bool{domain.RuleSuspiciousKeyword: false}},
		},
	}

	if filled := e.Apply(batch, 0); filled != 0 {
		t.Fatalf("Apply filled %d screens, want 0", filled)
	}
	if batch.Lines[0].Flag(domain.RuleSuspiciousKeyword) {
		t.Error("provided flag was overwritten")
	}
}
