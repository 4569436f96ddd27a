// Package optimizer re-scores flagged rows through trained per-rule
// pipelines and aggregates pair-level duplicate scores to rows.
package optimizer

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// requiredColumns maps each rule to the input columns it needs. A rule
// with any column missing from the batch is not evaluable and is
// silently left out of optimization and blending.
var requiredColumns = map[string][]string{
	domain.RuleLatePayment:             {domain.RuleLatePayment, "DUE_DATE", "POSTED_DATE"},
	domain.RuleUnfavorablePaymentTerms: {domain.RuleUnfavorablePaymentTerms, "CREDIT_PERIOD"},
	domain.RuleSuspiciousKeyword:       {domain.RuleSuspiciousKeyword},
	domain.RuleImmediatePayments:       {domain.RuleImmediatePayments, "INVOICE_DATE", "POSTED_DATE"},
	domain.RulePostingPeriod:           {domain.RulePostingPeriod, "POSTED_DATE"},
	domain.RuleEarlyPostedInvoices:     {domain.RuleEarlyPostedInvoices, "INVOICE_DATE", "POSTED_DATE"},
	domain.RuleNonPOInvoice:            {domain.RuleNonPOInvoice},
	domain.RuleInvoicesWithoutGRN:      {domain.RuleInvoicesWithoutGRN},
}

// Evaluable filters rules to those whose required columns are all
// present, preserving the input order.
func Evaluable(rules []string, has func(column string) bool) []string {
	out := make([]string, 0, len(rules))
	for _, rule := range rules {
		required, known := requiredColumns[rule]
		if !known {
			continue
		}
		ok := true
		for _, col := range required {
			if !has(col) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, rule)
		}
	}
	return out
}

// RequiredColumns returns the gate entry for a rule.
func RequiredColumns(rule string) ([]string, bool) {
	cols, ok := requiredColumns[rule]
	return cols, ok
}
