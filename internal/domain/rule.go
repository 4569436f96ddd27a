package domain

// Rule names used verbatim as column prefixes throughout the pipeline.
const (
	RuleLatePayment             = "LATE_PAYMENT"
	RuleUnfavorablePaymentTerms = "UNFAVORABLE_PAYMENT_TERMS"
	RuleSuspiciousKeyword       = "SUSPICIOUS_KEYWORD"
	RuleImmediatePayments       = "IMMEDIATE_PAYMENTS"
	RulePostingPeriod           = "POSTING_PERIOD"
	RuleEarlyPostedInvoices     = "EARLY_POSTED_INVOICES"
	RuleNonPOInvoice            = "NON_PO_INVOICE"
	RuleInvoicesWithoutGRN      = "INVOICES_WITHOUT_GRN"
)

// AllRules returns the full rule set in canonical order.
func AllRules() []string {
	return []string{
		RuleLatePayment,
		RuleUnfavorablePaymentTerms,
		RuleSuspiciousKeyword,
		RuleImmediatePayments,
		RulePostingPeriod,
		RuleEarlyPostedInvoices,
		RuleNonPOInvoice,
		RuleInvoicesWithoutGRN,
	}
}

// RuleWeight binds a rule to its blending weight.
type RuleWeight struct {
	Rule   string  `json:"rule"`
	Weight float64 `json:"weight"`
}

// RuleWeights is an ordered weight map. Iteration order is significant:
// CONTROL_DEVIATION enumerates rules in this order, so the type is a
// slice rather than a map.
type RuleWeights []RuleWeight

// Lookup returns the weight configured for a rule.
func (w RuleWeights) Lookup(rule string) (float64, bool) {
	for _, rw := range w {
		if rw.Rule == rule {
			return rw.Weight, true
		}
	}
	return 0, false
}

// Rules returns the rule names in iteration order.
func (w RuleWeights) Rules() []string {
	names := make([]string, len(w))
	for i, rw := range w {
		names[i] = rw.Rule
	}
	return names
}

// DefaultRuleWeights returns an equal-weight configuration over the full
// rule set. Operators tune weights via the API.
func DefaultRuleWeights() RuleWeights {
	rules := AllRules()
	weights := make(RuleWeights, len(rules))
	for i, r := range rules {
		weights[i] = RuleWeight{Rule: r, Weight: 1.0}
	}
	return weights
}

// ScreenRule is a configurable screening expression that fills in a
// rule-flag column the feed did not provide. The expression is CEL and
// must return bool; it is evaluated per line before the pipeline runs.
type ScreenRule struct {
	Rule        string `json:"rule"` // output rule-flag column
	TenantID    string `json:"tenantId"`
	Description string `json:"description"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}
