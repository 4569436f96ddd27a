package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ApproverSlots is the number of approver slots on an AP line.
const ApproverSlots = 5

// UserRef is a nullable reference to an ERP user id.
// Empty approver slots are represented by Valid=false, never by a
// placeholder id.
type UserRef struct {
	ID    int64 `json:"id"`
	Valid bool  `json:"valid"`
}

// User returns a valid reference to the given user id.
func User(id int64) UserRef {
	return UserRef{ID: id, Valid: true}
}

// LineItem is one accounts-payable line of the scored-row table.
// Lines are created by the ingestion layer and enriched by the scoring
// pipeline; the pipeline never mutates these fields, it only appends
// computed columns to the batch frame.
type LineItem struct {
	// Identifiers
	AccountDocID string `json:"accountDocId"`
	LineID       string `json:"lineId"`

	// Financial details. Amount is signed; matching uses the absolute value.
	Amount decimal.Decimal `json:"amount"`

	// Invoice fields
	InvoiceNumber string    `json:"invoiceNumber"`
	InvoiceDate   time.Time `json:"invoiceDate"`
	DueDate       time.Time `json:"dueDate"`
	CreditPeriod  int       `json:"creditPeriod"` // days

	// Supplier
	SupplierID   string `json:"supplierId"`
	SupplierName string `json:"supplierName"`

	// Temporal
	PostedDate  time.Time `json:"postedDate"`
	EnteredDate time.Time `json:"enteredDate"`

	// Approver slots 1..5, nullable
	Approvers [ApproverSlots]UserRef `json:"approvers"`

	// Per-rule boolean flags keyed by rule name
	RuleFlags map[string]bool `json:"ruleFlags,omitempty"`

	// Per-rule raw score in [0,1] keyed by rule name
	RuleScores map[string]float64 `json:"ruleScores,omitempty"`

	// Global risk score assigned by the upstream scorer
	RiskScore float64 `json:"riskScore"`
}

// Flag reports whether the rule flag is set on this line.
func (l *LineItem) Flag(rule string) bool {
	return l.RuleFlags[rule]
}

// AbsAmount returns the absolute transaction amount as float64 for the
// numeric feature layer. Bracket comparisons stay on decimal.
func (l *LineItem) AbsAmount() float64 {
	f, _ := l.Amount.Abs().Float64()
	return f
}

// ParseLines decodes raw line documents one at a time so one bad line
// drops that line, never the batch. Lines with a malformed value, a bad
// amount or date among them, classify DATA_ERROR; lines without a
// document id classify SCHEMA_ERROR. The classified errors are returned
// alongside the surviving lines so callers can log and count them.
func ParseLines(raw []json.RawMessage) ([]LineItem, []error) {
	lines := make([]LineItem, 0, len(raw))
	var dropped []error
	for i, doc := range raw {
		var line LineItem
		if err := json.Unmarshal(doc, &line); err != nil {
			dropped = append(dropped, Ef(KindData, "domain.ParseLines", "lines[%d]: %v", i, err))
			continue
		}
		if line.AccountDocID == "" {
			dropped = append(dropped, Ef(KindSchema, "domain.ParseLines", "lines[%d]: accountDocId is required", i))
			continue
		}
		lines = append(lines, line)
	}
	return lines, dropped
}

// Batch is a collection of scored AP lines entering the pipeline.
type Batch struct {
	ID       string     `json:"id"`
	TenantID string     `json:"tenantId"`
	Lines    []LineItem `json:"lines"`

	// RuleColumns lists the rule-flag columns the feed actually provided.
	// Rules whose required columns are missing are silently skipped.
	RuleColumns []string `json:"ruleColumns,omitempty"`

	ReceivedAt time.Time `json:"receivedAt"`
}

// HasColumn reports whether the feed provided the named rule column.
func (b *Batch) HasColumn(name string) bool {
	for _, c := range b.RuleColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Len returns the number of lines in the batch.
func (b *Batch) Len() int {
	return len(b.Lines)
}
