package domain

import "time"

// Output column names appended by the pipeline.
const (
	ColApprovalAnomaly  = "APPROVAL_ANOMALY"
	ColRawRisk          = "OPTIMIZED_RULES_RISK_SCORE_RAW"
	ColScaledRisk       = "OPTIMIZED_RULES_RISK_SCORE"
	ColBlendedRisk      = "OPTIMIZED_BLENDED_RISK_SCORE"
	ColDeviation        = "OPTIMIZED_DEVIATION"
	ColControlDeviation = "OPTIMIZED_CONTROL_DEVIATION"
)

// OptimizedPrefix prefixes per-rule optimized score columns.
const OptimizedPrefix = "OPTIMIZED_"

// OptimizedColumn returns the optimized score column name for a rule.
func OptimizedColumn(rule string) string {
	return OptimizedPrefix + rule
}

// Duplicate model identifiers. The supplier-name model runs first;
// the invoice-number model blocks on its cluster ids.
const (
	IdentifierSupplierName  = "SUPPLIER_NAME_ML"
	IdentifierInvoiceNumber = "INVOICE_NUMBER_ML"
)

// DuplicateIDColumn returns the cluster id column for an identifier.
func DuplicateIDColumn(identifier string) string {
	return "DUPLICATE_ID_" + identifier
}

// DuplicateFlagColumn returns the boolean flag column for an identifier.
func DuplicateFlagColumn(identifier string) string {
	return "DUPLICATE_FLAG_" + identifier
}

// DuplicateRiskColumn returns the accepted risk score list column.
func DuplicateRiskColumn(identifier string) string {
	return "DUPLICATE_RISK_SCORE_" + identifier
}

// DuplicateSimilarityColumn returns the similarity score list column.
func DuplicateSimilarityColumn(identifier string) string {
	return "DUPLICATE_SIMILARITY_SCORE_" + identifier
}

// NoCluster marks a line that joined no duplicate cluster.
const NoCluster int64 = -1

// DocumentRollup aggregates scored lines by ACCOUNT_DOC_ID: the max of
// each rule column, the max blended score, and the contributing rules.
type DocumentRollup struct {
	AccountDocID     string             `json:"accountDocId"`
	RuleScores       map[string]float64 `json:"ruleScores"`
	RawRisk          float64            `json:"rawRisk"`
	ScaledRisk       float64            `json:"scaledRisk"`
	BlendedRisk      float64            `json:"blendedRisk"`
	Deviation        int64              `json:"deviation"`
	ControlDeviation string             `json:"controlDeviation"`
}

// BatchResult is the persisted summary of one scored batch.
type BatchResult struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	BatchID   string    `json:"batchId"`
	Mode      string    `json:"mode"`
	Status    string    `json:"status"` // DONE or FAILED
	Rows      int       `json:"rows"`
	Documents int       `json:"documents"`
	Alerts    int       `json:"alerts"` // documents with DEVIATION = 1
	MaxRisk   float64   `json:"maxRisk"`
	Timestamp time.Time `json:"timestamp"`

	Rollup []DocumentRollup `json:"rollup,omitempty"`

	Metadata BatchMetadata `json:"metadata"`
}

// BatchMetadata carries per-phase processing information.
type BatchMetadata struct {
	TraceID        string `json:"traceId"`
	ApprovalMs     int64  `json:"approvalMs"`
	DuplicatesMs   int64  `json:"duplicatesMs"`
	OptimizeMs     int64  `json:"optimizeMs"`
	BlendMs        int64  `json:"blendMs"`
	TotalMs        int64  `json:"totalMs"`
	RowsSkipped    int    `json:"rowsSkipped"`
	BlocksDropped  int    `json:"blocksDropped"`
	RulesOptimized int    `json:"rulesOptimized"`
	Sequence       int64  `json:"sequence,omitempty"` // per-tenant monotonic batch number
	EngineVersion  string `json:"engineVersion"`
}

// Batch result statuses.
const (
	StatusDone   = "DONE"
	StatusFailed = "FAILED"
)
