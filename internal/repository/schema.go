package repository

// Schema definitions for Kestrel reference tables and batch results.
// Compatible with both SQLite and PostgreSQL.

const schemaApprovalMatrices = `
CREATE TABLE IF NOT EXISTS approval_matrices (
    tenant_id TEXT NOT NULL,
    entry_id INTEGER NOT NULL,
    min_amount TEXT NOT NULL,
    max_amount TEXT NOT NULL,
    levels TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, entry_id)
);

CREATE INDEX IF NOT EXISTS idx_approval_matrices_tenant ON approval_matrices(tenant_id);
`

const schemaUserApprovals = `
CREATE TABLE IF NOT EXISTS user_approvals (
    tenant_id TEXT NOT NULL,
    user_id INTEGER NOT NULL,
    level INTEGER NOT NULL,
    min_amount TEXT NOT NULL,
    max_amount TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_user_approvals_tenant ON user_approvals(tenant_id);
`

// Rule weights are stored as one ordered JSON document per tenant:
// blending iterates weights in configuration order and a row-per-rule
// layout would lose it.
const schemaRuleWeights = `
CREATE TABLE IF NOT EXISTS rule_weights (
    tenant_id TEXT PRIMARY KEY,
    weights TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaScreenRules = `
CREATE TABLE IF NOT EXISTS screen_rules (
    tenant_id TEXT NOT NULL,
    rule TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, rule)
);

CREATE INDEX IF NOT EXISTS idx_screen_rules_tenant ON screen_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_screen_rules_enabled ON screen_rules(tenant_id, enabled);
`

const schemaBatchResults = `
CREATE TABLE IF NOT EXISTS batch_results (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    batch_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    status TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    document_count INTEGER NOT NULL,
    alert_count INTEGER NOT NULL,
    max_risk REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    rollup TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batch_results_tenant ON batch_results(tenant_id);
CREATE INDEX IF NOT EXISTS idx_batch_results_batch ON batch_results(tenant_id, batch_id);
CREATE INDEX IF NOT EXISTS idx_batch_results_timestamp ON batch_results(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaApprovalMatrices,
		schemaUserApprovals,
		schemaRuleWeights,
		schemaScreenRules,
		schemaBatchResults,
	}
}
