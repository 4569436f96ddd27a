// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Approval-matrix reference table
	SaveApprovalMatrix(ctx context.Context, tenantID string, entries []MatrixEntry) error
	ListApprovalMatrix(ctx context.Context, tenantID string) ([]MatrixEntry, error)

	// User-approval reference table
	SaveUserApprovals(ctx context.Context, tenantID string, entries []UserApproval) error
	ListUserApprovals(ctx context.Context, tenantID string) ([]UserApproval, error)

	// Rule weight configuration
	SaveRuleWeights(ctx context.Context, tenantID string, weights RuleWeights) error
	GetRuleWeights(ctx context.Context, tenantID string) (RuleWeights, error)

	// Screening rule configuration
	SaveScreenRule(ctx context.Context, tenantID string, rule *ScreenRule) error
	ListScreenRules(ctx context.Context, tenantID string) ([]*ScreenRule, error)

	// Batch results
	SaveBatchResult(ctx context.Context, tenantID string, result *BatchResult) error
	GetBatchResult(ctx context.Context, tenantID string, resultID string) (*BatchResult, error)
	ListBatchResults(ctx context.Context, tenantID string, since time.Time) ([]*BatchResult, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
