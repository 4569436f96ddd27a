// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveApprovalMatrix replaces the tenant's approval-matrix brackets.
func (r *SQLRepository) SaveApprovalMatrix(ctx context.Context, tenantID string, entries []domain.MatrixEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM approval_matrices WHERE tenant_id = ?`), tenantID); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO approval_matrices (
			tenant_id, entry_id, min_amount, max_amount, levels, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, e := range entries {
		levels, _ := json.Marshal(e.Levels)
		if _, err := tx.ExecContext(ctx, r.rebind(query),
			tenantID, e.ID, e.Min.String(), e.Max.String(), string(levels), now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListApprovalMatrix retrieves the tenant's approval-matrix brackets.
func (r *SQLRepository) ListApprovalMatrix(ctx context.Context, tenantID string) ([]domain.MatrixEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT entry_id, min_amount, max_amount, levels
		FROM approval_matrices
		WHERE tenant_id = ?
		ORDER BY entry_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.MatrixEntry
	for rows.Next() {
		var e domain.MatrixEntry
		var min, max, levels string
		if err := rows.Scan(&e.ID, &min, &max, &levels); err != nil {
			return nil, err
		}
		if e.Min, err = decimal.NewFromString(min); err != nil {
			return nil, fmt.Errorf("bracket %d: bad min amount: %w", e.ID, err)
		}
		if e.Max, err = decimal.NewFromString(max); err != nil {
			return nil, fmt.Errorf("bracket %d: bad max amount: %w", e.ID, err)
		}
		json.Unmarshal([]byte(levels), &e.Levels)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveUserApprovals replaces the tenant's user-approval table.
func (r *SQLRepository) SaveUserApprovals(ctx context.Context, tenantID string, entries []domain.UserApproval) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM user_approvals WHERE tenant_id = ?`), tenantID); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO user_approvals (
			tenant_id, user_id, level, min_amount, max_amount, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, r.rebind(query),
			tenantID, e.UserID, e.Level, e.Min.String(), e.Max.String(), now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListUserApprovals retrieves the tenant's user-approval table.
func (r *SQLRepository) ListUserApprovals(ctx context.Context, tenantID string) ([]domain.UserApproval, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT user_id, level, min_amount, max_amount
		FROM user_approvals
		WHERE tenant_id = ?
		ORDER BY user_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.UserApproval
	for rows.Next() {
		var e domain.UserApproval
		var min, max string
		if err := rows.Scan(&e.UserID, &e.Level, &min, &max); err != nil {
			return nil, err
		}
		if e.Min, err = decimal.NewFromString(min); err != nil {
			return nil, fmt.Errorf("user %d: bad min amount: %w", e.UserID, err)
		}
		if e.Max, err = decimal.NewFromString(max); err != nil {
			return nil, fmt.Errorf("user %d: bad max amount: %w", e.UserID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveRuleWeights upserts the tenant's ordered weight configuration.
func (r *SQLRepository) SaveRuleWeights(ctx context.Context, tenantID string, weights domain.RuleWeights) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	doc, err := json.Marshal(weights)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rule_weights (tenant_id, weights, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			weights = excluded.weights,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), tenantID, string(doc), time.Now().UTC())
	return err
}

// GetRuleWeights retrieves the tenant's weight configuration in its
// stored order.
func (r *SQLRepository) GetRuleWeights(ctx context.Context, tenantID string) (domain.RuleWeights, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var doc string
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT weights FROM rule_weights WHERE tenant_id = ?`), tenantID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var weights domain.RuleWeights
	if err := json.Unmarshal([]byte(doc), &weights); err != nil {
		return nil, fmt.Errorf("failed to parse rule weights: %w", err)
	}
	return weights, nil
}

// SaveScreenRule upserts one screening rule.
func (r *SQLRepository) SaveScreenRule(ctx context.Context, tenantID string, rule *domain.ScreenRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.Rule == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO screen_rules (
			tenant_id, rule, description, expression, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, rule) DO UPDATE SET
			description = excluded.description,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, rule.Rule, rule.Description, rule.Expression, enabled, now, now,
	)
	return err
}

// ListScreenRules retrieves the tenant's screening rules.
func (r *SQLRepository) ListScreenRules(ctx context.Context, tenantID string) ([]*domain.ScreenRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT rule, description, expression, enabled
		FROM screen_rules
		WHERE tenant_id = ?
		ORDER BY rule
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ScreenRule
	for rows.Next() {
		var s domain.ScreenRule
		var enabled int
		if err := rows.Scan(&s.Rule, &s.Description, &s.Expression, &enabled); err != nil {
			return nil, err
		}
		s.TenantID = tenantID
		s.Enabled = enabled == 1
		rules = append(rules, &s)
	}
	return rules, rows.Err()
}

// SaveBatchResult stores one scored batch summary.
func (r *SQLRepository) SaveBatchResult(ctx context.Context, tenantID string, result *domain.BatchResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	rollup, _ := json.Marshal(result.Rollup)
	metadata, _ := json.Marshal(result.Metadata)

	query := `
		INSERT INTO batch_results (
			id, tenant_id, batch_id, mode, status,
			row_count, document_count, alert_count, max_risk,
			timestamp, rollup, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, result.BatchID, result.Mode, result.Status,
		result.Rows, result.Documents, result.Alerts, result.MaxRisk,
		result.Timestamp, string(rollup), string(metadata),
	)
	return err
}

// GetBatchResult retrieves a batch result by ID with tenant isolation.
func (r *SQLRepository) GetBatchResult(ctx context.Context, tenantID string, resultID string) (*domain.BatchResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, batch_id, mode, status,
			   row_count, document_count, alert_count, max_risk,
			   timestamp, rollup, metadata
		FROM batch_results
		WHERE tenant_id = ? AND id = ?
	`

	var result domain.BatchResult
	var rollup, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, resultID).Scan(
		&result.ID, &result.TenantID, &result.BatchID, &result.Mode, &result.Status,
		&result.Rows, &result.Documents, &result.Alerts, &result.MaxRisk,
		&result.Timestamp, &rollup, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if rollup != "" {
		json.Unmarshal([]byte(rollup), &result.Rollup)
	}
	json.Unmarshal([]byte(metadata), &result.Metadata)

	return &result, nil
}

// ListBatchResults retrieves batch results newer than since.
func (r *SQLRepository) ListBatchResults(ctx context.Context, tenantID string, since time.Time) ([]*domain.BatchResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, batch_id, mode, status,
			   row_count, document_count, alert_count, max_risk,
			   timestamp, rollup, metadata
		FROM batch_results
		WHERE tenant_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.BatchResult
	for rows.Next() {
		var result domain.BatchResult
		var rollup, metadata string

		if err := rows.Scan(
			&result.ID, &result.TenantID, &result.BatchID, &result.Mode, &result.Status,
			&result.Rows, &result.Documents, &result.Alerts, &result.MaxRisk,
			&result.Timestamp, &rollup, &metadata,
		); err != nil {
			return nil, err
		}

		if rollup != "" {
			json.Unmarshal([]byte(rollup), &result.Rollup)
		}
		json.Unmarshal([]byte(metadata), &result.Metadata)
		results = append(results, &result)
	}
	return results, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
