// Package pipeline drives the scoring of one batch through its phases:
// approval evaluation, duplicate detection, per-rule optimization and
// blending, finishing with the document roll-up.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/approval"
	"github.com/opensource-finance/kestrel/internal/blend"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/duplicate"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/optimizer"
	"github.com/opensource-finance/kestrel/internal/screen"
)

var tracer = otel.Tracer("kestrel-pipeline")

// EngineVersion tags persisted results with the pipeline build.
const EngineVersion = "kestrel-1.0"

// State is one step of the batch lifecycle.
type State string

const (
	StateInit              State = "INIT"
	StateModeSelected      State = "MODE_SELECTED"
	StateApprovalEvaluated State = "APPROVAL_EVALUATED"
	StateDuplicatesScored  State = "DUPLICATES_SCORED"
	StateRulesOptimized    State = "RULES_OPTIMIZED"
	StateBlended           State = "BLENDED"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Runner orchestrates the scoring phases for one batch at a time.
type Runner struct {
	cfg       domain.PipelineConfig
	screens   *screen.Engine
	approvals *approval.Engine
	detector  *duplicate.Detector
	optimizer *optimizer.Optimizer
}

// NewRunner wires a runner from its phase engines. screens may be nil
// when no screening rules are configured.
func NewRunner(cfg domain.PipelineConfig, screens *screen.Engine, approvals *approval.Engine, detector *duplicate.Detector, opt *optimizer.Optimizer) *Runner {
	return &Runner{
		cfg:       cfg,
		screens:   screens,
		approvals: approvals,
		detector:  detector,
		optimizer: opt,
	}
}

// Outcome is the full result of one batch run.
type Outcome struct {
	State  State
	Frame  *frame.Frame
	Result *domain.BatchResult
}

// Run scores the batch. A classified fatal error moves the batch to
// FAILED and is returned; degraded phases log and continue.
func (r *Runner) Run(ctx context.Context, batch *domain.Batch) (*Outcome, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("batch.id", batch.ID),
		attribute.String("tenant.id", batch.TenantID),
		attribute.Int("batch.rows", batch.Len()),
	))
	defer span.End()

	out := &Outcome{
		State: StateInit,
		Frame: frame.New(batch.Len()),
	}
	result := &domain.BatchResult{
		ID:        uuid.New().String(),
		TenantID:  batch.TenantID,
		BatchID:   batch.ID,
		Rows:      batch.Len(),
		Timestamp: time.Now().UTC(),
		Metadata: domain.BatchMetadata{
			TraceID:       span.SpanContext().TraceID().String(),
			EngineVersion: EngineVersion,
		},
	}
	out.Result = result

	fail := func(err error) (*Outcome, error) {
		out.State = StateFailed
		result.Status = domain.StatusFailed
		result.Metadata.TotalMs = time.Since(start).Milliseconds()
		span.RecordError(err)
		slog.Error("batch failed",
			"batch_id", batch.ID,
			"tenant_id", batch.TenantID,
			"kind", string(domain.KindOf(err)),
			"error", err,
		)
		return out, err
	}

	// Mode selection.
	mode := r.cfg.ApprovalMode
	if !mode.Valid() {
		return fail(domain.Ef(domain.KindConfig, "pipeline.Run", "invalid approval mode %d", mode))
	}
	if len(r.cfg.Weights) == 0 {
		return fail(domain.Ef(domain.KindConfig, "pipeline.Run", "no rule weights configured"))
	}
	result.Mode = mode.String()
	out.State = StateModeSelected

	// Screening fills rule flags the feed left out.
	if r.screens != nil && r.screens.Count() > 0 {
		filled := r.screens.Apply(batch, r.cfg.PostedDateHorizonDays)
		if filled > 0 {
			slog.Info("screens applied",
				"batch_id", batch.ID,
				"columns_filled", filled,
			)
		}
	}

	// Approval phase.
	if err := r.runApproval(ctx, batch, out.Frame, mode, result); err != nil {
		return fail(err)
	}
	out.State = StateApprovalEvaluated

	// Duplicate phase.
	if err := r.runDuplicates(ctx, batch, out.Frame, result); err != nil {
		return fail(err)
	}
	out.State = StateDuplicatesScored

	// Optimization phase.
	if err := r.runOptimize(ctx, batch, out.Frame, result); err != nil {
		return fail(err)
	}
	out.State = StateRulesOptimized

	// Blend phase and roll-up.
	if err := r.runBlend(ctx, batch, out.Frame, result); err != nil {
		return fail(err)
	}
	out.State = StateBlended

	result.Status = domain.StatusDone
	result.Metadata.TotalMs = time.Since(start).Milliseconds()
	out.State = StateDone

	slog.Info("batch scored",
		"batch_id", batch.ID,
		"tenant_id", batch.TenantID,
		"rows", result.Rows,
		"documents", result.Documents,
		"alerts", result.Alerts,
		"total_ms", result.Metadata.TotalMs,
	)
	return out, nil
}

func (r *Runner) runApproval(ctx context.Context, batch *domain.Batch, f *frame.Frame, mode domain.ApprovalMode, result *domain.BatchResult) error {
	start := time.Now()
	_, span := tracer.Start(ctx, "pipeline.approval", trace.WithAttributes(
		attribute.String("mode", mode.String()),
	))
	defer span.End()

	verdicts, err := r.approvals.Evaluate(mode, batch)
	if err != nil {
		return err
	}
	if err := f.AddInts(domain.ColApprovalAnomaly, verdicts); err != nil {
		return domain.E(domain.KindFatal, "pipeline.approval", err)
	}

	anomalies := 0
	for _, v := range verdicts {
		if v == 1 {
			anomalies++
		}
	}
	result.Metadata.ApprovalMs = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.Int("anomalies", anomalies))
	slog.Info("approval evaluated",
		"batch_id", batch.ID,
		"mode", mode.String(),
		"rows", batch.Len(),
		"anomalies", anomalies,
		"elapsed_ms", result.Metadata.ApprovalMs,
	)
	return nil
}

func (r *Runner) runDuplicates(ctx context.Context, batch *domain.Batch, f *frame.Frame, result *domain.BatchResult) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.duplicates")
	defer span.End()

	stats, err := r.detector.Run(ctx, batch, f)
	if err != nil {
		return domain.E(domain.KindFatal, "pipeline.duplicates", err)
	}

	result.Metadata.DuplicatesMs = time.Since(start).Milliseconds()
	result.Metadata.BlocksDropped = stats.BlocksDropped
	span.SetAttributes(
		attribute.Int("supplier_pairs", stats.SupplierPairs),
		attribute.Int("invoice_pairs", stats.InvoicePairs),
		attribute.Int("blocks_dropped", stats.BlocksDropped),
	)
	slog.Info("duplicates scored",
		"batch_id", batch.ID,
		"rows", batch.Len(),
		"supplier_pairs", stats.SupplierPairs,
		"invoice_pairs", stats.InvoicePairs,
		"supplier_matches", stats.SupplierMatches,
		"invoice_matches", stats.InvoiceMatches,
		"blocks_dropped", stats.BlocksDropped,
		"elapsed_ms", result.Metadata.DuplicatesMs,
	)
	return nil
}

func (r *Runner) runOptimize(ctx context.Context, batch *domain.Batch, f *frame.Frame, result *domain.BatchResult) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.optimize")
	defer span.End()

	evaluable := optimizer.Evaluable(r.cfg.Weights.Rules(), func(col string) bool {
		return batch.HasColumn(col) || fixedColumns[col]
	})

	stats, err := r.optimizer.Run(ctx, batch, f, r.cfg.Weights, evaluable)
	if err != nil {
		return err
	}

	// Duplicate-score optimization rides on the supplier-phase clusters.
	supplierIDs, _ := f.Ints(domain.DuplicateIDColumn(domain.IdentifierSupplierName))
	pairs, pairScores := r.detector.InvoicePairs(ctx, batch, supplierIDs)
	if err := r.optimizer.OptimizeDuplicates(ctx, batch, f, pairs, pairScores); err != nil {
		return err
	}

	result.Metadata.OptimizeMs = time.Since(start).Milliseconds()
	result.Metadata.RowsSkipped = stats.RowFailures
	result.Metadata.RulesOptimized = len(stats.Optimized)
	span.SetAttributes(
		attribute.Int("rules_optimized", len(stats.Optimized)),
		attribute.Int("rules_skipped", len(stats.Skipped)),
		attribute.Int("row_failures", stats.RowFailures),
	)
	slog.Info("rules optimized",
		"batch_id", batch.ID,
		"rows", batch.Len(),
		"optimized", stats.Optimized,
		"skipped", stats.Skipped,
		"row_failures", stats.RowFailures,
		"elapsed_ms", result.Metadata.OptimizeMs,
	)
	return nil
}

func (r *Runner) runBlend(ctx context.Context, batch *domain.Batch, f *frame.Frame, result *domain.BatchResult) error {
	start := time.Now()
	_, span := tracer.Start(ctx, "pipeline.blend")
	defer span.End()

	if err := blend.Blend(f, r.cfg.Weights); err != nil {
		return domain.E(domain.KindFatal, "pipeline.blend", err)
	}

	rollup := blend.Rollup(batch.Lines, f, r.cfg.Weights)
	result.Rollup = rollup
	result.Documents = len(rollup)
	for _, doc := range rollup {
		if doc.Deviation == 1 {
			result.Alerts++
		}
		if doc.BlendedRisk > result.MaxRisk {
			result.MaxRisk = doc.BlendedRisk
		}
	}

	result.Metadata.BlendMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Int("documents", result.Documents),
		attribute.Int("alerts", result.Alerts),
	)
	slog.Info("batch blended",
		"batch_id", batch.ID,
		"rows", batch.Len(),
		"documents", result.Documents,
		"alerts", result.Alerts,
		"max_risk", fmt.Sprintf("%.2f", result.MaxRisk),
		"elapsed_ms", result.Metadata.BlendMs,
	)
	return nil
}

// fixedColumns are the structural line fields every batch carries;
// only rule-flag columns vary by feed.
var fixedColumns = map[string]bool{
	"ACCOUNT_DOC_ID": true,
	"AMOUNT":         true,
	"INVOICE_DATE":   true,
	"POSTED_DATE":    true,
	"SUPPLIER_NAME":  true,
	"SUPPLIER_ID":    true,
	"INVOICE_NUMBER": true,
	"DUE_DATE":       true,
	"CREDIT_PERIOD":  true,
}
