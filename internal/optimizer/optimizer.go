package optimizer

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/duplicate"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/model"
)

// OptimizedRiskColumn carries the per-row mean of optimized duplicate
// pair scores.
const OptimizedRiskColumn = "OPTIMIZED_RISK"

// Stats summarizes one optimizer pass.
type Stats struct {
	Optimized   []string
	Skipped     []string
	RowFailures int
}

// Optimizer re-scores flagged rows through trained per-rule pipelines
// and writes the OPTIMIZED_<RULE> columns.
type Optimizer struct {
	loader *model.Loader
}

// New creates an optimizer over the given artifact loader.
func New(loader *model.Loader) *Optimizer {
	return &Optimizer{loader: loader}
}

// Run optimizes every weighted, evaluable rule and appends one
// OPTIMIZED_<RULE> column per rule. Rules without a trained model get a
// zero column. An already-present optimized column is left untouched.
func (o *Optimizer) Run(ctx context.Context, batch *domain.Batch, f *frame.Frame, weights domain.RuleWeights, evaluable []string) (Stats, error) {
	var stats Stats

	allowed := make(map[string]bool, len(evaluable))
	for _, r := range evaluable {
		allowed[r] = true
	}

	for _, rw := range weights {
		rule := rw.Rule
		col := domain.OptimizedColumn(rule)

		if f.Has(col) {
			stats.Skipped = append(stats.Skipped, rule)
			continue
		}
		if !allowed[rule] {
			stats.Skipped = append(stats.Skipped, rule)
			continue
		}

		scores, failures, err := o.scoreRule(ctx, batch, rule)
		if err != nil {
			if domain.IsFatal(err) {
				return stats, err
			}
			slog.Warn("rule optimization degraded to zero column",
				"rule", rule,
				"kind", string(domain.KindOf(err)),
				"error", err,
			)
			scores = make([]float64, batch.Len())
		}
		stats.RowFailures += failures

		if err := f.AddFloats(col, scores); err != nil {
			return stats, domain.E(domain.KindFatal, "optimizer.Run", err)
		}
		stats.Optimized = append(stats.Optimized, rule)
	}
	return stats, nil
}

// scoreRule predicts for the rows flagged by the rule and scatters the
// probabilities into a zero-initialized column.
func (o *Optimizer) scoreRule(ctx context.Context, batch *domain.Batch, rule string) ([]float64, int, error) {
	scores := make([]float64, batch.Len())

	var flagged []int
	for i := range batch.Lines {
		if batch.Lines[i].Flag(rule) {
			flagged = append(flagged, i)
		}
	}
	if len(flagged) == 0 {
		return scores, 0, nil
	}

	artifact, err := o.loader.Load(ctx, rule)
	if err != nil {
		return nil, 0, err
	}

	failures := 0
	for _, idx := range flagged {
		line := &batch.Lines[idx]
		p, err := artifact.PredictRow(line)
		if err != nil {
			failures++
			slog.Warn("row prediction failed",
				"rule", rule,
				"doc", line.AccountDocID,
				"line", line.LineID,
				"error", err,
			)
			continue
		}
		scores[idx] = p
	}
	return scores, failures, nil
}

// OptimizeDuplicates re-scores duplicate candidate pairs through the
// trained pair model and appends the per-row mean as OPTIMIZED_RISK.
// Without a model the upstream rule-based pair scores are aggregated
// unchanged.
func (o *Optimizer) OptimizeDuplicates(ctx context.Context, batch *domain.Batch, f *frame.Frame, pairs []duplicate.Pair, pairScores []float64) error {
	if f.Has(OptimizedRiskColumn) {
		return nil
	}

	scores := pairScores
	artifact, err := o.loader.Load(ctx, domain.IdentifierInvoiceNumber)
	if err == nil && artifact.Kind == model.KindPair {
		scores = make([]float64, len(pairs))
		for i, p := range pairs {
			a, b := &batch.Lines[p.A], &batch.Lines[p.B]
			prob, perr := artifact.Predict(feature.PairFeatures(a, b, a.RiskScore, b.RiskScore))
			if perr != nil {
				scores[i] = pairScores[i]
				continue
			}
			scores[i] = prob
		}
	}

	col := AggregatePairScores(batch.Len(), pairs, scores)
	if err := f.AddFloats(OptimizedRiskColumn, col); err != nil {
		return domain.E(domain.KindFatal, "optimizer.OptimizeDuplicates", err)
	}
	return nil
}
