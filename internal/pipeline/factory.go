package pipeline

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/approval"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/duplicate"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/optimizer"
	"github.com/opensource-finance/kestrel/internal/screen"
	"github.com/opensource-finance/kestrel/internal/similarity"
)

// Build wires a runner from pipeline configuration. The loader is
// tenant-scoped, so callers build one runner per tenant. screens may be
// nil when no screening rules are configured.
func Build(ctx context.Context, cfg domain.PipelineConfig, screens *screen.Engine, approvals *approval.Engine, loader *model.Loader) *Runner {
	supplier := duplicate.NewClusterer(similarity.NewRuleBased(cfg.SimilarityThreshold), cfg.SimilarityThreshold)
	invoice := duplicate.NewClusterer(invoiceScorer(ctx, cfg, loader), cfg.SimilarityThreshold)

	detector := duplicate.NewDetector(cfg, supplier, invoice)
	opt := optimizer.New(loader)

	return NewRunner(cfg, screens, approvals, detector, opt)
}

// invoiceScorer selects the invoice-number similarity backend. The ML
// backend needs a pair-kind classifier artifact; without one it degrades
// to rule-based scoring.
func invoiceScorer(ctx context.Context, cfg domain.PipelineConfig, loader *model.Loader) similarity.Scorer {
	rule := similarity.NewRuleBased(cfg.SimilarityThreshold)
	rule.ExactOnly = cfg.ExactMatchOnly

	if cfg.SimilarityBackend != domain.BackendML {
		return rule
	}

	artifact, err := loader.Load(ctx, domain.IdentifierInvoiceNumber)
	if err != nil || artifact.Kind != model.KindPair {
		slog.Warn("ML similarity backend unavailable, using rule-based scoring",
			"error", err,
		)
		return rule
	}

	ml := similarity.NewML(artifact, cfg.SimilarityThreshold)
	return ml
}
