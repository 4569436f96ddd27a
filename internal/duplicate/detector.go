package duplicate

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Detector runs the two-phase duplicate pipeline over a batch and
// appends the duplicate columns to the frame.
//
// Phase one clusters on supplier-name similarity within
// (|amount|, invoice date) blocks. Phase two clusters on invoice-number
// similarity, blocking by the phase-one cluster id. The first phase
// trades recall for the precision of the second.
type Detector struct {
	generator *Generator
	supplier  *Clusterer
	invoice   *Clusterer

	// SupplierFirst selects the two-phase order. When false both phases
	// block on (|amount|, date, supplier id) independently.
	SupplierFirst bool

	// IncludeSupplierInKey extends the supplier blocking key.
	IncludeSupplierInKey bool
}

// NewDetector wires a detector from the pipeline configuration.
func NewDetector(cfg domain.PipelineConfig, supplier, invoice *Clusterer) *Detector {
	return &Detector{
		generator:            &Generator{MaxBlockSize: cfg.MaxBlockSize},
		supplier:             supplier,
		invoice:              invoice,
		SupplierFirst:        cfg.SupplierFirst,
		IncludeSupplierInKey: cfg.IncludeSupplierInKey,
	}
}

// Stats summarizes one detector run for the orchestrator's span.
type Stats struct {
	SupplierPairs   int
	InvoicePairs    int
	BlocksDropped   int
	SupplierMatches int
	InvoiceMatches  int
}

// Run scores both duplicate models and appends their columns.
func (d *Detector) Run(ctx context.Context, batch *domain.Batch, f *frame.Frame) (Stats, error) {
	var stats Stats

	supplierNames := make([]string, len(batch.Lines))
	invoiceNumbers := make([]string, len(batch.Lines))
	for i := range batch.Lines {
		supplierNames[i] = batch.Lines[i].SupplierName
		invoiceNumbers[i] = batch.Lines[i].InvoiceNumber
	}

	// Phase one: supplier-name model.
	supplierKeys := SupplierKeys(batch.Lines, d.IncludeSupplierInKey)
	pairs, dropped := d.generator.Pairs(supplierKeys)
	stats.SupplierPairs = len(pairs)
	stats.BlocksDropped += dropped
	if dropped > 0 {
		slog.Warn("duplicate blocks dropped over size cap",
			"identifier", domain.IdentifierSupplierName,
			"dropped", dropped,
		)
	}

	supplierResult := d.supplier.Cluster(ctx, supplierNames, pairs)
	if err := appendCluster(f, domain.IdentifierSupplierName, supplierResult); err != nil {
		return stats, err
	}
	stats.SupplierMatches = countMatches(supplierResult.IDs)

	// Phase two: invoice-number model, blocked by the phase-one cluster.
	var invoiceKeys []string
	if d.SupplierFirst {
		invoiceKeys = ClusterKeys(supplierResult.IDs)
	} else {
		invoiceKeys = SupplierKeys(batch.Lines, true)
	}
	pairs, dropped = d.generator.Pairs(invoiceKeys)
	stats.InvoicePairs = len(pairs)
	stats.BlocksDropped += dropped
	if dropped > 0 {
		slog.Warn("duplicate blocks dropped over size cap",
			"identifier", domain.IdentifierInvoiceNumber,
			"dropped", dropped,
		)
	}

	invoiceResult := d.invoice.Cluster(ctx, invoiceNumbers, pairs)
	if err := appendCluster(f, domain.IdentifierInvoiceNumber, invoiceResult); err != nil {
		return stats, err
	}
	stats.InvoiceMatches = countMatches(invoiceResult.IDs)

	return stats, nil
}

// InvoicePairs exposes the second-phase pairs and scores for the
// duplicate score optimizer. Blocking mirrors Run: by the phase-one
// cluster id when SupplierFirst, otherwise by the supplier key tuple.
func (d *Detector) InvoicePairs(ctx context.Context, batch *domain.Batch, clusterIDs []int64) ([]Pair, []float64) {
	invoiceNumbers := make([]string, len(batch.Lines))
	for i := range batch.Lines {
		invoiceNumbers[i] = batch.Lines[i].InvoiceNumber
	}

	var keys []string
	if d.SupplierFirst {
		keys = ClusterKeys(clusterIDs)
	} else {
		keys = SupplierKeys(batch.Lines, true)
	}
	pairs, _ := d.generator.Pairs(keys)
	result := d.invoice.Cluster(ctx, invoiceNumbers, pairs)
	return pairs, result.PairScores
}

func appendCluster(f *frame.Frame, identifier string, res *ClusterResult) error {
	if err := f.AddInts(domain.DuplicateIDColumn(identifier), res.IDs); err != nil {
		return err
	}
	if err := f.AddLists(domain.DuplicateRiskColumn(identifier), res.Risks); err != nil {
		return err
	}
	if err := f.AddLists(domain.DuplicateSimilarityColumn(identifier), res.Similarities); err != nil {
		return err
	}
	return f.AddInts(domain.DuplicateFlagColumn(identifier), res.Flags)
}

func countMatches(ids []int64) int {
	n := 0
	for _, id := range ids {
		if id != domain.NoCluster {
			n++
		}
	}
	return n
}
