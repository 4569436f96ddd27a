package blend

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Rollup groups the blended frame by ACCOUNT_DOC_ID and aggregates
// every risk column by max. The control-deviation list is recomputed
// from the aggregated per-rule scores so a document names every rule
// any of its lines tripped, still in weight order. Documents appear in
// first-line order.
func Rollup(lines []domain.LineItem, f *frame.Frame, weights domain.RuleWeights) []domain.DocumentRollup {
	raw, _ := f.Floats(domain.ColRawRisk)
	scaled, _ := f.Floats(domain.ColScaledRisk)
	blended, _ := f.Floats(domain.ColBlendedRisk)
	deviation, _ := f.Ints(domain.ColDeviation)

	type ruleCol struct {
		rule string
		col  []float64
	}
	var cols []ruleCol
	for _, rw := range weights {
		if col, ok := f.Floats(domain.OptimizedColumn(rw.Rule)); ok {
			cols = append(cols, ruleCol{rule: rw.Rule, col: col})
		}
	}

	byDoc := make(map[string]*domain.DocumentRollup)
	var order []string
	for i := range lines {
		docID := lines[i].AccountDocID
		doc, seen := byDoc[docID]
		if !seen {
			doc = &domain.DocumentRollup{
				AccountDocID: docID,
				RuleScores:   make(map[string]float64, len(cols)),
			}
			byDoc[docID] = doc
			order = append(order, docID)
		}

		for _, rc := range cols {
			if rc.col[i] > doc.RuleScores[rc.rule] {
				doc.RuleScores[rc.rule] = rc.col[i]
			}
		}
		if raw != nil && raw[i] > doc.RawRisk {
			doc.RawRisk = raw[i]
		}
		if scaled != nil && scaled[i] > doc.ScaledRisk {
			doc.ScaledRisk = scaled[i]
		}
		if blended != nil && blended[i] > doc.BlendedRisk {
			doc.BlendedRisk = blended[i]
		}
		if deviation != nil && deviation[i] > doc.Deviation {
			doc.Deviation = deviation[i]
		}
	}

	out := make([]domain.DocumentRollup, 0, len(order))
	for _, docID := range order {
		doc := byDoc[docID]

		var hits []string
		for _, rc := range cols {
			if doc.RuleScores[rc.rule] > 0 {
				hits = append(hits, rc.rule)
			}
		}
		doc.ControlDeviation = strings.Join(hits, ", ")
		out = append(out, *doc)
	}
	return out
}
