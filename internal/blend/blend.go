// Package blend folds the per-rule optimized scores into row-level and
// document-level risk verdicts.
package blend

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Blend computes the aggregate risk columns from the OPTIMIZED_<RULE>
// columns already on the frame:
//
//	RAW     = Σ weight[R] · OPTIMIZED_R
//	SCALED  = round2(RAW / max RAW in batch), 0 when the max is not positive
//	BLENDED = SCALED
//
// plus the deviation flag and the control-deviation rule list. Rules
// whose optimized column is absent contribute nothing. The rule list in
// CONTROL_DEVIATION follows the weight iteration order.
func Blend(f *frame.Frame, weights domain.RuleWeights) error {
	n := f.Len()

	type ruleCol struct {
		rule   string
		weight float64
		col    []float64
	}
	var cols []ruleCol
	for _, rw := range weights {
		col, ok := f.Floats(domain.OptimizedColumn(rw.Rule))
		if !ok {
			continue
		}
		cols = append(cols, ruleCol{rule: rw.Rule, weight: rw.Weight, col: col})
	}

	raw := make([]float64, n)
	for i := 0; i < n; i++ {
		for _, rc := range cols {
			raw[i] += rc.weight * rc.col[i]
		}
	}

	var maxRaw float64
	for _, v := range raw {
		if v > maxRaw {
			maxRaw = v
		}
	}

	scaled := make([]float64, n)
	blended := make([]float64, n)
	deviation := make([]int64, n)
	control := make([]string, n)
	for i := 0; i < n; i++ {
		if maxRaw > 0 && raw[i] > 0 {
			scaled[i] = round2(raw[i] / maxRaw)
		}
		blended[i] = scaled[i]
		if scaled[i] > 0 {
			deviation[i] = 1
		}

		var hits []string
		for _, rc := range cols {
			if rc.col[i] > 0 {
				hits = append(hits, rc.rule)
			}
		}
		control[i] = strings.Join(hits, ", ")
	}

	if err := f.AddFloats(domain.ColRawRisk, raw); err != nil {
		return err
	}
	if err := f.AddFloats(domain.ColScaledRisk, scaled); err != nil {
		return err
	}
	if err := f.AddFloats(domain.ColBlendedRisk, blended); err != nil {
		return err
	}
	if err := f.AddInts(domain.ColDeviation, deviation); err != nil {
		return err
	}
	return f.AddStrings(domain.ColControlDeviation, control)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
