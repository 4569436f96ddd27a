package optimizer

import (
	"github.com/opensource-finance/kestrel/internal/duplicate"
)

// AggregatePairScores folds pair-level scores back onto rows: each row
// gets the arithmetic mean of the scores of every pair it appears in,
// and rows in no pair get 0. The result is aligned to the row index.
func AggregatePairScores(n int, pairs []duplicate.Pair, scores []float64) []float64 {
	sums := make([]float64, n)
	counts := make([]int, n)
	for i, p := range pairs {
		if i >= len(scores) {
			break
		}
		sums[p.A] += scores[i]
		counts[p.A]++
		sums[p.B] += scores[i]
		counts[p.B]++
	}

	out := make([]float64, n)
	for i := range out {
		if counts[i] > 0 {
			out[i] = sums[i] / float64(counts[i])
		}
	}
	return out
}
