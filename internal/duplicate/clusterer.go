package duplicate

import (
	"context"
	"runtime"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/similarity"
)

// ClusterResult carries the per-row duplicate columns for one identifier.
type ClusterResult struct {
	// IDs holds the batch-unique cluster id per row, NoCluster for
	// singletons.
	IDs []int64

	// Risks and Similarities hold the accepted pair scores each matched
	// row participated in, for downstream audit.
	Risks        [][]float64
	Similarities [][]float64

	// Flags mirrors IDs != NoCluster.
	Flags []int64

	// PairScores is aligned to the input pair order.
	PairScores []float64
}

// Clusterer scores candidate pairs and assigns cluster ids by greedy
// union within blocks.
type Clusterer struct {
	scorer similarity.Scorer

	// Threshold is the percentage a pair's risk must exceed to be
	// accepted into a cluster.
	Threshold float64

	// Workers bounds the parallel pairwise scoring fan-out; zero means
	// NumCPU-1.
	Workers int
}

// NewClusterer creates a clusterer over the given directed scorer.
func NewClusterer(scorer similarity.Scorer, threshold float64) *Clusterer {
	if threshold <= 0 {
		threshold = similarity.DefaultThreshold
	}
	return &Clusterer{scorer: scorer, Threshold: threshold}
}

// Cluster scores the pairs over the given per-row values and groups rows
// whose accepted pairs connect them. Cluster ids start at 0 and are
// unique within the batch; rows in no accepted pair get NoCluster.
func (c *Clusterer) Cluster(ctx context.Context, values []string, pairs []Pair) *ClusterResult {
	n := len(values)
	res := &ClusterResult{
		IDs:          make([]int64, n),
		Risks:        make([][]float64, n),
		Similarities: make([][]float64, n),
		Flags:        make([]int64, n),
		PairScores:   make([]float64, len(pairs)),
	}
	for i := range res.IDs {
		res.IDs[i] = domain.NoCluster
	}
	if len(pairs) == 0 {
		return res
	}

	// Pairwise similarity is embarrassingly parallel; no shared state is
	// touched until the ordered gather below.
	results := make([]similarity.Result, len(pairs))
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
	}
	if workers < 1 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func(idx int, pair Pair) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = similarity.Symmetric(c.scorer, values[pair.A], values[pair.B])
		}(i, p)
	}
	wg.Wait()

	// Greedy union in pair order: once a row is placed it is not
	// reconsidered, so two accepted pairs bridging distinct clusters do
	// not merge them. Callers treat ids as a partition hint.
	var nextID int64
	threshold := c.Threshold / 100
	for i, p := range pairs {
		r := results[i]
		res.PairScores[i] = r.Risk
		if !r.Similar || r.Risk <= threshold {
			continue
		}

		a, b := p.A, p.B
		switch {
		case res.IDs[a] == domain.NoCluster && res.IDs[b] == domain.NoCluster:
			res.IDs[a] = nextID
			res.IDs[b] = nextID
			nextID++
		case res.IDs[a] != domain.NoCluster && res.IDs[b] == domain.NoCluster:
			res.IDs[b] = res.IDs[a]
		case res.IDs[a] == domain.NoCluster && res.IDs[b] != domain.NoCluster:
			res.IDs[a] = res.IDs[b]
		}

		res.Risks[a] = append(res.Risks[a], r.Risk)
		res.Risks[b] = append(res.Risks[b], r.Risk)
		res.Similarities[a] = append(res.Similarities[a], r.Score)
		res.Similarities[b] = append(res.Similarities[b], r.Score)
	}

	for i, id := range res.IDs {
		if id != domain.NoCluster {
			res.Flags[i] = 1
		}
	}
	return res
}
