// Package duplicate implements blocking-based duplicate invoice
// detection: candidate pair generation, pairwise similarity scoring and
// greedy clustering.
package duplicate

import (
	"fmt"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultMaxBlockSize caps blocks to bound the quadratic pair blow-up.
const DefaultMaxBlockSize = 1000

// Pair is one unordered candidate pair inside a blocking group.
// A < B always holds; GroupID is the monotonic block number.
type Pair struct {
	GroupID int64
	A, B    int
}

// Generator enumerates candidate pairs within blocking groups.
type Generator struct {
	// MaxBlockSize drops any block with more rows; zero means
	// DefaultMaxBlockSize.
	MaxBlockSize int
}

// Pairs groups rows by key and emits the C(n,2) unordered pairs of each
// block with more than one row. Rows with an empty key join no block.
// Blocks over the size cap are dropped entirely; the count of dropped
// blocks is returned so callers can alarm.
func (g *Generator) Pairs(keys []string) (pairs []Pair, dropped int) {
	maxSize := g.MaxBlockSize
	if maxSize <= 0 {
		maxSize = DefaultMaxBlockSize
	}

	// Block membership in first-appearance order so group numbers are
	// stable for a given key tuple.
	blocks := make(map[string][]int)
	var order []string
	for i, key := range keys {
		if key == "" {
			continue
		}
		if _, seen := blocks[key]; !seen {
			order = append(order, key)
		}
		blocks[key] = append(blocks[key], i)
	}

	var groupID int64
	for _, key := range order {
		rows := blocks[key]
		gid := groupID
		groupID++

		if len(rows) < 2 {
			continue
		}
		if len(rows) > maxSize {
			dropped++
			continue
		}

		for i := 0; i < len(rows); i++ {
			for j := i + 1; j < len(rows); j++ {
				pairs = append(pairs, Pair{GroupID: gid, A: rows[i], B: rows[j]})
			}
		}
	}
	return pairs, dropped
}

// SupplierKeys builds the supplier-model blocking keys over
// (|amount|, invoice date), optionally extended with the supplier id.
func SupplierKeys(lines []domain.LineItem, includeSupplier bool) []string {
	keys := make([]string, len(lines))
	for i := range lines {
		line := &lines[i]
		if line.InvoiceDate.IsZero() {
			continue
		}
		key := line.Amount.Abs().String() + "|" + line.InvoiceDate.Format("2006-01-02")
		if includeSupplier {
			key += "|" + line.SupplierID
		}
		keys[i] = key
	}
	return keys
}

// ClusterKeys builds the invoice-model blocking keys from the
// supplier-model cluster ids. Rows that joined no supplier cluster have
// no candidates in the second phase.
func ClusterKeys(clusterIDs []int64) []string {
	keys := make([]string, len(clusterIDs))
	for i, id := range clusterIDs {
		if id == domain.NoCluster {
			continue
		}
		keys[i] = strconv.FormatInt(id, 10)
	}
	return keys
}

// String implements fmt.Stringer for log output.
func (p Pair) String() string {
	return fmt.Sprintf("pair(%d: %d,%d)", p.GroupID, p.A, p.B)
}
