// Package similarity scores invoice-number similarity with a rule-based
// edit-script classifier or a pretrained model.
package similarity

// editOp is a single character operation of a minimal edit script.
type editOp struct {
	// pos is the position in the source string the op applies at.
	pos int
	// ch is the character involved: the target character for inserts and
	// replacements, the source character for deletes.
	ch byte
}

// editScript computes a minimal edit script turning a into b and returns
// the ops in source-position order. The number of ops equals the
// Levenshtein distance.
func editScript(a, b string) []editOp {
	la, lb := len(a), len(b)

	d := make([][]int, la+1)
	for i := range d {
		d[i] = make([]int, lb+1)
		d[i][0] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j] = j
	}

	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			d[i][j] = min3(
				d[i-1][j]+1,      // delete a[i-1]
				d[i][j-1]+1,      // insert b[j-1]
				d[i-1][j-1]+cost, // match or replace
			)
		}
	}

	// Backtrace from the corner, collecting ops in reverse.
	var ops []editOp
	i, j := la, lb
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && a[i-1] == b[j-1] && d[i][j] == d[i-1][j-1]:
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			ops = append(ops, editOp{pos: i - 1, ch: b[j-1]})
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			ops = append(ops, editOp{pos: i - 1, ch: a[i-1]})
			i--
		default:
			ops = append(ops, editOp{pos: i, ch: b[j-1]})
			j--
		}
	}

	// Reverse into source-position order.
	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return ops
}

// allDigits reports whether every op character is a decimal digit.
func allDigits(ops []editOp) bool {
	for _, op := range ops {
		if op.ch < '0' || op.ch > '9' {
			return false
		}
	}
	return len(ops) > 0
}

// contiguousPrefix reports whether the op positions form one contiguous
// run starting strictly before index 3.
func contiguousPrefix(ops []editOp) bool {
	if len(ops) == 0 {
		return false
	}
	first := ops[0].pos
	if first >= 3 {
		return false
	}
	prev := first
	for _, op := range ops[1:] {
		if op.pos != prev && op.pos != prev+1 {
			return false
		}
		prev = op.pos
	}
	return true
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
