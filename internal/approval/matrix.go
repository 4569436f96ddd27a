// Package approval implements the approval-matrix rule engine.
package approval

import (
	"errors"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNoBracket is returned when no matrix entry covers an amount.
var ErrNoBracket = errors.New("no approval bracket for amount")

// Matrix holds the amount-bracketed approval policy for one tenant.
// Brackets do not overlap, so the first match is the only match.
type Matrix struct {
	entries []domain.MatrixEntry
}

// NewMatrix wraps the given approval-matrix entries.
func NewMatrix(entries []domain.MatrixEntry) *Matrix {
	return &Matrix{entries: entries}
}

// Len returns the number of brackets.
func (m *Matrix) Len() int {
	return len(m.entries)
}

// Bracket resolves the unique entry with min <= amount < max and the set
// of required level numbers. Returns ErrNoBracket when no entry matches.
func (m *Matrix) Bracket(amount decimal.Decimal) (domain.MatrixEntry, []int, error) {
	for _, e := range m.entries {
		if e.Contains(amount) {
			return e, e.RequiredLevels(), nil
		}
	}
	return domain.MatrixEntry{}, nil, ErrNoBracket
}


// Directory indexes the user-approval reference table by user id for
// O(1) lookups.
type Directory struct {
	users map[int64]domain.UserApproval
}

// NewDirectory indexes the given user-approval entries. On duplicate
// user ids the first entry wins.
func NewDirectory(entries []domain.UserApproval) *Directory {
	users := make(map[int64]domain.UserApproval, len(entries))
	for _, e := range entries {
		if _, ok := users[e.UserID]; !ok {
			users[e.UserID] = e
		}
	}
	return &Directory{users: users}
}

// Len returns the number of indexed users.
func (d *Directory) Len() int {
	return len(d.users)
}

// User returns the approval entry for a user id; missing ids report
// ok=false.
func (d *Directory) User(id int64) (domain.UserApproval, bool) {
	u, ok := d.users[id]
	return u, ok
}
