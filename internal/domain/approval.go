package domain

import "github.com/shopspring/decimal"

// ApprovalMode selects how the approval-matrix engine evaluates a batch.
type ApprovalMode int

const (
	// ModeUser checks each observed approver's own amount limits.
	ModeUser ApprovalMode = 1

	// ModeApproval checks observed approver levels against the bracket's
	// required level set.
	ModeApproval ApprovalMode = 2

	// ModeMixed flags a line only when both the user and the approval
	// verdicts flag it. The AND-combine prioritizes documents failing in
	// both regimes.
	ModeMixed ApprovalMode = 3
)

// Valid reports whether the mode is one of the three configured modes.
func (m ApprovalMode) Valid() bool {
	return m == ModeUser || m == ModeApproval || m == ModeMixed
}

func (m ApprovalMode) String() string {
	switch m {
	case ModeUser:
		return "USER_MATRIX"
	case ModeApproval:
		return "APPROVAL_MATRIX"
	case ModeMixed:
		return "MIXED"
	default:
		return "UNKNOWN"
	}
}

// MatrixEntry is one amount bracket of an approval matrix.
// Min <= amount < Max defines the bracket; Levels[i] marks approver level
// i+1 as required in that bracket. Brackets of the same matrix do not
// overlap and at least one level is required per bracket.
type MatrixEntry struct {
	ID     int64               `json:"id"`
	Min    decimal.Decimal     `json:"min"`
	Max    decimal.Decimal     `json:"max"`
	Levels [ApproverSlots]bool `json:"levels"`
}

// Contains reports whether the amount falls in this bracket.
func (e MatrixEntry) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(e.Min) && amount.LessThan(e.Max)
}

// RequiredLevels returns the level numbers (1..5) required by this bracket.
func (e MatrixEntry) RequiredLevels() []int {
	var levels []int
	for i, required := range e.Levels {
		if required {
			levels = append(levels, i+1)
		}
	}
	return levels
}

// UserApproval is one entry of the user-approval reference table: the
// authority band and amount limits for a single ERP user.
type UserApproval struct {
	UserID int64           `json:"userId"`
	Level  int             `json:"level"`
	Min    decimal.Decimal `json:"min"`
	Max    decimal.Decimal `json:"max"`
}
